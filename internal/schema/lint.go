package schema

import (
	"bytes"
	"errors"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const lintURL = "https://lambra.local/schemas/endpoint.json"

// Issue - замечание линтера JSON Schema.
type Issue struct {
	Location string `json:"location"`
	Message  string `json:"message"`
}

// Lint компилирует документ как JSON Schema (draft 2020-12) и возвращает
// нарушения метасхемы. Пустой результат - документ корректная схема.
func Lint(doc Document) []Issue {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(lintURL, bytes.NewReader(doc.Raw())); err != nil {
		return []Issue{{Location: "/", Message: err.Error()}}
	}
	if _, err := c.Compile(lintURL); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return leafIssues(ve, nil)
		}
		return []Issue{{Location: "/", Message: err.Error()}}
	}
	return nil
}

// берём только листья дерева причин - там конкретные сообщения
func leafIssues(ve *jsonschema.ValidationError, out []Issue) []Issue {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return append(out, Issue{Location: loc, Message: ve.Message})
	}
	for _, c := range ve.Causes {
		out = leafIssues(c, out)
	}
	return out
}
