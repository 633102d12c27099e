package generator

import (
	"bytes"
	"fmt"
	"go/format"
	"sort"
	"strings"
	"text/template"

	"lambra/internal/dsl"
)

type modelField struct {
	Name    string
	GoType  string
	Tag     string
	Comment string
	// проверка в Validate: "" для строк, пустой RawMessage для json
	Check string
}

type modelData struct {
	Package string
	Type    string
	Recv    string
	Table   string
	Comment string
	Imports []string
	Fields  []modelField
}

var modelTmpl = template.Must(template.New("model").Parse(`// Code generated by lambra. DO NOT EDIT.

package {{ .Package }}

import (
{{- range .Imports }}
	"{{ . }}"
{{- end }}
)

{{ if .Comment }}// {{ .Type }} - {{ .Comment }}{{ else }}// {{ .Type }} is stored in table {{ printf "%q" .Table }}.{{ end }}
type {{ .Type }} struct {
	ID        string    ` + "`" + `json:"id" db:"id"` + "`" + `
	CreatedAt time.Time ` + "`" + `json:"created_at" db:"created_at"` + "`" + `
	UpdatedAt time.Time ` + "`" + `json:"updated_at" db:"updated_at"` + "`" + `
{{- range .Fields }}
	{{ .Name }} {{ .GoType }} ` + "`" + `{{ .Tag }}` + "`" + `{{ if .Comment }} // {{ .Comment }}{{ end }}
{{- end }}
}

func ({{ .Type }}) TableName() string { return {{ printf "%q" .Table }} }

func ({{ .Recv }} *{{ .Type }}) Validate() error {
{{- range .Fields }}
{{- if .Check }}
	if {{ .Check }} {
		return fmt.Errorf("{{ .Name }} is required")
	}
{{- end }}
{{- end }}
	return nil
}
`))

func goType(f dsl.Field) (typ, imp string) {
	switch f.Kind.(type) {
	case dsl.StringKind:
		return "string", ""
	case dsl.IntKind:
		return "int64", ""
	case dsl.FloatKind:
		return "float64", ""
	case dsl.BoolKind:
		return "bool", ""
	case dsl.DateKind, dsl.DateTimeKind:
		return "time.Time", "time"
	case dsl.JSONKind:
		return "json.RawMessage", "encoding/json"
	}
	return "any", ""
}

// Model рендерит Go-структуру сущности. Необязательные поля - указатели,
// обязательные - значения (кроме json.RawMessage).
func Model(pkg string, e dsl.Entity) (string, error) {
	data := modelData{
		Package: pkg,
		Type:    Pascal(e.Name),
		Table:   e.TableName,
		Comment: oneLine(e.Description),
	}
	data.Recv = strings.ToLower(data.Type[:1])
	imports := map[string]struct{}{"time": {}}

	for _, f := range e.Fields {
		typ, imp := goType(f)
		if imp != "" {
			imports[imp] = struct{}{}
		}
		name := Pascal(f.Name)
		check := ""
		switch {
		case !f.Required && typ != "json.RawMessage":
			typ = "*" + typ
		case f.Required && typ == "string":
			check = data.Recv + "." + name + ` == ""`
		case f.Required && typ == "json.RawMessage":
			check = "len(" + data.Recv + "." + name + ") == 0"
		}
		col := column(f)
		if col == "id" || col == "created_at" || col == "updated_at" {
			return "", fmt.Errorf("%s: field %q duplicates a system column", e.Name, f.Name)
		}
		jsonName := col
		if !f.Required {
			jsonName += ",omitempty"
		}
		tag := fmt.Sprintf(`json:"%s" db:"%s"`, jsonName, col)
		if f.Required || f.Length() > 0 {
			var rules []string
			if f.Required {
				rules = append(rules, "required")
			}
			if n := f.Length(); n > 0 {
				rules = append(rules, fmt.Sprintf("max=%d", n))
			}
			tag += fmt.Sprintf(` validate:"%s"`, strings.Join(rules, ","))
		}
		data.Fields = append(data.Fields, modelField{
			Name:    name,
			GoType:  typ,
			Tag:     tag,
			Comment: oneLine(f.Description),
			Check:   check,
		})
		if check != "" {
			imports["fmt"] = struct{}{}
		}
	}
	for imp := range imports {
		data.Imports = append(data.Imports, imp)
	}
	sort.Strings(data.Imports)

	var buf bytes.Buffer
	if err := modelTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render model %s: %w", e.Name, err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("format model %s: %w", e.Name, err)
	}
	return string(src), nil
}

func oneLine(s string) string { return strings.Join(strings.Fields(s), " ") }
