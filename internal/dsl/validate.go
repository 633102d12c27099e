package dsl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"lambra/internal/apperr"
	"lambra/internal/schema"
)

// Ограничения проекта
const (
	ProjectNameMin      = 3
	ProjectNameMax      = 100
	NamespaceMin        = 3
	NamespaceMax        = 50
	DescriptionMax      = 500
	EndpointDescription = 500
)

var namespaceRe = regexp.MustCompile(`^[a-z0-9-]+$`)

func ferr(code, field, msg string) apperr.FieldError {
	return apperr.Field(code, field, msg)
}

func asError(errs []apperr.FieldError) error {
	if len(errs) == 0 {
		return nil
	}
	return apperr.NewValidation(errs...)
}

// ValidateProjectSpec проверяет имя, namespace и описание проекта.
func ValidateProjectSpec(s ProjectSpec) error {
	var errs []apperr.FieldError
	errs = append(errs, checkName("name", s.Name)...)
	errs = append(errs, checkNamespace(s.Namespace)...)
	errs = append(errs, checkDescription("description", s.Description)...)
	return asError(errs)
}

// ValidateProjectPatch - те же правила для изменяемых полей.
func ValidateProjectPatch(p ProjectPatch) error {
	var errs []apperr.FieldError
	if p.Name != nil {
		errs = append(errs, checkName("name", *p.Name)...)
	}
	if p.Description != nil {
		errs = append(errs, checkDescription("description", *p.Description)...)
	}
	return asError(errs)
}

func checkName(field, name string) []apperr.FieldError {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	switch {
	case n == 0:
		return []apperr.FieldError{ferr(apperr.CodeRequired, field, "Field '"+field+"' is required")}
	case n < ProjectNameMin:
		return []apperr.FieldError{ferr(apperr.CodeTooShort, field, fmt.Sprintf("must be at least %d characters", ProjectNameMin))}
	case n > ProjectNameMax:
		return []apperr.FieldError{ferr(apperr.CodeTooLong, field, fmt.Sprintf("must be at most %d characters", ProjectNameMax))}
	}
	return nil
}

func checkNamespace(ns string) []apperr.FieldError {
	n := len(ns)
	switch {
	case n == 0:
		return []apperr.FieldError{ferr(apperr.CodeRequired, "namespace", "Field 'namespace' is required")}
	case !namespaceRe.MatchString(ns):
		return []apperr.FieldError{ferr(apperr.CodeCharset, "namespace", "only lowercase letters, digits and '-' are allowed")}
	case n < NamespaceMin:
		return []apperr.FieldError{ferr(apperr.CodeTooShort, "namespace", fmt.Sprintf("must be at least %d characters", NamespaceMin))}
	case n > NamespaceMax:
		return []apperr.FieldError{ferr(apperr.CodeTooLong, "namespace", fmt.Sprintf("must be at most %d characters", NamespaceMax))}
	}
	return nil
}

func checkDescription(field, d string) []apperr.FieldError {
	if utf8.RuneCountInString(d) > DescriptionMax {
		return []apperr.FieldError{ferr(apperr.CodeTooLong, field, fmt.Sprintf("must be at most %d characters", DescriptionMax))}
	}
	return nil
}

// ValidateEntitySpec проверяет сущность целиком: имя, таблицу и весь список полей.
func ValidateEntitySpec(s EntitySpec) error {
	var errs []apperr.FieldError
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, ferr(apperr.CodeRequired, "name", "Field 'name' is required"))
	}
	if strings.TrimSpace(s.TableName) == "" {
		errs = append(errs, ferr(apperr.CodeRequired, "table_name", "Field 'table_name' is required"))
	}
	errs = append(errs, checkDescription("description", s.Description)...)
	errs = append(errs, checkFields(s.Fields)...)
	return asError(errs)
}

func checkFields(fields []Field) []apperr.FieldError {
	if len(fields) == 0 {
		return []apperr.FieldError{ferr(apperr.CodeRequired, "fields", "at least one field is required")}
	}
	var errs []apperr.FieldError
	seen := make(map[string]int, len(fields))
	for i, f := range fields {
		path := fmt.Sprintf("fields[%d]", i)
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, ferr(apperr.CodeRequired, path+".name", "field name is required"))
		} else if j, dup := seen[f.Name]; dup {
			errs = append(errs, ferr(apperr.CodeDuplicate, path+".name",
				fmt.Sprintf("duplicate field name %q (also fields[%d])", f.Name, j)))
		} else {
			seen[f.Name] = i
		}

		switch {
		case f.Type() == "":
			errs = append(errs, ferr(apperr.CodeRequired, path+".type", "field type is required"))
		case !f.knownType():
			errs = append(errs, ferr(apperr.CodeUnknownType, path+".type",
				fmt.Sprintf("unknown type %q (allowed: %s)", f.Type(), joinTypes())))
		}
		if s, ok := f.Kind.(StringKind); ok && s.Length <= 0 {
			errs = append(errs, ferr(apperr.CodeInvalid, path+".length", "length must be a positive integer"))
		}
	}
	return errs
}

func joinTypes() string {
	parts := make([]string, len(FieldTypes))
	for i, t := range FieldTypes {
		parts[i] = string(t)
	}
	return strings.Join(parts, "|")
}

// ParseMethod нормализует HTTP-метод (регистр не важен).
func ParseMethod(m string) (Method, bool) {
	up := Method(strings.ToUpper(strings.TrimSpace(m)))
	for _, allowed := range Methods {
		if up == allowed {
			return up, true
		}
	}
	return "", false
}

// BuildEndpoint проверяет спецификацию и возвращает готовый Endpoint
// (без id/entity_id/времени). Ошибки собираются по всем полям сразу.
func BuildEndpoint(s EndpointSpec) (Endpoint, error) {
	var errs []apperr.FieldError
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, ferr(apperr.CodeRequired, "name", "Field 'name' is required"))
	}
	if strings.TrimSpace(s.Path) == "" {
		errs = append(errs, ferr(apperr.CodeRequired, "path", "Field 'path' is required"))
	}
	method, ok := ParseMethod(s.Method)
	if !ok {
		errs = append(errs, ferr(apperr.CodeInvalid, "method",
			fmt.Sprintf("method %q is not one of GET|POST|PUT|DELETE|PATCH", s.Method)))
	}
	if utf8.RuneCountInString(s.Description) > EndpointDescription {
		errs = append(errs, ferr(apperr.CodeTooLong, "description", fmt.Sprintf("must be at most %d characters", EndpointDescription)))
	}
	req, e := parseSchemaField("request_schema", s.RequestSchema)
	errs = append(errs, e...)
	resp, e := parseSchemaField("response_schema", s.ResponseSchema)
	errs = append(errs, e...)

	if len(errs) > 0 {
		return Endpoint{}, apperr.NewValidation(errs...)
	}

	requireAuth := true
	if s.RequireAuth != nil {
		requireAuth = *s.RequireAuth
	}
	return Endpoint{
		Name:           strings.TrimSpace(s.Name),
		Method:         method,
		Path:           strings.TrimSpace(s.Path),
		Description:    s.Description,
		RequireAuth:    requireAuth,
		RequestSchema:  req,
		ResponseSchema: resp,
	}, nil
}

func parseSchemaField(field string, text SchemaText) (schema.Document, []apperr.FieldError) {
	doc, err := schema.Validate(string(text))
	if err == nil {
		return doc, nil
	}
	var se *schema.SyntaxError
	if errors.As(err, &se) {
		return schema.Document{}, []apperr.FieldError{ferr(apperr.CodeInvalidJSON, field, se.Error())}
	}
	return schema.Document{}, []apperr.FieldError{ferr(apperr.CodeInvalidJSON, field, err.Error())}
}

// LintEndpoint - строгая проверка схем эндпоинта как JSON Schema.
func LintEndpoint(ep Endpoint) []apperr.FieldError {
	var errs []apperr.FieldError
	for _, it := range []struct {
		field string
		doc   schema.Document
	}{{"request_schema", ep.RequestSchema}, {"response_schema", ep.ResponseSchema}} {
		for _, is := range schema.Lint(it.doc) {
			errs = append(errs, ferr(apperr.CodeInvalidSchema, it.field, is.Location+": "+is.Message))
		}
	}
	return errs
}
