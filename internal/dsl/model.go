package dsl

import (
	"encoding/json"
	"fmt"
	"time"

	"lambra/internal/lifecycle"
	"lambra/internal/schema"

	"gopkg.in/yaml.v3"
)

type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeBool     FieldType = "bool"
	TypeDate     FieldType = "date"
	TypeDateTime FieldType = "datetime"
	TypeJSON     FieldType = "json"
)

// FieldTypes - допустимые типы полей в порядке показа.
var FieldTypes = []FieldType{TypeString, TypeInt, TypeFloat, TypeBool, TypeDate, TypeDateTime, TypeJSON}

const DefaultStringLength = 255

// Kind - вариант поля по примитивному типу. Атрибуты, осмысленные только
// для одного типа, живут только в его варианте (length - у StringKind).
type Kind interface {
	Type() FieldType
}

type StringKind struct{ Length int }
type IntKind struct{}
type FloatKind struct{}
type BoolKind struct{}
type DateKind struct{}
type DateTimeKind struct{}
type JSONKind struct{}

// unknownKind сохраняет неизвестный тип до валидации, чтобы вернуть
// понятную ошибку по полю, а не падать на разборе.
type unknownKind struct{ name string }

func (StringKind) Type() FieldType { return TypeString }
func (IntKind) Type() FieldType { return TypeInt }
func (FloatKind) Type() FieldType { return TypeFloat }
func (BoolKind) Type() FieldType { return TypeBool }
func (DateKind) Type() FieldType { return TypeDate }
func (DateTimeKind) Type() FieldType { return TypeDateTime }
func (JSONKind) Type() FieldType { return TypeJSON }
func (k unknownKind) Type() FieldType { return FieldType(k.name) }

// ParseKind строит вариант по имени типа. length учитывается только для string
// (0 - значение по умолчанию).
func ParseKind(typ string, length int) Kind {
	switch FieldType(typ) {
	case TypeString:
		if length == 0 {
			length = DefaultStringLength
		}
		return StringKind{Length: length}
	case TypeInt:
		return IntKind{}
	case TypeFloat:
		return FloatKind{}
	case TypeBool:
		return BoolKind{}
	case TypeDate:
		return DateKind{}
	case TypeDateTime:
		return DateTimeKind{}
	case TypeJSON:
		return JSONKind{}
	default:
		return unknownKind{name: typ}
	}
}

// Field - поле сущности
type Field struct {
	Name        string
	Kind        Kind
	Required    bool
	Unique      bool
	Description string
}

func (f Field) Type() FieldType {
	if f.Kind == nil {
		return ""
	}
	return f.Kind.Type()
}

// Length - максимальная длина строки; 0 для остальных типов.
func (f Field) Length() int {
	if s, ok := f.Kind.(StringKind); ok {
		return s.Length
	}
	return 0
}

func (f Field) knownType() bool {
	switch f.Kind.(type) {
	case StringKind, IntKind, FloatKind, BoolKind, DateKind, DateTimeKind, JSONKind:
		return true
	}
	return false
}

// плоская форма поля на проводе и в YAML
type fieldWire struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required" yaml:"required,omitempty"`
	Unique      bool   `json:"unique" yaml:"unique,omitempty"`
	Length      int    `json:"length,omitempty" yaml:"length,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (f Field) wire() fieldWire {
	return fieldWire{
		Name:        f.Name,
		Type:        string(f.Type()),
		Required:    f.Required,
		Unique:      f.Unique,
		Length:      f.Length(),
		Description: f.Description,
	}
}

func (w fieldWire) field() Field {
	return Field{
		Name:        w.Name,
		Kind:        ParseKind(w.Type, w.Length),
		Required:    w.Required,
		Unique:      w.Unique,
		Description: w.Description,
	}
}

func (f Field) MarshalJSON() ([]byte, error) { return json.Marshal(f.wire()) }

func (f *Field) UnmarshalJSON(b []byte) error {
	var w fieldWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*f = w.field()
	return nil
}

func (f Field) MarshalYAML() (interface{}, error) { return f.wire(), nil }

func (f *Field) UnmarshalYAML(n *yaml.Node) error {
	var w fieldWire
	if err := n.Decode(&w); err != nil {
		return err
	}
	*f = w.field()
	return nil
}

// Entity - модель данных внутри проекта
type Entity struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Name        string     `json:"name"`
	TableName   string     `json:"table_name"`
	Description string     `json:"description,omitempty"`
	Fields      []Field    `json:"fields"`
	Endpoints   []Endpoint `json:"endpoints,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
)

var Methods = []Method{MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch}

// Endpoint - HTTP-операция над сущностью
type Endpoint struct {
	ID             string          `json:"id"`
	EntityID       string          `json:"entity_id"`
	Name           string          `json:"name"`
	Method         Method          `json:"method"`
	Path           string          `json:"path"`
	Description    string          `json:"description,omitempty"`
	RequireAuth    bool            `json:"require_auth"`
	RequestSchema  schema.Document `json:"request_schema"`
	ResponseSchema schema.Document `json:"response_schema"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Project - определение одного микросервиса
type Project struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Namespace    string           `json:"namespace"`
	Description  string           `json:"description,omitempty"`
	Status       lifecycle.Status `json:"status"`
	StatusDetail string           `json:"status_detail,omitempty"`
	Entities     []Entity         `json:"entities,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ===== входные спецификации =====

type ProjectSpec struct {
	Name        string `json:"name" yaml:"name"`
	Namespace   string `json:"namespace" yaml:"namespace"`
	Description string `json:"description" yaml:"description,omitempty"`
}

// ProjectPatch - правка проекта; nil - не менять. Статус меняется только через lifecycle.
type ProjectPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type EntitySpec struct {
	Name        string  `json:"name" yaml:"name"`
	TableName   string  `json:"table_name" yaml:"table_name"`
	Description string  `json:"description" yaml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// SchemaText - исходный текст схемы. На входе принимает JSON-строку,
// любой JSON-литерал или YAML-структуру.
type SchemaText string

func (t *SchemaText) UnmarshalJSON(b []byte) error {
	*t = SchemaText(schema.TextFromWire(b))
	return nil
}

func (t *SchemaText) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*t = SchemaText(n.Value)
		return nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("line %d: schema is not JSON-compatible: %w", n.Line, err)
	}
	*t = SchemaText(b)
	return nil
}

type EndpointSpec struct {
	Name           string     `json:"name" yaml:"name"`
	Method         string     `json:"method" yaml:"method"`
	Path           string     `json:"path" yaml:"path"`
	Description    string     `json:"description" yaml:"description,omitempty"`
	RequireAuth    *bool      `json:"require_auth" yaml:"require_auth,omitempty"`
	RequestSchema  SchemaText `json:"request_schema" yaml:"request_schema,omitempty"`
	ResponseSchema SchemaText `json:"response_schema" yaml:"response_schema,omitempty"`
}
