// Package schema проверяет тексты request/response схем эндпоинтов.
//
// Минимальный контракт - синтаксически корректный JSON; пустой текст
// эквивалентен {} (без ограничений). Семантическая проверка JSON Schema
// вынесена в Lint и по умолчанию не блокирует.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const emptyObject = "{}"

// Document - провалидированный и нормализованный (compact) JSON.
type Document struct {
	raw json.RawMessage
}

// Empty - документ {}.
func Empty() Document { return Document{raw: json.RawMessage(emptyObject)} }

// SyntaxError - текст не разбирается как JSON.
type SyntaxError struct {
	Offset int64
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid JSON at line %d, column %d: %s", e.Line, e.Column, e.Msg)
	}
	return "invalid JSON: " + e.Msg
}

// Validate разбирает текст схемы. Чистая функция.
func Validate(rawText string) (Document, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return Empty(), nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		var se *json.SyntaxError
		if errors.As(err, &se) {
			line, col := position(text, se.Offset)
			return Document{}, &SyntaxError{Offset: se.Offset, Line: line, Column: col, Msg: se.Error()}
		}
		return Document{}, &SyntaxError{Msg: err.Error()}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(text)); err != nil {
		return Document{}, &SyntaxError{Msg: err.Error()}
	}
	return Document{raw: buf.Bytes()}, nil
}

// MustValidate - для констант и тестов.
func MustValidate(rawText string) Document {
	d, err := Validate(rawText)
	if err != nil {
		panic(err)
	}
	return d
}

// TextFromWire превращает значение из запроса в текст схемы:
// JSON-строка разворачивается ("{\"a\":1}" -> {"a":1}), null/отсутствие -> "",
// любое другое JSON-значение берётся как есть.
func TextFromWire(raw json.RawMessage) string {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return ""
	}
	if t[0] == '"' {
		var s string
		if err := json.Unmarshal(t, &s); err == nil {
			return s
		}
	}
	return string(t)
}

func (d Document) Raw() json.RawMessage {
	if len(d.raw) == 0 {
		return json.RawMessage(emptyObject)
	}
	return d.raw
}

func (d Document) String() string { return string(d.Raw()) }

// IsEmpty - документ без ограничений.
func (d Document) IsEmpty() bool { return d.String() == emptyObject }

func (d Document) MarshalJSON() ([]byte, error) { return d.Raw(), nil }

func (d *Document) UnmarshalJSON(data []byte) error {
	doc, err := Validate(TextFromWire(data))
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

// position считает строку/колонку (1-based) по байтовому смещению.
func position(text string, offset int64) (line, col int) {
	if offset > int64(len(text)) {
		offset = int64(len(text))
	}
	line, col = 1, 1
	for i := int64(0); i < offset; i++ {
		if text[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
