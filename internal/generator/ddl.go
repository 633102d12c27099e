package generator

import (
	"fmt"
	"strings"

	"lambra/internal/dsl"
)

// системные колонки каждой сгенерированной таблицы
var systemColumns = []string{
	`"id" text primary key`,
	`"created_at" timestamp with time zone not null default now()`,
	`"updated_at" timestamp with time zone not null default now()`,
}

func mapType(f dsl.Field) (string, error) {
	switch k := f.Kind.(type) {
	case dsl.StringKind:
		return fmt.Sprintf("varchar(%d)", k.Length), nil
	case dsl.IntKind:
		return "bigint", nil
	case dsl.FloatKind:
		return "double precision", nil
	case dsl.BoolKind:
		return "boolean", nil
	case dsl.DateKind:
		return "date", nil
	case dsl.DateTimeKind:
		return "timestamp with time zone", nil
	case dsl.JSONKind:
		return "jsonb", nil
	default:
		return "", fmt.Errorf("unknown type: %s", f.Type())
	}
}

func column(f dsl.Field) string { return Snake(f.Name) }

// MigrationUp - CREATE TABLE + уникальные индексы для одной сущности.
func MigrationUp(e dsl.Entity) (string, error) {
	cols := append([]string(nil), systemColumns...)
	seen := map[string]struct{}{"id": {}, "created_at": {}, "updated_at": {}}

	for _, f := range e.Fields {
		name := column(f)
		if _, exists := seen[name]; exists {
			return "", fmt.Errorf("%s: field %q duplicates a system or another column", e.Name, f.Name)
		}
		seen[name] = struct{}{}

		typ, err := mapType(f)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", e.Name, f.Name, err)
		}
		null := "null"
		if f.Required {
			null = "not null"
		}
		cols = append(cols, fmt.Sprintf("%s %s %s", sqlIdent(name), typ, null))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- %s\n", e.Name)
	fmt.Fprintf(&b, "create table if not exists %s (\n  %s\n);\n", sqlIdent(e.TableName), strings.Join(cols, ",\n  "))
	for _, f := range e.Fields {
		if !f.Unique {
			continue
		}
		idx := strings.ToLower(e.TableName + "_" + column(f) + "_uq")
		fmt.Fprintf(&b, "create unique index if not exists %s on %s(%s);\n",
			sqlIdent(idx), sqlIdent(e.TableName), sqlIdent(column(f)))
	}
	return b.String(), nil
}

func MigrationDown(e dsl.Entity) string {
	return fmt.Sprintf("drop table if exists %s;\n", sqlIdent(e.TableName))
}
