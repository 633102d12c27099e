// Package generator рендерит артефакты сервиса по определению проекта:
// миграции (up/down), Go-модели и манифест эндпоинтов.
package generator

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"lambra/internal/dsl"

	"github.com/hashicorp/go-multierror"
)

const ModelsPackage = "models"

type Artifact struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Entity - артефакты одной сущности; seq - номер миграции (с 1).
func Entity(e dsl.Entity, seq int) ([]Artifact, error) {
	up, err := MigrationUp(e)
	if err != nil {
		return nil, err
	}
	model, err := Model(ModelsPackage, e)
	if err != nil {
		return nil, err
	}
	base := fmt.Sprintf("%04d_create_%s", seq, Snake(e.TableName))
	return []Artifact{
		{Path: path.Join("migrations", base+".up.sql"), Content: up},
		{Path: path.Join("migrations", base+".down.sql"), Content: MigrationDown(e)},
		{Path: modelPath(e), Content: model},
	}, nil
}

func modelPath(e dsl.Entity) string { return path.Join(ModelsPackage, Snake(e.Name)+".go") }

type route struct {
	Entity         string          `json:"entity"`
	Name           string          `json:"name"`
	Method         dsl.Method      `json:"method"`
	Path           string          `json:"path"`
	RequireAuth    bool            `json:"require_auth"`
	RequestSchema  json.RawMessage `json:"request_schema"`
	ResponseSchema json.RawMessage `json:"response_schema"`
}

// Project - все артефакты проекта. Сущности нумеруются в порядке определения.
func Project(p dsl.Project) ([]Artifact, error) {
	if err := checkCollisions(p.Entities); err != nil {
		return nil, err
	}
	var out []Artifact
	routes := []route{}
	for i, e := range p.Entities {
		arts, err := Entity(e, i+1)
		if err != nil {
			return nil, err
		}
		out = append(out, arts...)
		for _, ep := range e.Endpoints {
			routes = append(routes, route{
				Entity:         e.Name,
				Name:           ep.Name,
				Method:         ep.Method,
				Path:           ep.Path,
				RequireAuth:    ep.RequireAuth,
				RequestSchema:  ep.RequestSchema.Raw(),
				ResponseSchema: ep.ResponseSchema.Raw(),
			})
		}
	}
	manifest, err := json.MarshalIndent(struct {
		Service   string  `json:"service"`
		Namespace string  `json:"namespace"`
		Routes    []route `json:"routes"`
	}{p.Name, p.Namespace, routes}, "", "  ")
	if err != nil {
		return nil, err
	}
	out = append(out, Artifact{Path: "api/routes.json", Content: string(manifest) + "\n"})
	return out, nil
}

// checkCollisions - имена сущностей уникальны с учётом регистра, а Go-тип,
// файл модели и таблица (индексы в нижнем регистре) - нет.
func checkCollisions(entities []dsl.Entity) error {
	var result *multierror.Error
	check := func(seen map[string]string, key, what, entity string) {
		if prev, ok := seen[key]; ok {
			result = multierror.Append(result, fmt.Errorf("entities %q and %q both produce %s %s", prev, entity, what, key))
			return
		}
		seen[key] = entity
	}
	types := map[string]string{}
	files := map[string]string{}
	tables := map[string]string{}
	for _, e := range entities {
		check(types, Pascal(e.Name), "type", e.Name)
		check(files, modelPath(e), "file", e.Name)
		check(tables, strings.ToLower(e.TableName), "table", e.Name)
	}
	return result.ErrorOrNil()
}
