package dsl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lambra/internal/apperr"
	"lambra/internal/lifecycle"

	"gopkg.in/yaml.v3"
)

// Definition - файл с описанием проекта целиком:
//
//	project:
//	  name: User Service
//	  namespace: user-svc
//	entities:
//	  - name: User
//	    table_name: users
//	    fields:
//	      - {name: email, type: string, required: true, unique: true}
//	    endpoints:
//	      - {name: Create User, method: POST, path: /users}
type Definition struct {
	Project  ProjectSpec        `yaml:"project"`
	Entities []EntityDefinition `yaml:"entities"`

	// файл, из которого прочитано (для сообщений)
	Source string `yaml:"-"`
}

type EntityDefinition struct {
	EntitySpec `yaml:",inline"`
	Endpoints  []EndpointSpec `yaml:"endpoints,omitempty"`
}

// ParseDefinition читает одно описание из YAML.
func ParseDefinition(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty definition")
		}
		return nil, err
	}
	return &def, nil
}

// LoadDefinitionFile читает и разбирает файл описания.
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	def, err := ParseDefinition(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	def.Source = path
	return def, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// LoadAllDefinitions обходит каталог и читает все *.yaml/*.yml.
// Namespace должен быть уникален в пределах каталога. Результат отсортирован по namespace.
func LoadAllDefinitions(root string) ([]*Definition, error) {
	byNS := make(map[string]*Definition)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !isYAML(d.Name()) {
			return nil
		}
		def, err := LoadDefinitionFile(path)
		if err != nil {
			return err
		}
		ns := def.Project.Namespace
		if ns == "" {
			return fmt.Errorf("project in %s has no namespace", path)
		}
		if prev, exists := byNS[ns]; exists {
			return fmt.Errorf("duplicate namespace %q (files: %s, %s)", ns, prev.Source, path)
		}
		byNS[ns] = def
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Definition, 0, len(byNS))
	for _, def := range byNS {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project.Namespace < out[j].Project.Namespace })
	return out, nil
}

// Validate прогоняет все проверки модели и возвращает ошибки с полными путями
// (entities[0].endpoints[1].request_schema). nil - описание корректно.
func (d *Definition) Validate() error {
	var errs []apperr.FieldError
	errs = append(errs, prefixed("project.", ValidateProjectSpec(d.Project))...)

	seen := make(map[string]int, len(d.Entities))
	for i, e := range d.Entities {
		p := fmt.Sprintf("entities[%d].", i)
		errs = append(errs, prefixed(p, ValidateEntitySpec(e.EntitySpec))...)
		if j, dup := seen[e.Name]; dup && e.Name != "" {
			errs = append(errs, ferr(apperr.CodeDuplicate, p+"name",
				fmt.Sprintf("duplicate entity name %q (also entities[%d])", e.Name, j)))
		} else {
			seen[e.Name] = i
		}
		for k, ep := range e.Endpoints {
			_, err := BuildEndpoint(ep)
			errs = append(errs, prefixed(fmt.Sprintf("%sendpoints[%d].", p, k), err)...)
		}
	}
	return asError(errs)
}

// Lint - строгая проверка схем всех эндпоинтов описания.
func (d *Definition) Lint() []apperr.FieldError {
	var out []apperr.FieldError
	for i, e := range d.Entities {
		for k, spec := range e.Endpoints {
			ep, err := BuildEndpoint(spec)
			if err != nil {
				continue
			}
			for _, fe := range LintEndpoint(ep) {
				fe.Field = fmt.Sprintf("entities[%d].endpoints[%d].%s", i, k, fe.Field)
				out = append(out, fe)
			}
		}
	}
	return out
}

// Assemble собирает Project с сущностями и эндпоинтами без идентификаторов
// (для офлайн-рендера). Описание должно быть валидным.
func (d *Definition) Assemble() (Project, error) {
	if err := d.Validate(); err != nil {
		return Project{}, err
	}
	p := Project{
		Name:        strings.TrimSpace(d.Project.Name),
		Namespace:   d.Project.Namespace,
		Description: d.Project.Description,
		Status:      lifecycle.Pending,
	}
	for _, e := range d.Entities {
		ent := Entity{
			Name:        strings.TrimSpace(e.Name),
			TableName:   strings.TrimSpace(e.TableName),
			Description: e.Description,
			Fields:      append([]Field(nil), e.Fields...),
		}
		for _, spec := range e.Endpoints {
			ep, _ := BuildEndpoint(spec)
			ent.Endpoints = append(ent.Endpoints, ep)
		}
		p.Entities = append(p.Entities, ent)
	}
	return p, nil
}

func prefixed(prefix string, err error) []apperr.FieldError {
	fields := apperr.FieldsOf(err)
	out := make([]apperr.FieldError, 0, len(fields))
	for _, f := range fields {
		f.Field = prefix + f.Field
		out = append(out, f)
	}
	return out
}
