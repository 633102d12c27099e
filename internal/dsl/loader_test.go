package dsl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lambra/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userServiceYAML = `
project:
  name: User Service
  namespace: user-svc
  description: accounts
entities:
  - name: User
    table_name: users
    fields:
      - {name: email, type: string, required: true, unique: true}
      - {name: nickname, type: string, length: 40}
      - {name: age, type: int}
    endpoints:
      - name: Create User
        method: post
        path: /users
        request_schema:
          type: object
          properties:
            email: {type: string}
      - name: Get User
        method: GET
        path: /users/{id}
        require_auth: false
        response_schema: '{"email":"string"}'
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition(strings.NewReader(userServiceYAML))
	require.NoError(t, err)
	require.NoError(t, def.Validate())

	assert.Equal(t, "user-svc", def.Project.Namespace)
	require.Len(t, def.Entities, 1)
	e := def.Entities[0]
	assert.Equal(t, "users", e.TableName)
	assert.Equal(t, 255, e.Fields[0].Length())
	assert.Equal(t, 40, e.Fields[1].Length())
	assert.Equal(t, TypeInt, e.Fields[2].Type())
	require.Len(t, e.Endpoints, 2)
	assert.JSONEq(t, `{"type":"object","properties":{"email":{"type":"string"}}}`, string(e.Endpoints[0].RequestSchema))

	p, err := def.Assemble()
	require.NoError(t, err)
	require.Len(t, p.Entities, 1)
	eps := p.Entities[0].Endpoints
	require.Len(t, eps, 2)
	assert.Equal(t, MethodPost, eps[0].Method)
	assert.True(t, eps[0].RequireAuth)
	assert.False(t, eps[1].RequireAuth)
	assert.True(t, eps[0].ResponseSchema.IsEmpty())
	assert.Equal(t, `{"email":"string"}`, eps[1].ResponseSchema.String())
}

func TestParseDefinition_UnknownKey(t *testing.T) {
	_, err := ParseDefinition(strings.NewReader("project:\n  name: x\n  colour: red\n"))
	assert.Error(t, err)

	_, err = ParseDefinition(strings.NewReader(""))
	assert.Error(t, err)
}

func TestDefinition_ValidatePaths(t *testing.T) {
	body := strings.Replace(userServiceYAML, "namespace: user-svc", "namespace: User_NS", 1)
	body = strings.Replace(body, `'{"email":"string"}'`, `'{invalid'`, 1)
	body += `
  - name: User
    table_name: users2
    fields: []
`
	def, err := ParseDefinition(strings.NewReader(body))
	require.NoError(t, err)

	verr := def.Validate()
	require.Error(t, verr)
	c := codes(verr)
	assert.Equal(t, apperr.CodeCharset, c["project.namespace"])
	assert.Equal(t, apperr.CodeInvalidJSON, c["entities[0].endpoints[1].response_schema"])
	assert.Equal(t, apperr.CodeDuplicate, c["entities[1].name"])
	assert.Equal(t, apperr.CodeRequired, c["entities[1].fields"])

	_, err = def.Assemble()
	assert.Error(t, err)
}

func TestDefinition_Lint(t *testing.T) {
	body := strings.Replace(userServiceYAML, "type: object", "type: banana", 1)
	def, err := ParseDefinition(strings.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, def.Validate())

	issues := def.Lint()
	require.NotEmpty(t, issues)
	assert.True(t, strings.HasPrefix(issues[0].Field, "entities[0].endpoints[0].request_schema"))
}

func TestLoadAllDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "users.yaml", userServiceYAML)
	writeFile(t, dir, "nested/orders.yml", strings.Replace(userServiceYAML, "user-svc", "orders", 1))
	writeFile(t, dir, "README.md", "not a definition")

	defs, err := LoadAllDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "orders", defs[0].Project.Namespace)
	assert.Equal(t, "user-svc", defs[1].Project.Namespace)
	assert.Equal(t, filepath.Join(dir, "users.yaml"), defs[1].Source)

	writeFile(t, dir, "dup.yaml", userServiceYAML)
	_, err = LoadAllDefinitions(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate namespace")
}
