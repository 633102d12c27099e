package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodYAML = `
project: {name: User Service, namespace: user-svc}
entities:
  - name: User
    table_name: users
    fields:
      - {name: email, type: string, required: true, unique: true}
    endpoints:
      - {name: Create User, method: POST, path: /users, request_schema: '{"type":"object"}'}
`

const lintYAML = `
project: {name: Odd Service, namespace: odd-svc}
entities:
  - name: Thing
    table_name: things
    fields:
      - {name: title, type: string}
    endpoints:
      - {name: List, method: GET, path: /things, response_schema: '{"type":"banana"}'}
`

const badYAML = `
project: {name: Bad, namespace: Bad_NS}
entities:
  - name: Thing
    table_name: things
    fields: []
`

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := write(t, dir, "good.yaml", goodYAML)
	lint := write(t, dir, "lint.yaml", lintYAML)

	out, err := run("validate", good, lint)
	require.NoError(t, err)
	assert.Contains(t, out, "good.yaml: ok (user-svc, 1 entities)")
	assert.Contains(t, out, "warning entities[0].endpoints[0].response_schema")

	_, err = run("validate", "--strict", lint)
	assert.True(t, errors.Is(err, errInvalid))
}

func TestValidate_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := write(t, dir, "bad.yaml", badYAML)

	out, err := run("validate", bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInvalid)
	assert.Contains(t, out, "project.namespace")
	assert.Contains(t, out, "entities[0].fields")

	_, err = run("validate", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_Directory(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.yaml", goodYAML)
	write(t, dir, "b.yml", lintYAML)

	out, err := run("validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "user-svc")
	assert.Contains(t, out, "odd-svc")
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	good := write(t, dir, "good.yaml", goodYAML)
	out := filepath.Join(dir, "out")

	stdout, err := run("render", good, "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "user-svc/models/user.go")

	for _, p := range []string{
		"user-svc/migrations/0001_create_users.up.sql",
		"user-svc/migrations/0001_create_users.down.sql",
		"user-svc/models/user.go",
		"user-svc/api/routes.json",
	} {
		_, err := os.Stat(filepath.Join(out, p))
		assert.NoError(t, err, p)
	}

	bad := write(t, dir, "bad.yaml", badYAML)
	_, err = run("render", bad, "--out", out)
	assert.Error(t, err)
}
