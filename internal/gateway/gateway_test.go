package gateway

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"lambra/internal/apperr"
	"lambra/internal/dsl"
	"lambra/internal/engine"
	"lambra/internal/lifecycle"
	"lambra/internal/lock"
	"lambra/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu    sync.Mutex
	subs  []engine.Submission
	err   error
	delay time.Duration
}

func (f *fakeEngine) Submit(_ context.Context, s engine.Submission) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subs = append(f.subs, s)
	return nil
}

func (f *fakeEngine) submissions() []engine.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Submission(nil), f.subs...)
}

func newService(t *testing.T, opts Options) (*Service, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	return New(store.NewMemory(), eng, lock.NewLocal(), opts), eng
}

func userFields() []dsl.Field {
	return []dsl.Field{
		{Name: "email", Kind: dsl.StringKind{Length: 255}, Required: true, Unique: true},
		{Name: "age", Kind: dsl.IntKind{}},
		{Name: "profile", Kind: dsl.JSONKind{}},
	}
}

func userService(t *testing.T, svc *Service) (dsl.Project, dsl.Entity) {
	t.Helper()
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, dsl.ProjectSpec{Name: "User Service", Namespace: "user-svc"})
	require.NoError(t, err)
	e, err := svc.AddEntity(ctx, p.ID, dsl.EntitySpec{Name: "User", TableName: "users", Fields: userFields()})
	require.NoError(t, err)
	return p, e
}

func TestUserServiceDefinition(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()
	p, e := userService(t, svc)
	assert.Equal(t, lifecycle.Pending, p.Status)

	ep, err := svc.AddEndpoint(ctx, e.ID, dsl.EndpointSpec{
		Name: "Create User", Method: "post", Path: "/users",
		RequestSchema: `{"email":"string"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, dsl.MethodPost, ep.Method)
	assert.True(t, ep.RequireAuth)
	assert.Equal(t, e.ID, ep.EntityID)

	got, err := svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Entities, 1)
	assert.Equal(t, []string{"email", "age", "profile"}, fieldNames(got.Entities[0].Fields))
	require.Len(t, got.Entities[0].Endpoints, 1)
	assert.Equal(t, `{"email":"string"}`, got.Entities[0].Endpoints[0].RequestSchema.String())
	assert.True(t, got.Entities[0].Endpoints[0].ResponseSchema.IsEmpty())

	all, err := svc.ListProjectEndpoints(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func fieldNames(fs []dsl.Field) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

func TestAddEndpoint_InvalidSchemaLeavesNothing(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()
	_, e := userService(t, svc)

	_, err := svc.AddEndpoint(ctx, e.ID, dsl.EndpointSpec{
		Name: "Create User", Method: "POST", Path: "/users", RequestSchema: "{invalid",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	fields := apperr.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, apperr.CodeInvalidJSON, fields[0].Code)
	assert.Equal(t, "request_schema", fields[0].Field)

	eps, err := svc.ListEndpoints(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, eps)
}

func TestAddEndpoint_UnknownEntity(t *testing.T) {
	svc, _ := newService(t, Options{})
	_, err := svc.AddEndpoint(context.Background(), "nope", dsl.EndpointSpec{Name: "x", Method: "GET", Path: "/x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStrictSchemas(t *testing.T) {
	ctx := context.Background()
	spec := dsl.EndpointSpec{Name: "List", Method: "GET", Path: "/users", ResponseSchema: `{"type":"banana"}`}

	lax, _ := newService(t, Options{})
	_, e := userService(t, lax)
	ep, err := lax.AddEndpoint(ctx, e.ID, spec)
	require.NoError(t, err)
	issues, err := lax.LintEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	require.NotEmpty(t, issues)
	assert.Equal(t, "response_schema", issues[0].Field)

	strict, _ := newService(t, Options{StrictSchemas: true})
	_, e = userService(t, strict)
	_, err = strict.AddEndpoint(ctx, e.ID, spec)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidSchema, apperr.FieldsOf(err)[0].Code)
}

func TestCreateProject_Validation(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()

	_, err := svc.CreateProject(ctx, dsl.ProjectSpec{Name: "User Service", Namespace: "User_NS"})
	require.Error(t, err)
	fields := apperr.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, "namespace", fields[0].Field)
	assert.Equal(t, apperr.CodeCharset, fields[0].Code)

	_, err = svc.CreateProject(ctx, dsl.ProjectSpec{Name: "ab", Namespace: "ok-ns"})
	assert.Equal(t, apperr.CodeTooShort, apperr.FieldsOf(err)[0].Code)

	page, err := svc.ListProjects(ctx, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestListProjects_Pagination(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()
	for _, ns := range []string{"svc-a", "svc-b", "svc-c"} {
		_, err := svc.CreateProject(ctx, dsl.ProjectSpec{Name: "Service " + ns, Namespace: ns})
		require.NoError(t, err)
	}

	page, err := svc.ListProjects(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "svc-c", page.Items[0].Namespace)

	page, err = svc.ListProjects(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "svc-a", page.Items[0].Namespace)

	page, err = svc.ListProjects(ctx, 5, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestListProjects_HugePage(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()
	_, err := svc.CreateProject(ctx, dsl.ProjectSpec{Name: "Only", Namespace: "only-svc"})
	require.NoError(t, err)

	for _, pg := range []int{1 << 62, math.MaxInt} {
		page, err := svc.ListProjects(ctx, pg, 20)
		require.NoError(t, err, pg)
		assert.Empty(t, page.Items)
		assert.Equal(t, pg, page.Page)
		assert.Equal(t, 1, page.Total)
		assert.Equal(t, 1, page.TotalPages)
	}
}

func TestNormalizePage(t *testing.T) {
	cases := []struct{ page, limit, wantPage, wantLimit int }{
		{0, 0, 1, DefaultLimit},
		{-3, 10, 1, 10},
		{2, 500, 2, MaxLimit},
	}
	for _, c := range cases {
		p, l := NormalizePage(c.page, c.limit)
		assert.Equal(t, c.wantPage, p)
		assert.Equal(t, c.wantLimit, l)
	}
}

func TestGenerate_SubmitsDefinition(t *testing.T) {
	svc, eng := newService(t, Options{CallbackURL: "http://lambra.local/"})
	ctx := context.Background()
	p, _ := userService(t, svc)

	def, err := svc.Generate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Generating, def.Status)

	subs := eng.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, engine.ModeGenerate, subs[0].Mode)
	assert.Equal(t, "http://lambra.local/api/v1/projects/"+p.ID+"/status", subs[0].CallbackURL)
	require.Len(t, subs[0].Definition.Entities, 1)
	assert.Equal(t, "users", subs[0].Definition.Entities[0].TableName)
}

func TestGenerate_Twice(t *testing.T) {
	svc, eng := newService(t, Options{})
	ctx := context.Background()
	p, _ := userService(t, svc)

	_, err := svc.Generate(ctx, p.ID)
	require.NoError(t, err)
	_, err = svc.Generate(ctx, p.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Len(t, eng.submissions(), 1)

	got, err := svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Generating, got.Status)
}

func TestGenerate_Concurrent(t *testing.T) {
	svc, eng := newService(t, Options{})
	eng.delay = 5 * time.Millisecond
	p, _ := userService(t, svc)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Generate(context.Background(), p.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, eng.submissions(), 1)
}

func TestGenerate_EngineFailureRollsBack(t *testing.T) {
	svc, eng := newService(t, Options{})
	eng.err = errors.New("engine unreachable: connection refused")
	ctx := context.Background()
	p, _ := userService(t, svc)

	_, err := svc.Generate(ctx, p.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.EngineFailure, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")

	got, err := svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Pending, got.Status)
	assert.True(t, strings.HasPrefix(got.StatusDetail, "dispatch failed"))

	// после отката можно повторить
	eng.err = nil
	_, err = svc.Generate(ctx, p.ID)
	assert.NoError(t, err)
}

func TestReportStatus_Lifecycle(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()
	p, _ := userService(t, svc)

	_, err := svc.Generate(ctx, p.ID)
	require.NoError(t, err)

	err = svc.ReportStatus(ctx, p.ID, engine.Report{Event: lifecycle.Generate})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	require.NoError(t, svc.ReportStatus(ctx, p.ID, engine.Report{Event: lifecycle.GenerationSucceeded}))
	err = svc.ReportStatus(ctx, p.ID, engine.Report{Event: lifecycle.GenerationSucceeded})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, svc.ReportStatus(ctx, p.ID, engine.Report{Event: lifecycle.DeployStarted}))
	require.NoError(t, svc.ReportStatus(ctx, p.ID, engine.Report{Event: lifecycle.DeployFailed, Detail: "helm timeout"}))

	got, err := svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Failed, got.Status)
	assert.Equal(t, "helm timeout", got.StatusDetail)

	_, err = svc.Regenerate(ctx, p.ID)
	require.NoError(t, err)

	err = svc.ReportStatus(ctx, "missing", engine.Report{Event: lifecycle.GenerationFailed})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestArchive(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()
	p, _ := userService(t, svc)

	got, err := svc.Archive(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Archived, got.Status)

	_, err = svc.Generate(ctx, p.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = svc.Archive(ctx, p.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestEditsBlockedWhileGenerating(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()
	p, e := userService(t, svc)

	_, err := svc.Generate(ctx, p.ID)
	require.NoError(t, err)

	_, err = svc.AddEntity(ctx, p.ID, dsl.EntitySpec{Name: "Order", TableName: "orders", Fields: userFields()})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = svc.AddEndpoint(ctx, e.ID, dsl.EndpointSpec{Name: "List", Method: "GET", Path: "/users"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.ErrorIs(t, svc.DeleteProject(ctx, p.ID), apperr.ErrConflict)

	require.NoError(t, svc.ReportStatus(ctx, p.ID, engine.Report{Event: lifecycle.GenerationSucceeded}))
	_, err = svc.AddEntity(ctx, p.ID, dsl.EntitySpec{Name: "Order", TableName: "orders", Fields: userFields()})
	assert.NoError(t, err)
}

func TestDeleteEntityTwice(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()
	p, e := userService(t, svc)
	_, err := svc.AddEndpoint(ctx, e.ID, dsl.EndpointSpec{Name: "List", Method: "GET", Path: "/users"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEntity(ctx, e.ID))
	assert.ErrorIs(t, svc.DeleteEntity(ctx, e.ID), apperr.ErrNotFound)

	eps, err := svc.ListProjectEndpoints(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, eps)
}

func TestUpdateEntity_ReplacesFields(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()
	_, e := userService(t, svc)

	_, err := svc.UpdateEntity(ctx, e.ID, dsl.EntitySpec{Name: "User", TableName: "users"})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	got, err := svc.UpdateEntity(ctx, e.ID, dsl.EntitySpec{
		Name: "User", TableName: "app_users",
		Fields: []dsl.Field{{Name: "login", Kind: dsl.StringKind{Length: 64}, Required: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, "app_users", got.TableName)
	assert.Equal(t, []string{"login"}, fieldNames(got.Fields))
}

func TestPreview(t *testing.T) {
	svc, _ := newService(t, Options{})
	_, e := userService(t, svc)

	arts, err := svc.Preview(context.Background(), e.ID)
	require.NoError(t, err)
	paths := make([]string, len(arts))
	for i, a := range arts {
		paths[i] = a.Path
	}
	assert.Contains(t, paths, "models/user.go")
	assert.Contains(t, paths, "migrations/0001_create_users.up.sql")

	_, err = svc.Preview(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

const definitionYAML = `
project:
  name: Billing
  namespace: billing
entities:
  - name: Invoice
    table_name: invoices
    fields:
      - {name: number, type: string, required: true, unique: true}
      - {name: total, type: float}
    endpoints:
      - {name: Create Invoice, method: POST, path: /invoices}
      - {name: Get Invoice, method: GET, path: "/invoices/{id}", require_auth: false}
`

func TestImportDefinition(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()
	def, err := dsl.ParseDefinition(strings.NewReader(definitionYAML))
	require.NoError(t, err)

	p, err := svc.ImportDefinition(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, "billing", p.Namespace)
	require.Len(t, p.Entities, 1)
	require.Len(t, p.Entities[0].Endpoints, 2)
	assert.False(t, p.Entities[0].Endpoints[1].RequireAuth)

	_, err = svc.ImportDefinition(ctx, def)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	page, err := svc.ListProjects(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestLocalEngineEndToEnd(t *testing.T) {
	local := engine.NewLocal(t.TempDir())
	svc := New(store.NewMemory(), local, lock.NewLocal(), Options{})
	local.SetReporter(svc)
	ctx := context.Background()
	p, _ := userService(t, svc)

	_, err := svc.Generate(ctx, p.ID)
	require.NoError(t, err)
	local.Wait()

	got, err := svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Active, got.Status)

	_, err = svc.Regenerate(ctx, p.ID)
	require.NoError(t, err)
	local.Wait()
	got, err = svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Active, got.Status)
}
