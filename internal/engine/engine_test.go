package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lambra/internal/dsl"
	"lambra/internal/lifecycle"
	"lambra/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func definition() dsl.Project {
	return dsl.Project{
		ID: "p1", Name: "User Service", Namespace: "user-svc", Status: lifecycle.Generating,
		Entities: []dsl.Entity{{
			Name: "User", TableName: "users",
			Fields: []dsl.Field{{Name: "email", Kind: dsl.StringKind{Length: 255}, Required: true, Unique: true}},
			Endpoints: []dsl.Endpoint{{
				Name: "Create User", Method: dsl.MethodPost, Path: "/users", RequireAuth: true,
				RequestSchema: schema.MustValidate(`{"email":"string"}`), ResponseSchema: schema.Empty(),
			}},
		}},
	}
}

func TestHTTP_Submit(t *testing.T) {
	var got Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generations", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e := NewHTTP(srv.URL+"/", time.Second)
	err := e.Submit(context.Background(), Submission{
		ProjectID: "p1", Mode: ModeGenerate, CallbackURL: "http://lambra/api/v1/projects/p1/status",
		Definition: definition(),
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, ModeGenerate, got.Mode)
	require.Len(t, got.Definition.Entities, 1)
	assert.Equal(t, `{"email":"string"}`, got.Definition.Entities[0].Endpoints[0].RequestSchema.String())
}

func TestHTTP_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTP(srv.URL, time.Second).Submit(context.Background(), Submission{ProjectID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "queue full")
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTP(url, 200*time.Millisecond).Submit(context.Background(), Submission{ProjectID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

type recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *recorder) ReportStatus(_ context.Context, _ string, rep Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}

func TestLocal_GeneratesAndReports(t *testing.T) {
	root := t.TempDir()
	l := NewLocal(root)
	rec := &recorder{}
	l.SetReporter(rec)

	require.NoError(t, l.Submit(context.Background(), Submission{ProjectID: "p1", Mode: ModeGenerate, Definition: definition()}))
	l.Wait()

	require.Len(t, rec.reports, 1)
	assert.Equal(t, lifecycle.GenerationSucceeded, rec.reports[0].Event)

	for _, key := range []string{"migrations/0001_create_users.up.sql", "models/user.go", "api/routes.json", manifestName} {
		p, err := l.ArtifactPath("user-svc", key)
		require.NoError(t, err)
		_, err = os.Stat(p)
		assert.NoError(t, err, key)
	}

	var manifest []Stored
	b, err := os.ReadFile(filepath.Join(root, "user-svc", manifestName))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &manifest))
	require.NotEmpty(t, manifest)
	assert.Len(t, manifest[0].SHA256, 64)
}

func TestLocal_RegenerateDiscardsOldArtifacts(t *testing.T) {
	root := t.TempDir()
	l := NewLocal(root)
	l.SetReporter(&recorder{})

	stale := filepath.Join(root, "user-svc", "models", "stale.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("package models"), 0o644))

	require.NoError(t, l.Submit(context.Background(), Submission{ProjectID: "p1", Mode: ModeRegenerate, Definition: definition()}))
	l.Wait()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestLocal_GenerationFailureIsReported(t *testing.T) {
	l := NewLocal(t.TempDir())
	rec := &recorder{}
	l.SetReporter(rec)

	def := definition()
	def.Entities[0].Fields = []dsl.Field{{Name: "id", Kind: dsl.IntKind{}}}
	require.NoError(t, l.Submit(context.Background(), Submission{ProjectID: "p1", Mode: ModeGenerate, Definition: def}))
	l.Wait()

	require.Len(t, rec.reports, 1)
	assert.Equal(t, lifecycle.GenerationFailed, rec.reports[0].Event)
	assert.Contains(t, rec.reports[0].Detail, "system")
}

func TestLocal_CollidingEntitiesFail(t *testing.T) {
	root := t.TempDir()
	l := NewLocal(root)
	rec := &recorder{}
	l.SetReporter(rec)

	def := definition()
	twin := def.Entities[0]
	twin.Name, twin.TableName, twin.Endpoints = "user", "members", nil
	def.Entities = append(def.Entities, twin)
	require.NoError(t, l.Submit(context.Background(), Submission{ProjectID: "p1", Mode: ModeGenerate, Definition: def}))
	l.Wait()

	require.Len(t, rec.reports, 1)
	assert.Equal(t, lifecycle.GenerationFailed, rec.reports[0].Event)
	assert.Contains(t, rec.reports[0].Detail, "models/user.go")
	_, err := os.Stat(filepath.Join(root, "user-svc", "models", "user.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocal_NoReporter(t *testing.T) {
	err := NewLocal(t.TempDir()).Submit(context.Background(), Submission{ProjectID: "p1", Definition: definition()})
	assert.Error(t, err)
}

func TestWorkspace_StaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	ws := &Workspace{Root: root}
	st, err := ws.PutString("../../escape.txt", "x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Size)
	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err)

	assert.Error(t, ws.Clear(""))
}
