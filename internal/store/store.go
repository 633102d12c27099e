// Package store - хранилище определений: проекты, сущности, эндпоинты.
//
// Все реализации обязаны:
//   - выдавать ULID-идентификаторы;
//   - удалять поддерево (проект → сущности → эндпоинты) одним атомарным шагом;
//   - менять статус проекта только через UpdateStatus (check-and-set);
//   - отклонять правки сущностей/эндпоинтов и удаление проекта, пока идёт генерация или деплой.
package store

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"lambra/internal/apperr"
	"lambra/internal/dsl"
	"lambra/internal/lifecycle"

	"github.com/oklog/ulid/v2"
)

// StatusFunc вычисляет новый статус из текущего. Ошибка отменяет переход.
type StatusFunc func(cur lifecycle.Status) (lifecycle.Status, error)

// Transition - результат применённого перехода.
type Transition struct {
	ProjectID string
	From      lifecycle.Status
	To        lifecycle.Status
}

type Store interface {
	CreateProject(ctx context.Context, spec dsl.ProjectSpec) (dsl.Project, error)
	// GetProject возвращает проект без сущностей.
	GetProject(ctx context.Context, id string) (dsl.Project, error)
	// ListProjects - новые сначала; total - общее число проектов.
	ListProjects(ctx context.Context, offset, limit int) (items []dsl.Project, total int, err error)
	UpdateProject(ctx context.Context, id string, patch dsl.ProjectPatch) (dsl.Project, error)
	DeleteProject(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, fn StatusFunc, detail string) (Transition, error)

	CreateEntity(ctx context.Context, projectID string, spec dsl.EntitySpec) (dsl.Entity, error)
	// GetEntity возвращает сущность без эндпоинтов.
	GetEntity(ctx context.Context, id string) (dsl.Entity, error)
	ListEntities(ctx context.Context, projectID string) ([]dsl.Entity, error)
	UpdateEntity(ctx context.Context, id string, spec dsl.EntitySpec) (dsl.Entity, error)
	DeleteEntity(ctx context.Context, id string) error

	CreateEndpoint(ctx context.Context, entityID string, ep dsl.Endpoint) (dsl.Endpoint, error)
	GetEndpoint(ctx context.Context, id string) (dsl.Endpoint, error)
	ListEndpoints(ctx context.Context, entityID string) ([]dsl.Endpoint, error)
	ListProjectEndpoints(ctx context.Context, projectID string) ([]dsl.Endpoint, error)
	UpdateEndpoint(ctx context.Context, id string, ep dsl.Endpoint) (dsl.Endpoint, error)
	DeleteEndpoint(ctx context.Context, id string) error

	// Definition - согласованный снимок проекта со всеми сущностями и эндпоинтами.
	Definition(ctx context.Context, projectID string) (dsl.Project, error)
}

// IDs - генератор ULID, безопасный для конкурентного использования.
type IDs struct {
	mu      sync.Mutex
	entropy io.Reader
}

func NewIDs() *IDs {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &IDs{entropy: ulid.Monotonic(src, 0)}
}

func (g *IDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// CheckEditable - правки поддерева запрещены, пока проект в работе у движка.
func CheckEditable(p dsl.Project) error {
	if p.Status.InFlight() {
		return apperr.NewConflict("project %s is %s; definition is locked until the engine finishes", p.ID, p.Status)
	}
	return nil
}

func DuplicateEntityName(name string) error {
	return apperr.NewValidation(apperr.Field(apperr.CodeDuplicate, "name",
		"entity "+name+" already exists in this project"))
}

func DuplicateNamespace(ns string) error {
	return apperr.NewValidation(apperr.Field(apperr.CodeDuplicate, "namespace",
		"namespace "+ns+" is already taken"))
}

func Now() time.Time { return time.Now().UTC() }
