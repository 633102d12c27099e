package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lambra/internal/apperr"
	"lambra/internal/dsl"
	"lambra/internal/lifecycle"
	"lambra/internal/schema"
	"lambra/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store - хранилище определений в PostgreSQL. Каскад - через ON DELETE CASCADE,
// check-and-set статуса и проверка «не в работе» - через SELECT ... FOR UPDATE в одной транзакции.
type Store struct {
	db  *sql.DB
	ids *store.IDs
}

var _ store.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, ids: store.NewIDs()}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// mapUnique переводит нарушение уникальности в ошибку валидации.
func mapUnique(err error, namespace, entityName string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case uqNamespace:
			return store.DuplicateNamespace(namespace)
		case uqEntityName:
			return store.DuplicateEntityName(entityName)
		}
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

// ===== проекты =====

const projectCols = `id, name, namespace, description, status, status_detail, created_at, updated_at`

func scanProject(row scanner) (dsl.Project, error) {
	var p dsl.Project
	var status string
	if err := row.Scan(&p.ID, &p.Name, &p.Namespace, &p.Description, &status, &p.StatusDetail, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	st, err := lifecycle.ParseStatus(status)
	if err != nil {
		return p, fmt.Errorf("project %s: %w", p.ID, err)
	}
	p.Status = st
	return p, nil
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NewNotFound(resource, id)
	}
	return err
}

func (s *Store) CreateProject(ctx context.Context, spec dsl.ProjectSpec) (dsl.Project, error) {
	now := store.Now()
	p := dsl.Project{
		ID:          s.ids.New(),
		Name:        strings.TrimSpace(spec.Name),
		Namespace:   spec.Namespace,
		Description: spec.Description,
		Status:      lifecycle.Pending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx,
		`insert into projects (`+projectCols+`) values ($1, $2, $3, $4, $5, '', $6, $7)`,
		p.ID, p.Name, p.Namespace, p.Description, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return dsl.Project{}, mapUnique(err, spec.Namespace, "")
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (dsl.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `select `+projectCols+` from projects where id = $1`, id))
	if err != nil {
		return dsl.Project{}, notFound(err, "project", id)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, offset, limit int) ([]dsl.Project, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from projects`).Scan(&total); err != nil {
		return nil, 0, err
	}
	if offset < 0 || offset >= total {
		return []dsl.Project{}, total, nil
	}
	q := `select ` + projectCols + ` from projects order by id desc offset $1`
	args := []any{offset}
	if limit > 0 {
		q += ` limit $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []dsl.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// lockProject блокирует строку проекта до конца транзакции.
func lockProject(ctx context.Context, tx *sql.Tx, id string) (dsl.Project, error) {
	p, err := scanProject(tx.QueryRowContext(ctx, `select `+projectCols+` from projects where id = $1 for update`, id))
	if err != nil {
		return dsl.Project{}, notFound(err, "project", id)
	}
	return p, nil
}

func (s *Store) UpdateProject(ctx context.Context, id string, patch dsl.ProjectPatch) (dsl.Project, error) {
	var out dsl.Project
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := lockProject(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		p.UpdatedAt = store.Now()
		if _, err := tx.ExecContext(ctx,
			`update projects set name = $2, description = $3, updated_at = $4 where id = $1`,
			id, p.Name, p.Description, p.UpdatedAt); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := lockProject(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status.InFlight() {
			return apperr.NewConflict("project %s is %s and cannot be deleted", id, p.Status)
		}
		_, err = tx.ExecContext(ctx, `delete from projects where id = $1`, id)
		return err
	})
}

func (s *Store) UpdateStatus(ctx context.Context, id string, fn store.StatusFunc, detail string) (store.Transition, error) {
	var tr store.Transition
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := lockProject(ctx, tx, id)
		if err != nil {
			return err
		}
		to, err := fn(p.Status)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`update projects set status = $2, status_detail = $3, updated_at = $4 where id = $1`,
			id, string(to), detail, store.Now()); err != nil {
			return err
		}
		tr = store.Transition{ProjectID: id, From: p.Status, To: to}
		return nil
	})
	return tr, err
}

// ===== сущности =====

const entityCols = `id, project_id, name, table_name, description, fields, created_at, updated_at`

func scanEntity(row scanner) (dsl.Entity, error) {
	var e dsl.Entity
	var fields []byte
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.TableName, &e.Description, &fields, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return dsl.Entity{}, err
	}
	if err := json.Unmarshal(fields, &e.Fields); err != nil {
		return dsl.Entity{}, fmt.Errorf("entity %s: decode fields: %w", e.ID, err)
	}
	return e, nil
}

// editableByEntity блокирует проект-владелец сущности и проверяет, что он не в работе.
func editableByEntity(ctx context.Context, tx *sql.Tx, entityID string) (string, error) {
	var projectID string
	err := tx.QueryRowContext(ctx, `select project_id from entities where id = $1`, entityID).Scan(&projectID)
	if err != nil {
		return "", notFound(err, "entity", entityID)
	}
	p, err := lockProject(ctx, tx, projectID)
	if err != nil {
		return "", err
	}
	return projectID, store.CheckEditable(p)
}

func (s *Store) CreateEntity(ctx context.Context, projectID string, spec dsl.EntitySpec) (dsl.Entity, error) {
	fields, err := json.Marshal(spec.Fields)
	if err != nil {
		return dsl.Entity{}, err
	}
	now := store.Now()
	e := dsl.Entity{
		ID:          s.ids.New(),
		ProjectID:   projectID,
		Name:        strings.TrimSpace(spec.Name),
		TableName:   strings.TrimSpace(spec.TableName),
		Description: spec.Description,
		Fields:      append([]dsl.Field(nil), spec.Fields...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := lockProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if err := store.CheckEditable(p); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`insert into entities (`+entityCols+`) values ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.ProjectID, e.Name, e.TableName, e.Description, fields, e.CreatedAt, e.UpdatedAt)
		return mapUnique(err, "", e.Name)
	})
	if err != nil {
		return dsl.Entity{}, err
	}
	return e, nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (dsl.Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx, `select `+entityCols+` from entities where id = $1`, id))
	if err != nil {
		return dsl.Entity{}, notFound(err, "entity", id)
	}
	return e, nil
}

func (s *Store) ListEntities(ctx context.Context, projectID string) ([]dsl.Entity, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return queryEntities(ctx, s.db, projectID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryEntities(ctx context.Context, q querier, projectID string) ([]dsl.Entity, error) {
	rows, err := q.QueryContext(ctx, `select `+entityCols+` from entities where project_id = $1 order by id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []dsl.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEntity(ctx context.Context, id string, spec dsl.EntitySpec) (dsl.Entity, error) {
	fields, err := json.Marshal(spec.Fields)
	if err != nil {
		return dsl.Entity{}, err
	}
	var out dsl.Entity
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := editableByEntity(ctx, tx, id); err != nil {
			return err
		}
		name := strings.TrimSpace(spec.Name)
		row := tx.QueryRowContext(ctx,
			`update entities set name = $2, table_name = $3, description = $4, fields = $5, updated_at = $6
			 where id = $1 returning `+entityCols,
			id, name, strings.TrimSpace(spec.TableName), spec.Description, fields, store.Now())
		e, err := scanEntity(row)
		if err != nil {
			return mapUnique(err, "", name)
		}
		out = e
		return nil
	})
	return out, err
}

func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := editableByEntity(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `delete from entities where id = $1`, id)
		return err
	})
}

// ===== эндпоинты =====

const endpointCols = `id, entity_id, name, method, path, description, require_auth, request_schema, response_schema, created_at, updated_at`

func scanEndpoint(row scanner) (dsl.Endpoint, error) {
	var ep dsl.Endpoint
	var method, req, resp string
	if err := row.Scan(&ep.ID, &ep.EntityID, &ep.Name, &method, &ep.Path, &ep.Description, &ep.RequireAuth,
		&req, &resp, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
		return dsl.Endpoint{}, err
	}
	ep.Method = dsl.Method(method)
	var err error
	if ep.RequestSchema, err = schema.Validate(req); err != nil {
		return dsl.Endpoint{}, fmt.Errorf("endpoint %s: request_schema: %w", ep.ID, err)
	}
	if ep.ResponseSchema, err = schema.Validate(resp); err != nil {
		return dsl.Endpoint{}, fmt.Errorf("endpoint %s: response_schema: %w", ep.ID, err)
	}
	return ep, nil
}

func queryEndpoints(ctx context.Context, q querier, query string, arg string) ([]dsl.Endpoint, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []dsl.Endpoint{}
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

const (
	qEntityEndpoints  = `select ` + endpointCols + ` from endpoints where entity_id = $1 order by id`
	qProjectEndpoints = `select ep.id, ep.entity_id, ep.name, ep.method, ep.path, ep.description, ep.require_auth,
       ep.request_schema, ep.response_schema, ep.created_at, ep.updated_at
  from endpoints ep join entities e on e.id = ep.entity_id
 where e.project_id = $1
 order by e.id, ep.id`
)

func (s *Store) CreateEndpoint(ctx context.Context, entityID string, ep dsl.Endpoint) (dsl.Endpoint, error) {
	now := store.Now()
	ep.ID = s.ids.New()
	ep.EntityID = entityID
	ep.CreatedAt = now
	ep.UpdatedAt = now
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := editableByEntity(ctx, tx, entityID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`insert into endpoints (`+endpointCols+`) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			ep.ID, ep.EntityID, ep.Name, string(ep.Method), ep.Path, ep.Description, ep.RequireAuth,
			ep.RequestSchema.String(), ep.ResponseSchema.String(), ep.CreatedAt, ep.UpdatedAt)
		return err
	})
	if err != nil {
		return dsl.Endpoint{}, err
	}
	return ep, nil
}

func (s *Store) GetEndpoint(ctx context.Context, id string) (dsl.Endpoint, error) {
	ep, err := scanEndpoint(s.db.QueryRowContext(ctx, `select `+endpointCols+` from endpoints where id = $1`, id))
	if err != nil {
		return dsl.Endpoint{}, notFound(err, "endpoint", id)
	}
	return ep, nil
}

func (s *Store) ListEndpoints(ctx context.Context, entityID string) ([]dsl.Endpoint, error) {
	if _, err := s.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}
	return queryEndpoints(ctx, s.db, qEntityEndpoints, entityID)
}

func (s *Store) ListProjectEndpoints(ctx context.Context, projectID string) ([]dsl.Endpoint, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return queryEndpoints(ctx, s.db, qProjectEndpoints, projectID)
}

func (s *Store) UpdateEndpoint(ctx context.Context, id string, ep dsl.Endpoint) (dsl.Endpoint, error) {
	var out dsl.Endpoint
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var entityID string
		if err := tx.QueryRowContext(ctx, `select entity_id from endpoints where id = $1`, id).Scan(&entityID); err != nil {
			return notFound(err, "endpoint", id)
		}
		if _, err := editableByEntity(ctx, tx, entityID); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx,
			`update endpoints set name = $2, method = $3, path = $4, description = $5, require_auth = $6,
			        request_schema = $7, response_schema = $8, updated_at = $9
			  where id = $1 returning `+endpointCols,
			id, ep.Name, string(ep.Method), ep.Path, ep.Description, ep.RequireAuth,
			ep.RequestSchema.String(), ep.ResponseSchema.String(), store.Now())
		got, err := scanEndpoint(row)
		if err != nil {
			return err
		}
		out = got
		return nil
	})
	return out, err
}

func (s *Store) DeleteEndpoint(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var entityID string
		if err := tx.QueryRowContext(ctx, `select entity_id from endpoints where id = $1`, id).Scan(&entityID); err != nil {
			return notFound(err, "endpoint", id)
		}
		if _, err := editableByEntity(ctx, tx, entityID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `delete from endpoints where id = $1`, id)
		return err
	})
}

// Definition читает проект целиком в одной read-only транзакции.
func (s *Store) Definition(ctx context.Context, projectID string) (dsl.Project, error) {
	var out dsl.Project
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return dsl.Project{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out, err = scanProject(tx.QueryRowContext(ctx, `select `+projectCols+` from projects where id = $1`, projectID))
	if err != nil {
		return dsl.Project{}, notFound(err, "project", projectID)
	}
	entities, err := queryEntities(ctx, tx, projectID)
	if err != nil {
		return dsl.Project{}, err
	}
	eps, err := queryEndpoints(ctx, tx, qProjectEndpoints, projectID)
	if err != nil {
		return dsl.Project{}, err
	}
	byEntity := make(map[string][]dsl.Endpoint, len(entities))
	for _, ep := range eps {
		byEntity[ep.EntityID] = append(byEntity[ep.EntityID], ep)
	}
	for i := range entities {
		entities[i].Endpoints = byEntity[entities[i].ID]
	}
	out.Entities = entities
	return out, nil
}
