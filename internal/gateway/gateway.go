// Package gateway - операции над определениями сервисов и запуск генерации.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"lambra/internal/apperr"
	"lambra/internal/dsl"
	"lambra/internal/engine"
	"lambra/internal/generator"
	"lambra/internal/lifecycle"
	"lambra/internal/lock"
	"lambra/internal/logger"
	"lambra/internal/store"

	"github.com/hashicorp/go-multierror"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Options struct {
	// CallbackURL - внешний адрес этого сервиса; движок шлёт отчёты на
	// {CallbackURL}/api/v1/projects/{id}/status. Пусто - без callback.
	CallbackURL string
	// DispatchTimeout ограничивает ожидание подтверждения заявки движком.
	DispatchTimeout time.Duration
	// StrictSchemas - замечания JSON Schema lint блокируют сохранение эндпоинта.
	StrictSchemas bool
}

type Service struct {
	store  store.Store
	engine engine.Engine
	locks  lock.Locker
	opts   Options
}

func New(st store.Store, eng engine.Engine, locks lock.Locker, opts Options) *Service {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	return &Service{store: st, engine: eng, locks: locks, opts: opts}
}

// Page - страница списка проектов.
type Page struct {
	Items      []dsl.Project
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// NormalizePage: page ≥ 1, limit по умолчанию 20, не больше 100.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// ===== проекты =====

func (s *Service) CreateProject(ctx context.Context, spec dsl.ProjectSpec) (dsl.Project, error) {
	if err := dsl.ValidateProjectSpec(spec); err != nil {
		return dsl.Project{}, err
	}
	p, err := s.store.CreateProject(ctx, spec)
	if err != nil {
		return dsl.Project{}, err
	}
	logger.WithField("project_id", p.ID).Infof("project %q created (namespace %s)", p.Name, p.Namespace)
	return p, nil
}

// GetProject - проект вместе с сущностями и эндпоинтами.
func (s *Service) GetProject(ctx context.Context, id string) (dsl.Project, error) {
	return s.store.Definition(ctx, id)
}

func (s *Service) ListProjects(ctx context.Context, page, limit int) (Page, error) {
	page, limit = NormalizePage(page, limit)
	offset := -1 // за концом списка: store вернёт только total
	if page-1 <= math.MaxInt/limit {
		offset = (page - 1) * limit
	}
	items, total, err := s.store.ListProjects(ctx, offset, limit)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func (s *Service) UpdateProject(ctx context.Context, id string, patch dsl.ProjectPatch) (dsl.Project, error) {
	if err := dsl.ValidateProjectPatch(patch); err != nil {
		return dsl.Project{}, err
	}
	return s.store.UpdateProject(ctx, id, patch)
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	logger.WithField("project_id", id).Infof("project deleted")
	return nil
}

// Definition - собранное определение проекта (то, что уходит движку).
func (s *Service) Definition(ctx context.Context, id string) (dsl.Project, error) {
	return s.store.Definition(ctx, id)
}

// ===== сущности =====

func (s *Service) AddEntity(ctx context.Context, projectID string, spec dsl.EntitySpec) (dsl.Entity, error) {
	if err := dsl.ValidateEntitySpec(spec); err != nil {
		return dsl.Entity{}, err
	}
	return s.store.CreateEntity(ctx, projectID, spec)
}

// GetEntity - сущность вместе с эндпоинтами.
func (s *Service) GetEntity(ctx context.Context, id string) (dsl.Entity, error) {
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return dsl.Entity{}, err
	}
	if e.Endpoints, err = s.store.ListEndpoints(ctx, id); err != nil {
		return dsl.Entity{}, err
	}
	return e, nil
}

func (s *Service) ListEntities(ctx context.Context, projectID string) ([]dsl.Entity, error) {
	return s.store.ListEntities(ctx, projectID)
}

// UpdateEntity заменяет сущность целиком, включая список полей.
func (s *Service) UpdateEntity(ctx context.Context, id string, spec dsl.EntitySpec) (dsl.Entity, error) {
	if err := dsl.ValidateEntitySpec(spec); err != nil {
		return dsl.Entity{}, err
	}
	return s.store.UpdateEntity(ctx, id, spec)
}

func (s *Service) DeleteEntity(ctx context.Context, id string) error {
	return s.store.DeleteEntity(ctx, id)
}

// ===== эндпоинты =====

func (s *Service) buildEndpoint(spec dsl.EndpointSpec) (dsl.Endpoint, error) {
	ep, err := dsl.BuildEndpoint(spec)
	if err != nil {
		return dsl.Endpoint{}, err
	}
	if s.opts.StrictSchemas {
		if issues := dsl.LintEndpoint(ep); len(issues) > 0 {
			return dsl.Endpoint{}, apperr.NewValidation(issues...)
		}
	}
	return ep, nil
}

func (s *Service) AddEndpoint(ctx context.Context, entityID string, spec dsl.EndpointSpec) (dsl.Endpoint, error) {
	if _, err := s.store.GetEntity(ctx, entityID); err != nil {
		return dsl.Endpoint{}, err
	}
	ep, err := s.buildEndpoint(spec)
	if err != nil {
		return dsl.Endpoint{}, err
	}
	return s.store.CreateEndpoint(ctx, entityID, ep)
}

func (s *Service) GetEndpoint(ctx context.Context, id string) (dsl.Endpoint, error) {
	return s.store.GetEndpoint(ctx, id)
}

func (s *Service) ListEndpoints(ctx context.Context, entityID string) ([]dsl.Endpoint, error) {
	return s.store.ListEndpoints(ctx, entityID)
}

func (s *Service) ListProjectEndpoints(ctx context.Context, projectID string) ([]dsl.Endpoint, error) {
	return s.store.ListProjectEndpoints(ctx, projectID)
}

func (s *Service) UpdateEndpoint(ctx context.Context, id string, spec dsl.EndpointSpec) (dsl.Endpoint, error) {
	if _, err := s.store.GetEndpoint(ctx, id); err != nil {
		return dsl.Endpoint{}, err
	}
	ep, err := s.buildEndpoint(spec)
	if err != nil {
		return dsl.Endpoint{}, err
	}
	return s.store.UpdateEndpoint(ctx, id, ep)
}

func (s *Service) DeleteEndpoint(ctx context.Context, id string) error {
	return s.store.DeleteEndpoint(ctx, id)
}

// LintEndpoint - замечания JSON Schema к схемам эндпоинта (ничего не меняет).
func (s *Service) LintEndpoint(ctx context.Context, id string) ([]apperr.FieldError, error) {
	ep, err := s.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	issues := dsl.LintEndpoint(ep)
	if issues == nil {
		issues = []apperr.FieldError{}
	}
	return issues, nil
}

// Preview рендерит артефакты одной сущности, не трогая состояние.
func (s *Service) Preview(ctx context.Context, entityID string) ([]generator.Artifact, error) {
	e, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	arts, err := generator.Entity(e, 1)
	if err != nil {
		return nil, apperr.NewValidation(apperr.Field(apperr.CodeInvalid, "fields", err.Error()))
	}
	return arts, nil
}

// ===== жизненный цикл =====

// transitionErr переводит недопустимый переход в Conflict.
func transitionErr(err error) error {
	var ite *lifecycle.IllegalTransitionError
	if errors.As(err, &ite) {
		return &apperr.Error{Kind: apperr.Conflict, Message: ite.Error()}
	}
	return err
}

func (s *Service) transition(ctx context.Context, id string, ev lifecycle.Event, detail string) (store.Transition, error) {
	tr, err := s.store.UpdateStatus(ctx, id, func(cur lifecycle.Status) (lifecycle.Status, error) {
		return lifecycle.Next(cur, ev)
	}, detail)
	if err != nil {
		return store.Transition{}, transitionErr(err)
	}
	return tr, nil
}

// Generate - первый запуск генерации (pending/failed -> generating).
func (s *Service) Generate(ctx context.Context, id string) (dsl.Project, error) {
	return s.dispatch(ctx, id, lifecycle.Generate, engine.ModeGenerate)
}

// Regenerate - повторная генерация, прежние артефакты отбрасываются.
func (s *Service) Regenerate(ctx context.Context, id string) (dsl.Project, error) {
	return s.dispatch(ctx, id, lifecycle.Regenerate, engine.ModeRegenerate)
}

func (s *Service) callbackURL(id string) string {
	if s.opts.CallbackURL == "" {
		return ""
	}
	return strings.TrimRight(s.opts.CallbackURL, "/") + "/api/v1/projects/" + id + "/status"
}

// dispatch: блокировка проекта -> CAS в generating -> заявка движку.
// Если движок заявку не принял, статус откатывается к исходному.
func (s *Service) dispatch(ctx context.Context, id string, ev lifecycle.Event, mode engine.Mode) (dsl.Project, error) {
	release, ok, err := s.locks.TryLock(ctx, "generate:"+id)
	if err != nil {
		return dsl.Project{}, fmt.Errorf("acquire generation lock: %w", err)
	}
	if !ok {
		return dsl.Project{}, apperr.NewConflict("generation of project %s is already in flight", id)
	}
	defer release()

	tr, err := s.transition(ctx, id, ev, "")
	if err != nil {
		return dsl.Project{}, err
	}
	log := logger.WithField("project_id", id).WithField("mode", mode)

	def, err := s.store.Definition(ctx, id)
	if err == nil {
		dctx, cancel := context.WithTimeout(ctx, s.opts.DispatchTimeout)
		err = s.engine.Submit(dctx, engine.Submission{
			ProjectID:   id,
			Mode:        mode,
			CallbackURL: s.callbackURL(id),
			Definition:  def,
		})
		cancel()
	}
	if err != nil {
		rbErr := s.rollback(ctx, tr, err)
		log.WithError(rbErr).Errorf("dispatch failed")
		return dsl.Project{}, apperr.NewEngineFailure(rbErr)
	}

	log.Infof("%s -> %s, submitted to engine", tr.From, tr.To)
	return def, nil
}

// rollback возвращает исходный статус, если проект всё ещё в generating.
func (s *Service) rollback(ctx context.Context, tr store.Transition, cause error) error {
	var result *multierror.Error
	result = multierror.Append(result, cause)

	_, err := s.store.UpdateStatus(context.WithoutCancel(ctx), tr.ProjectID, func(cur lifecycle.Status) (lifecycle.Status, error) {
		if cur != tr.To {
			return cur, fmt.Errorf("status already moved to %s", cur)
		}
		return tr.From, nil
	}, "dispatch failed: "+cause.Error())
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("rollback to %s: %w", tr.From, err))
	}
	return result.ErrorOrNil()
}

func (s *Service) Archive(ctx context.Context, id string) (dsl.Project, error) {
	if _, err := s.transition(ctx, id, lifecycle.Archive, ""); err != nil {
		return dsl.Project{}, err
	}
	return s.store.GetProject(ctx, id)
}

// ReportStatus - отчёт движка о ходе генерации или деплоя.
func (s *Service) ReportStatus(ctx context.Context, id string, r engine.Report) error {
	if !r.Event.IsEngineEvent() {
		return apperr.NewValidation(apperr.Field(apperr.CodeInvalid, "event",
			fmt.Sprintf("%q is not an engine event", r.Event)))
	}
	tr, err := s.transition(ctx, id, r.Event, r.Detail)
	if err != nil {
		return err
	}
	log := logger.WithField("project_id", id).WithField("event", r.Event)
	if r.Event.IsFailure() {
		log.Warnf("%s -> %s: %s", tr.From, tr.To, r.Detail)
	} else {
		log.Infof("%s -> %s", tr.From, tr.To)
	}
	return nil
}

var _ engine.Reporter = (*Service)(nil)

// ImportDefinition создаёт проект со всем содержимым из файла описания.
// При ошибке на середине созданный проект удаляется.
func (s *Service) ImportDefinition(ctx context.Context, def *dsl.Definition) (dsl.Project, error) {
	if err := def.Validate(); err != nil {
		return dsl.Project{}, err
	}
	p, err := s.CreateProject(ctx, def.Project)
	if err != nil {
		return dsl.Project{}, err
	}
	if err := s.importContent(ctx, p.ID, def); err != nil {
		if delErr := s.store.DeleteProject(context.WithoutCancel(ctx), p.ID); delErr != nil {
			err = multierror.Append(err, delErr)
		}
		return dsl.Project{}, err
	}
	return s.store.Definition(ctx, p.ID)
}

func (s *Service) importContent(ctx context.Context, projectID string, def *dsl.Definition) error {
	for _, ed := range def.Entities {
		e, err := s.AddEntity(ctx, projectID, ed.EntitySpec)
		if err != nil {
			return fmt.Errorf("entity %s: %w", ed.Name, err)
		}
		for _, spec := range ed.Endpoints {
			if _, err := s.AddEndpoint(ctx, e.ID, spec); err != nil {
				return fmt.Errorf("entity %s: endpoint %s: %w", ed.Name, spec.Name, err)
			}
		}
	}
	return nil
}
