package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"lambra/internal/apperr"
	"lambra/internal/dsl"
	"lambra/internal/lifecycle"
)

// Memory - хранилище в памяти. Один RWMutex на всё дерево: каскадное удаление
// и check-and-set статуса выполняются в одной критической секции.
type Memory struct {
	mu        sync.RWMutex
	ids       *IDs
	projects  map[string]*dsl.Project
	entities  map[string]*dsl.Entity
	endpoints map[string]*dsl.Endpoint
	// порядок детей: projectID -> []entityID, entityID -> []endpointID
	projectEntities map[string][]string
	entityEndpoints map[string][]string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		ids:             NewIDs(),
		projects:        make(map[string]*dsl.Project),
		entities:        make(map[string]*dsl.Entity),
		endpoints:       make(map[string]*dsl.Endpoint),
		projectEntities: make(map[string][]string),
		entityEndpoints: make(map[string][]string),
	}
}

// ===== проекты =====

func (s *Memory) CreateProject(_ context.Context, spec dsl.ProjectSpec) (dsl.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.projects {
		if p.Namespace == spec.Namespace {
			return dsl.Project{}, DuplicateNamespace(spec.Namespace)
		}
	}
	now := Now()
	p := &dsl.Project{
		ID:          s.ids.New(),
		Name:        strings.TrimSpace(spec.Name),
		Namespace:   spec.Namespace,
		Description: spec.Description,
		Status:      lifecycle.Pending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.projects[p.ID] = p
	return *p, nil
}

func (s *Memory) project(id string) (*dsl.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, apperr.NewNotFound("project", id)
	}
	return p, nil
}

func (s *Memory) GetProject(_ context.Context, id string) (dsl.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.project(id)
	if err != nil {
		return dsl.Project{}, err
	}
	return *p, nil
}

func (s *Memory) ListProjects(_ context.Context, offset, limit int) ([]dsl.Project, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*dsl.Project, 0, len(s.projects))
	for _, p := range s.projects {
		all = append(all, p)
	}
	// ULID монотонны: больший id - более новый проект
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	// отрицательный offset - переполнение у вызывающего, считаем за концом списка
	if offset < 0 || offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]dsl.Project, 0, end-offset)
	for _, p := range all[offset:end] {
		out = append(out, *p)
	}
	return out, total, nil
}

func (s *Memory) UpdateProject(_ context.Context, id string, patch dsl.ProjectPatch) (dsl.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.project(id)
	if err != nil {
		return dsl.Project{}, err
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	p.UpdatedAt = Now()
	return *p, nil
}

func (s *Memory) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.project(id)
	if err != nil {
		return err
	}
	if p.Status.InFlight() {
		return apperr.NewConflict("project %s is %s and cannot be deleted", id, p.Status)
	}
	for _, eid := range s.projectEntities[id] {
		s.dropEntity(eid)
	}
	delete(s.projectEntities, id)
	delete(s.projects, id)
	return nil
}

func (s *Memory) UpdateStatus(_ context.Context, id string, fn StatusFunc, detail string) (Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.project(id)
	if err != nil {
		return Transition{}, err
	}
	to, err := fn(p.Status)
	if err != nil {
		return Transition{}, err
	}
	tr := Transition{ProjectID: id, From: p.Status, To: to}
	p.Status = to
	p.StatusDetail = detail
	p.UpdatedAt = Now()
	return tr, nil
}

// ===== сущности =====

func cloneEntity(e *dsl.Entity) dsl.Entity {
	out := *e
	out.Fields = append([]dsl.Field(nil), e.Fields...)
	out.Endpoints = nil
	return out
}

func (s *Memory) entity(id string) (*dsl.Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return nil, apperr.NewNotFound("entity", id)
	}
	return e, nil
}

// editableProject - владелец существует и не в работе у движка.
func (s *Memory) editableProject(id string) (*dsl.Project, error) {
	p, err := s.project(id)
	if err != nil {
		return nil, err
	}
	if err := CheckEditable(*p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Memory) nameTaken(projectID, name, exceptID string) bool {
	for _, eid := range s.projectEntities[projectID] {
		if eid != exceptID && s.entities[eid].Name == name {
			return true
		}
	}
	return false
}

func (s *Memory) CreateEntity(_ context.Context, projectID string, spec dsl.EntitySpec) (dsl.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.editableProject(projectID)
	if err != nil {
		return dsl.Entity{}, err
	}
	name := strings.TrimSpace(spec.Name)
	if s.nameTaken(projectID, name, "") {
		return dsl.Entity{}, DuplicateEntityName(name)
	}
	now := Now()
	e := &dsl.Entity{
		ID:          s.ids.New(),
		ProjectID:   projectID,
		Name:        name,
		TableName:   strings.TrimSpace(spec.TableName),
		Description: spec.Description,
		Fields:      append([]dsl.Field(nil), spec.Fields...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.entities[e.ID] = e
	s.projectEntities[projectID] = append(s.projectEntities[projectID], e.ID)
	p.UpdatedAt = now
	return cloneEntity(e), nil
}

func (s *Memory) GetEntity(_ context.Context, id string) (dsl.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.entity(id)
	if err != nil {
		return dsl.Entity{}, err
	}
	return cloneEntity(e), nil
}

func (s *Memory) ListEntities(_ context.Context, projectID string) ([]dsl.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.project(projectID); err != nil {
		return nil, err
	}
	ids := s.projectEntities[projectID]
	out := make([]dsl.Entity, 0, len(ids))
	for _, eid := range ids {
		out = append(out, cloneEntity(s.entities[eid]))
	}
	return out, nil
}

func (s *Memory) UpdateEntity(_ context.Context, id string, spec dsl.EntitySpec) (dsl.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entity(id)
	if err != nil {
		return dsl.Entity{}, err
	}
	if _, err := s.editableProject(e.ProjectID); err != nil {
		return dsl.Entity{}, err
	}
	name := strings.TrimSpace(spec.Name)
	if s.nameTaken(e.ProjectID, name, id) {
		return dsl.Entity{}, DuplicateEntityName(name)
	}
	e.Name = name
	e.TableName = strings.TrimSpace(spec.TableName)
	e.Description = spec.Description
	e.Fields = append([]dsl.Field(nil), spec.Fields...)
	e.UpdatedAt = Now()
	return cloneEntity(e), nil
}

func (s *Memory) DeleteEntity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entity(id)
	if err != nil {
		return err
	}
	if _, err := s.editableProject(e.ProjectID); err != nil {
		return err
	}
	s.projectEntities[e.ProjectID] = without(s.projectEntities[e.ProjectID], id)
	s.dropEntity(id)
	return nil
}

// dropEntity удаляет сущность и её эндпоинты. Вызывается под s.mu.
func (s *Memory) dropEntity(id string) {
	for _, epID := range s.entityEndpoints[id] {
		delete(s.endpoints, epID)
	}
	delete(s.entityEndpoints, id)
	delete(s.entities, id)
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// ===== эндпоинты =====

func (s *Memory) endpoint(id string) (*dsl.Endpoint, error) {
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, apperr.NewNotFound("endpoint", id)
	}
	return ep, nil
}

func (s *Memory) CreateEndpoint(_ context.Context, entityID string, ep dsl.Endpoint) (dsl.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entity(entityID)
	if err != nil {
		return dsl.Endpoint{}, err
	}
	if _, err := s.editableProject(e.ProjectID); err != nil {
		return dsl.Endpoint{}, err
	}
	now := Now()
	ep.ID = s.ids.New()
	ep.EntityID = entityID
	ep.CreatedAt = now
	ep.UpdatedAt = now
	s.endpoints[ep.ID] = &ep
	s.entityEndpoints[entityID] = append(s.entityEndpoints[entityID], ep.ID)
	return ep, nil
}

func (s *Memory) GetEndpoint(_ context.Context, id string) (dsl.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, err := s.endpoint(id)
	if err != nil {
		return dsl.Endpoint{}, err
	}
	return *ep, nil
}

func (s *Memory) ListEndpoints(_ context.Context, entityID string) ([]dsl.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.entity(entityID); err != nil {
		return nil, err
	}
	return s.endpointsOf(entityID), nil
}

func (s *Memory) endpointsOf(entityID string) []dsl.Endpoint {
	ids := s.entityEndpoints[entityID]
	out := make([]dsl.Endpoint, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.endpoints[id])
	}
	return out
}

func (s *Memory) ListProjectEndpoints(_ context.Context, projectID string) ([]dsl.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.project(projectID); err != nil {
		return nil, err
	}
	var out []dsl.Endpoint
	for _, eid := range s.projectEntities[projectID] {
		out = append(out, s.endpointsOf(eid)...)
	}
	return out, nil
}

func (s *Memory) UpdateEndpoint(_ context.Context, id string, ep dsl.Endpoint) (dsl.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.endpoint(id)
	if err != nil {
		return dsl.Endpoint{}, err
	}
	if _, err := s.editableProject(s.entities[cur.EntityID].ProjectID); err != nil {
		return dsl.Endpoint{}, err
	}
	ep.ID = cur.ID
	ep.EntityID = cur.EntityID
	ep.CreatedAt = cur.CreatedAt
	ep.UpdatedAt = Now()
	*cur = ep
	return ep, nil
}

func (s *Memory) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, err := s.endpoint(id)
	if err != nil {
		return err
	}
	if _, err := s.editableProject(s.entities[ep.EntityID].ProjectID); err != nil {
		return err
	}
	s.entityEndpoints[ep.EntityID] = without(s.entityEndpoints[ep.EntityID], id)
	delete(s.endpoints, id)
	return nil
}

func (s *Memory) Definition(_ context.Context, projectID string) (dsl.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.project(projectID)
	if err != nil {
		return dsl.Project{}, err
	}
	out := *p
	out.Entities = make([]dsl.Entity, 0, len(s.projectEntities[projectID]))
	for _, eid := range s.projectEntities[projectID] {
		e := cloneEntity(s.entities[eid])
		e.Endpoints = s.endpointsOf(eid)
		out.Entities = append(out.Entities, e)
	}
	return out, nil
}
