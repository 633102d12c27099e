// Package storetest - общий набор проверок для реализаций store.Store.
package storetest

import (
	"context"
	"sync"
	"testing"

	"lambra/internal/apperr"
	"lambra/internal/dsl"
	"lambra/internal/lifecycle"
	"lambra/internal/schema"
	"lambra/internal/store"

	"github.com/stretchr/testify/suite"
)

// Run прогоняет контракт на свежем хранилище для каждого теста.
func Run(t *testing.T, factory func(t *testing.T) store.Store) {
	suite.Run(t, &Suite{factory: factory})
}

type Suite struct {
	suite.Suite
	factory func(t *testing.T) store.Store
	s       store.Store
	ctx     context.Context
}

func (s *Suite) SetupTest() {
	s.s = s.factory(s.T())
	s.ctx = context.Background()
}

func (s *Suite) project(ns string) dsl.Project {
	p, err := s.s.CreateProject(s.ctx, dsl.ProjectSpec{Name: "Service " + ns, Namespace: ns})
	s.Require().NoError(err)
	return p
}

func (s *Suite) entity(projectID, name string) dsl.Entity {
	e, err := s.s.CreateEntity(s.ctx, projectID, dsl.EntitySpec{
		Name:      name,
		TableName: name + "s",
		Fields: []dsl.Field{
			{Name: "email", Kind: dsl.StringKind{Length: 255}, Required: true, Unique: true},
			{Name: "age", Kind: dsl.IntKind{}},
		},
	})
	s.Require().NoError(err)
	return e
}

func (s *Suite) endpoint(entityID, name string) dsl.Endpoint {
	ep, err := s.s.CreateEndpoint(s.ctx, entityID, dsl.Endpoint{
		Name: name, Method: dsl.MethodPost, Path: "/" + name, RequireAuth: true,
		RequestSchema: schema.MustValidate(`{"email":"string"}`), ResponseSchema: schema.Empty(),
	})
	s.Require().NoError(err)
	return ep
}

func (s *Suite) TestCreateProject() {
	p := s.project("user-svc")
	s.NotEmpty(p.ID)
	s.Equal(lifecycle.Pending, p.Status)
	s.False(p.CreatedAt.IsZero())

	got, err := s.s.GetProject(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.Namespace, got.Namespace)

	_, err = s.s.CreateProject(s.ctx, dsl.ProjectSpec{Name: "Other", Namespace: "user-svc"})
	s.ErrorIs(err, apperr.ErrValidation)

	_, err = s.s.GetProject(s.ctx, "missing")
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *Suite) TestListProjectsNewestFirst() {
	a := s.project("aaa")
	b := s.project("bbb")
	c := s.project("ccc")

	page, total, err := s.s.ListProjects(s.ctx, 0, 2)
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(page, 2)
	s.Equal(c.ID, page[0].ID)
	s.Equal(b.ID, page[1].ID)

	page, _, err = s.s.ListProjects(s.ctx, 2, 2)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(a.ID, page[0].ID)

	page, total, err = s.s.ListProjects(s.ctx, 10, 2)
	s.Require().NoError(err)
	s.Empty(page)
	s.Equal(3, total)

	page, total, err = s.s.ListProjects(s.ctx, -20, 2)
	s.Require().NoError(err)
	s.Empty(page)
	s.Equal(3, total)
}

func (s *Suite) TestUpdateProjectKeepsStatus() {
	p := s.project("upd")
	name := "Renamed"
	got, err := s.s.UpdateProject(s.ctx, p.ID, dsl.ProjectPatch{Name: &name})
	s.Require().NoError(err)
	s.Equal("Renamed", got.Name)
	s.Equal(lifecycle.Pending, got.Status)
	s.Equal(p.Namespace, got.Namespace)
}

func (s *Suite) TestEntityOrderAndDuplicates() {
	p := s.project("ents")
	u := s.entity(p.ID, "user")
	o := s.entity(p.ID, "order")

	list, err := s.s.ListEntities(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(u.ID, list[0].ID)
	s.Equal(o.ID, list[1].ID)
	s.Equal([]string{"email", "age"}, []string{list[0].Fields[0].Name, list[0].Fields[1].Name})
	s.Equal(255, list[0].Fields[0].Length())

	_, err = s.s.CreateEntity(s.ctx, p.ID, dsl.EntitySpec{Name: "user", TableName: "x", Fields: u.Fields})
	s.ErrorIs(err, apperr.ErrValidation)
	s.Equal(apperr.CodeDuplicate, apperr.FieldsOf(err)[0].Code)

	_, err = s.s.CreateEntity(s.ctx, "missing", dsl.EntitySpec{Name: "x", TableName: "x", Fields: u.Fields})
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *Suite) TestUpdateEntityReplacesFields() {
	p := s.project("repl")
	e := s.entity(p.ID, "user")

	got, err := s.s.UpdateEntity(s.ctx, e.ID, dsl.EntitySpec{
		Name: "user", TableName: "people",
		Fields: []dsl.Field{{Name: "nick", Kind: dsl.StringKind{Length: 30}}},
	})
	s.Require().NoError(err)
	s.Equal("people", got.TableName)
	s.Require().Len(got.Fields, 1)
	s.Equal(30, got.Fields[0].Length())
	s.Equal(e.CreatedAt.Unix(), got.CreatedAt.Unix())

	// переименование в занятое имя
	s.entity(p.ID, "order")
	_, err = s.s.UpdateEntity(s.ctx, e.ID, dsl.EntitySpec{Name: "order", TableName: "t", Fields: got.Fields})
	s.ErrorIs(err, apperr.ErrValidation)
}

func (s *Suite) TestDeleteEntityTwice() {
	p := s.project("del")
	e := s.entity(p.ID, "user")
	ep := s.endpoint(e.ID, "create")

	s.Require().NoError(s.s.DeleteEntity(s.ctx, e.ID))
	s.ErrorIs(s.s.DeleteEntity(s.ctx, e.ID), apperr.ErrNotFound)

	_, err := s.s.GetEndpoint(s.ctx, ep.ID)
	s.ErrorIs(err, apperr.ErrNotFound)
	eps, err := s.s.ListProjectEndpoints(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Empty(eps)
}

func (s *Suite) TestDeleteProjectCascades() {
	p := s.project("cascade")
	e := s.entity(p.ID, "user")
	ep := s.endpoint(e.ID, "create")

	s.Require().NoError(s.s.DeleteProject(s.ctx, p.ID))
	_, err := s.s.GetEntity(s.ctx, e.ID)
	s.ErrorIs(err, apperr.ErrNotFound)
	_, err = s.s.GetEndpoint(s.ctx, ep.ID)
	s.ErrorIs(err, apperr.ErrNotFound)
	s.ErrorIs(s.s.DeleteProject(s.ctx, p.ID), apperr.ErrNotFound)
}

func (s *Suite) TestEndpoints() {
	p := s.project("eps")
	u := s.entity(p.ID, "user")
	o := s.entity(p.ID, "order")
	a := s.endpoint(u.ID, "a")
	b := s.endpoint(o.ID, "b")

	list, err := s.s.ListEndpoints(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(`{"email":"string"}`, list[0].RequestSchema.String())
	s.True(list[0].ResponseSchema.IsEmpty())

	all, err := s.s.ListProjectEndpoints(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(a.ID, all[0].ID)
	s.Equal(b.ID, all[1].ID)

	a.Method = dsl.MethodPut
	a.RequireAuth = false
	a.EntityID = o.ID // не меняется
	got, err := s.s.UpdateEndpoint(s.ctx, a.ID, a)
	s.Require().NoError(err)
	s.Equal(dsl.MethodPut, got.Method)
	s.False(got.RequireAuth)
	s.Equal(u.ID, got.EntityID)

	_, err = s.s.CreateEndpoint(s.ctx, "missing", a)
	s.ErrorIs(err, apperr.ErrNotFound)

	s.Require().NoError(s.s.DeleteEndpoint(s.ctx, b.ID))
	s.ErrorIs(s.s.DeleteEndpoint(s.ctx, b.ID), apperr.ErrNotFound)
}

func (s *Suite) TestDefinition() {
	p := s.project("def")
	u := s.entity(p.ID, "user")
	s.endpoint(u.ID, "create")
	s.endpoint(u.ID, "get")
	s.entity(p.ID, "order")

	def, err := s.s.Definition(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(def.Entities, 2)
	s.Len(def.Entities[0].Endpoints, 2)
	s.Empty(def.Entities[1].Endpoints)
	s.Equal("create", def.Entities[0].Endpoints[0].Name)
}

func generate(cur lifecycle.Status) (lifecycle.Status, error) {
	return lifecycle.Next(cur, lifecycle.Generate)
}

func (s *Suite) TestUpdateStatusAndEditLock() {
	p := s.project("lock")
	e := s.entity(p.ID, "user")

	tr, err := s.s.UpdateStatus(s.ctx, p.ID, generate, "")
	s.Require().NoError(err)
	s.Equal(lifecycle.Pending, tr.From)
	s.Equal(lifecycle.Generating, tr.To)

	_, err = s.s.UpdateStatus(s.ctx, p.ID, generate, "")
	s.ErrorAs(err, new(*lifecycle.IllegalTransitionError))

	// в работе: правки и удаление запрещены
	_, err = s.s.UpdateEntity(s.ctx, e.ID, dsl.EntitySpec{Name: "user", TableName: "u", Fields: e.Fields})
	s.ErrorIs(err, apperr.ErrConflict)
	_, err = s.s.CreateEntity(s.ctx, p.ID, dsl.EntitySpec{Name: "x", TableName: "x", Fields: e.Fields})
	s.ErrorIs(err, apperr.ErrConflict)
	s.ErrorIs(s.s.DeleteEntity(s.ctx, e.ID), apperr.ErrConflict)
	s.ErrorIs(s.s.DeleteProject(s.ctx, p.ID), apperr.ErrConflict)

	got, err := s.s.UpdateStatus(s.ctx, p.ID, func(cur lifecycle.Status) (lifecycle.Status, error) {
		return lifecycle.Next(cur, lifecycle.GenerationFailed)
	}, "template error")
	s.Require().NoError(err)
	s.Equal(lifecycle.Failed, got.To)

	cur, err := s.s.GetProject(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(lifecycle.Failed, cur.Status)
	s.Equal("template error", cur.StatusDetail)
	s.Require().NoError(s.s.DeleteEntity(s.ctx, e.ID))
}

func (s *Suite) TestConcurrentGenerateSingleFlight() {
	p := s.project("race")

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.s.UpdateStatus(s.ctx, p.ID, generate, ""); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)
}
