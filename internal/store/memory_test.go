package store_test

import (
	"context"
	"testing"

	"lambra/internal/dsl"
	"lambra/internal/store"
	"lambra/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return store.NewMemory() })
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	p, err := m.CreateProject(ctx, dsl.ProjectSpec{Name: "Copy", Namespace: "copy"})
	require.NoError(t, err)
	e, err := m.CreateEntity(ctx, p.ID, dsl.EntitySpec{Name: "user", TableName: "users",
		Fields: []dsl.Field{{Name: "email", Kind: dsl.StringKind{Length: 10}}}})
	require.NoError(t, err)

	e.Fields[0].Name = "mutated"
	got, err := m.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "email", got.Fields[0].Name)
}

func TestIDs_Monotonic(t *testing.T) {
	g := store.NewIDs()
	prev := g.New()
	for i := 0; i < 100; i++ {
		next := g.New()
		assert.Greater(t, next, prev)
		prev = next
	}
}
