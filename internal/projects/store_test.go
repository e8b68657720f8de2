package projects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	p := &Project{ID: "p1", Name: "demo", OwnerID: "u1", Workspace: "projects/p1"}
	require.NoError(t, s.Create(p))

	got, err := s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
	assert.False(t, got.Archived)
}

func TestStore_GetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListByOwnerExcludesArchived(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(&Project{ID: "p1", Name: "a", OwnerID: "u1", Workspace: "projects/p1"}))
	require.NoError(t, s.Create(&Project{ID: "p2", Name: "b", OwnerID: "u1", Workspace: "projects/p2"}))
	require.NoError(t, s.Archive("p2"))

	list, err := s.ListByOwner("u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].ID)
}

func TestStore_ArchiveUnknownIsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Archive("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(&Project{ID: "p1", Name: "a", OwnerID: "u1", Workspace: "projects/p1"}))
	require.NoError(t, s.Delete("p1"))
	_, err := s.Get("p1")
	assert.ErrorIs(t, err, ErrNotFound)
}
