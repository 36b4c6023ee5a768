package optimistic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/entitysync/internal/audit"
	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/hub"
	"github.com/zeusync/entitysync/internal/observability/log"
	"github.com/zeusync/entitysync/internal/store"
)

func newApplier(t *testing.T, seed ...entity.Record) (*Applier, *store.Store) {
	t.Helper()
	s := store.New(audit.New(100), hub.New(), log.NewNop())
	require.NoError(t, s.Set("clients", seed))
	return New(s, log.NewNop()), s
}

func TestCreateRollbackRemoves(t *testing.T) {
	a, s := newApplier(t, entity.Record{"id": "c0"})
	require.NoError(t, a.ApplyCreate("clients", "c1", entity.Record{"id": "c1", "name": "Acme"}, "op-1"))
	assert.Len(t, s.Get("clients"), 2)
	assert.Equal(t, 1, a.Outstanding())

	ok, err := a.Rollback("op-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []entity.Record{{"id": "c0"}}, s.Get("clients"))
	assert.Zero(t, a.Outstanding())
}

func TestCreateDuplicateID(t *testing.T) {
	a, _ := newApplier(t, entity.Record{"id": "c1"})
	err := a.ApplyCreate("clients", "c1", entity.Record{"id": "c1"}, "op-1")
	assert.ErrorIs(t, err, entity.ErrDuplicateID)
	assert.Zero(t, a.Outstanding())
}

func TestUpdateMergesAndRestoresExactPrior(t *testing.T) {
	prior := entity.Record{"id": "c1", "name": "Acme", "revenue": 10}
	a, s := newApplier(t, entity.Record{"id": "c0"}, prior, entity.Record{"id": "c2"})

	require.NoError(t, a.ApplyUpdate("clients", "c1", entity.Record{"revenue": 20}, "op-1"))
	got, _ := s.Find("clients", "c1")
	assert.Equal(t, entity.Record{"id": "c1", "name": "Acme", "revenue": 20}, got)

	snap := a.snapshots["op-1"]
	require.NotNil(t, snap)
	assert.Equal(t, prior, snap.Prior)
	assert.Equal(t, 1, snap.PriorIndex)

	_, err := a.Rollback("op-1")
	require.NoError(t, err)
	assert.Equal(t, []entity.Record{{"id": "c0"}, prior, {"id": "c2"}}, s.Get("clients"))
}

func TestUpdateMissingEntity(t *testing.T) {
	a, _ := newApplier(t)
	err := a.ApplyUpdate("clients", "nope", entity.Record{"name": "x"}, "op-1")
	assert.ErrorIs(t, err, entity.ErrNotFound)
	assert.NotContains(t, a.snapshots, "op-1")
}

func TestDeleteRollbackReinsertsAtPriorIndex(t *testing.T) {
	a, s := newApplier(t, entity.Record{"id": "a"}, entity.Record{"id": "b"}, entity.Record{"id": "c"})

	require.NoError(t, a.ApplyDelete("clients", "b", "op-1"))
	assert.Len(t, s.Get("clients"), 2)

	_, err := a.Rollback("op-1")
	require.NoError(t, err)
	ids := make([]string, 0, 3)
	for _, r := range s.Get("clients") {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestRollbackIsIdempotent(t *testing.T) {
	a, s := newApplier(t, entity.Record{"id": "c1", "name": "Acme"})
	require.NoError(t, a.ApplyUpdate("clients", "c1", entity.Record{"name": "New"}, "op-1"))

	first, err := a.Rollback("op-1")
	require.NoError(t, err)
	before := s.Get("clients")

	second, err := a.Rollback("op-1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, before, s.Get("clients"))
}

func TestDuplicateOperationID(t *testing.T) {
	a, _ := newApplier(t, entity.Record{"id": "c1"})
	require.NoError(t, a.ApplyUpdate("clients", "c1", entity.Record{"name": "x"}, "op-1"))
	err := a.ApplyUpdate("clients", "c1", entity.Record{"name": "y"}, "op-1")
	assert.ErrorIs(t, err, ErrDuplicateSnapshot)
}

func TestDiscard(t *testing.T) {
	a, s := newApplier(t, entity.Record{"id": "c1"})
	require.NoError(t, a.ApplyUpdate("clients", "c1", entity.Record{"name": "x"}, "op-1"))
	assert.True(t, a.Discard("op-1"))
	assert.False(t, a.Discard("op-1"))

	ok, err := a.Rollback("op-1")
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ := s.Find("clients", "c1")
	assert.Equal(t, "x", got["name"])
}

func TestRebaseRestoresServerValue(t *testing.T) {
	a, s := newApplier(t, entity.Record{"id": "c1", "name": "Old"})
	require.NoError(t, a.ApplyUpdate("clients", "c1", entity.Record{"name": "Mine"}, "op-1"))

	server := entity.Record{"id": "c1", "name": "Server"}
	require.NoError(t, s.Set("clients", []entity.Record{server}))
	assert.Equal(t, 1, a.Rebase("clients", "c1", server))

	_, err := a.Rollback("op-1")
	require.NoError(t, err)
	got, _ := s.Find("clients", "c1")
	assert.Equal(t, "Server", got["name"])
}

func TestApplyDispatchesByKind(t *testing.T) {
	a, s := newApplier(t)
	op := &entity.Operation{ID: "op-1", Kind: entity.KindCreate, EntityType: "clients", EntityID: "c9", Payload: entity.Record{"id": "c9"}}
	require.NoError(t, a.Apply(op))
	assert.Len(t, s.Get("clients"), 1)
	assert.Equal(t, 1, a.Outstanding())
}
