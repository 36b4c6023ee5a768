package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/entitysync/internal/audit"
	"github.com/zeusync/entitysync/internal/client"
	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/resolver"
)

func hasAction(entries []audit.Entry, action, entityType string) bool {
	for _, e := range entries {
		if e.Action == action && e.EntityType == entityType {
			return true
		}
	}
	return false
}

func TestResyncHoldsBackDrainForSyncingType(t *testing.T) {
	gate := make(chan struct{})
	sender := &fakeSender{fetch: func(ctx context.Context, entityType string) ([]entity.Record, error) {
		if entityType == "clients" {
			<-gate
			return []entity.Record{{"id": "c1", "name": "Server", "revenue": 5}}, nil
		}
		return nil, nil
	}}
	f := newFixture(t, sender, withManagerOptions(WithEntityTypes("clients", "leads"), WithResyncConcurrency(2)))
	seedClients(t, f.m, entity.Record{"id": "c1", "name": "Acme"})

	errCh := make(chan error, 1)
	go func() { errCh <- f.m.ForceSyncAll(context.Background()) }()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"clients"}, f.m.GetOperationStatus().Syncing)
	}, time.Second, time.Millisecond)

	_, err := f.m.UpdateEntity(context.Background(), "clients", "c1", entity.Record{"name": "Mine"})
	require.NoError(t, err)
	got, _ := entity.Find(f.m.GetState("clients"), "c1")
	assert.Equal(t, "Mine", got["name"])

	assert.Never(t, func() bool { return len(sender.Calls()) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1, f.m.GetOperationStatus().QueueLength)

	close(gate)
	require.NoError(t, <-errCh)
	waitIdle(t, f.m)

	assert.Equal(t, []string{"PATCH /clients/c1"}, sender.Paths())
	got, _ = entity.Find(f.m.GetState("clients"), "c1")
	assert.Equal(t, "Server", got["name"], "server wins by default")

	conflicts := f.m.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, resolver.PolicyServerWins, conflicts[0].Policy)
	assert.Equal(t, "c1", conflicts[0].Conflict.EntityID)
	assert.Equal(t, "Mine", conflicts[0].Conflict.Local["name"])
	assert.True(t, hasAction(f.m.AuditLog(), audit.ActionConflict, "clients"))

	st := f.m.GetOperationStatus()
	assert.Contains(t, st.LastSync, "clients")
	assert.Contains(t, st.LastSync, "leads")
	assert.Empty(t, st.Syncing)
}

func TestResyncReplacesUntouchedRecords(t *testing.T) {
	server := []entity.Record{{"id": "c1", "name": "Acme"}, {"id": "c2", "name": "Beta"}}
	sender := &fakeSender{fetch: func(context.Context, string) ([]entity.Record, error) { return server, nil }}
	f := newFixture(t, sender)
	seedClients(t, f.m, entity.Record{"id": "c0", "name": "Stale"})

	require.NoError(t, f.m.SyncEntityType(context.Background(), "clients"))
	assert.Equal(t, server, f.m.GetState("clients"))
	assert.Empty(t, f.m.Conflicts())
}

func TestResyncMatchingValueIsNotAConflict(t *testing.T) {
	gate := make(chan struct{})
	sender := &fakeSender{
		respond: func(int, sentCall) error {
			<-gate
			return nil
		},
		fetch: func(context.Context, string) ([]entity.Record, error) {
			return []entity.Record{{"id": "c1", "name": "Mine"}}, nil
		},
	}
	f := newFixture(t, sender)
	seedClients(t, f.m, entity.Record{"id": "c1", "name": "Acme"})
	_, err := f.m.UpdateEntity(context.Background(), "clients", "c1", entity.Record{"name": "Mine"})
	require.NoError(t, err)

	require.NoError(t, f.m.SyncEntityType(context.Background(), "clients"))
	assert.Empty(t, f.m.Conflicts())
	close(gate)
	waitIdle(t, f.m)
}

func TestResyncKeepPending(t *testing.T) {
	gate := make(chan struct{})
	sender := &fakeSender{
		respond: func(int, sentCall) error {
			<-gate
			return nil
		},
		fetch: func(context.Context, string) ([]entity.Record, error) {
			return []entity.Record{{"id": "c1", "name": "Server"}}, nil
		},
	}
	f := newFixture(t, sender, withResolver(resolver.KeepPending{}))
	seedClients(t, f.m, entity.Record{"id": "c1", "name": "Acme"})

	_, err := f.m.UpdateEntity(context.Background(), "clients", "c1", entity.Record{"name": "Mine"})
	require.NoError(t, err)
	_, err = f.m.CreateEntity(context.Background(), "clients", entity.Record{"id": "c9", "name": "Unsent"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sender.Calls()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.m.SyncEntityType(context.Background(), "clients"))

	state := f.m.GetState("clients")
	c1, _ := entity.Find(state, "c1")
	assert.Equal(t, "Mine", c1["name"])
	_, ok := entity.Find(state, "c9")
	assert.True(t, ok, "local create missing on the server is kept")

	conflicts := f.m.Conflicts()
	require.Len(t, conflicts, 2)
	for _, c := range conflicts {
		assert.Equal(t, resolver.PolicyKeepPending, c.Policy)
	}
	assert.Nil(t, conflicts[1].Conflict.Server)

	close(gate)
	waitIdle(t, f.m)
}

func TestResyncRebasesRollbackTarget(t *testing.T) {
	gate := make(chan struct{})
	sender := &fakeSender{
		respond: func(int, sentCall) error {
			<-gate
			return serverError()
		},
		fetch: func(context.Context, string) ([]entity.Record, error) {
			return []entity.Record{{"id": "c1", "name": "Server"}}, nil
		},
	}
	f := newFixture(t, sender, withResolver(resolver.KeepPending{}))
	seedClients(t, f.m, entity.Record{"id": "c1", "name": "Acme"})

	_, err := f.m.UpdateEntity(context.Background(), "clients", "c1", entity.Record{"name": "Mine"}, entity.WithRetryOnFailure(false))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sender.Calls()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.m.SyncEntityType(context.Background(), "clients"))
	close(gate)
	waitIdle(t, f.m)

	got, _ := entity.Find(f.m.GetState("clients"), "c1")
	assert.Equal(t, entity.Record{"id": "c1", "name": "Server"}, got, "rollback restores the last server value")
}

func TestForceSyncAllIsolatesFailures(t *testing.T) {
	sender := &fakeSender{fetch: func(_ context.Context, entityType string) ([]entity.Record, error) {
		if entityType == "leads" {
			return nil, serverError()
		}
		return []entity.Record{{"id": entityType + "-1", "name": "x"}}, nil
	}}
	f := newFixture(t, sender, withManagerOptions(WithEntityTypes("clients", "leads", "projects")))
	require.NoError(t, f.m.SetState("leads", []entity.Record{{"id": "l1", "name": "Local"}}))

	err := f.m.ForceSyncAll(context.Background())
	require.ErrorIs(t, err, client.ErrServer)
	assert.Contains(t, err.Error(), "resync leads")

	assert.Len(t, f.m.GetState("clients"), 1)
	assert.Len(t, f.m.GetState("projects"), 1)
	assert.Equal(t, []entity.Record{{"id": "l1", "name": "Local"}}, f.m.GetState("leads"))
	assert.True(t, hasAction(f.m.AuditLog(), audit.ActionResyncFailed, "leads"))

	st := f.m.GetOperationStatus()
	assert.Contains(t, st.LastSync, "clients")
	assert.NotContains(t, st.LastSync, "leads")
	assert.Equal(t, "tok", f.creds.Token(), "server errors leave the session alone")
}

func TestResyncAuthExpiredRoutesToLogin(t *testing.T) {
	sender := &fakeSender{fetch: func(context.Context, string) ([]entity.Record, error) {
		return nil, &client.RequestError{Kind: client.KindAuthExpired, StatusCode: 401}
	}}
	f := newFixture(t, sender)

	err := f.m.SyncEntityType(context.Background(), "clients")
	require.ErrorIs(t, err, client.ErrAuthExpired)
	assert.Empty(t, f.creds.Token())
	assert.Equal(t, []string{"/login"}, f.nav.History())
}

func TestResyncRejectsOverlap(t *testing.T) {
	gate := make(chan struct{})
	sender := &fakeSender{fetch: func(context.Context, string) ([]entity.Record, error) {
		<-gate
		return nil, nil
	}}
	f := newFixture(t, sender)

	errCh := make(chan error, 1)
	go func() { errCh <- f.m.SyncEntityType(context.Background(), "clients") }()
	require.Eventually(t, func() bool { return len(f.m.GetOperationStatus().Syncing) == 1 }, time.Second, time.Millisecond)

	err := f.m.SyncEntityType(context.Background(), "clients")
	assert.True(t, errors.Is(err, ErrSyncInProgress))

	close(gate)
	require.NoError(t, <-errCh)
}
