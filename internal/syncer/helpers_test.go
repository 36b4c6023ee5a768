package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/entitysync/internal/audit"
	"github.com/zeusync/entitysync/internal/client"
	"github.com/zeusync/entitysync/internal/credentials"
	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/hub"
	"github.com/zeusync/entitysync/internal/observability/log"
	"github.com/zeusync/entitysync/internal/resolver"
	"github.com/zeusync/entitysync/internal/retry"
	"github.com/zeusync/entitysync/internal/session"
)

type sentCall struct {
	Method string
	Path   string
	Body   any
}

// fakeSender records every dispatch. respond decides the outcome of each Send,
// reply its body; fetch serves collection reads.
type fakeSender struct {
	mu      sync.Mutex
	calls   []sentCall
	respond func(n int, c sentCall) error
	reply   func(c sentCall) json.RawMessage
	fetch   func(ctx context.Context, entityType string) ([]entity.Record, error)
}

func (f *fakeSender) Send(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	c := sentCall{Method: method, Path: path, Body: body}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	n := len(f.calls)
	respond, reply := f.respond, f.reply
	f.mu.Unlock()
	if respond != nil {
		if err := respond(n, c); err != nil {
			return nil, err
		}
	}
	if reply != nil {
		return reply(c), nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeSender) Fetch(ctx context.Context, entityType string) ([]entity.Record, error) {
	if f.fetch == nil {
		return nil, nil
	}
	return f.fetch(ctx, entityType)
}

func (f *fakeSender) Calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func (f *fakeSender) Paths() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method + " " + c.Path
	}
	return out
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type fixture struct {
	m      *Manager
	sender client.Sender
	creds  *credentials.Memory
	nav    *session.RecordingNavigator
	sleeps *sleepRecorder
}

type fixtureOption func(*Deps, *[]Option, *[]retry.Option)

func withRetry(opts ...retry.Option) fixtureOption {
	return func(_ *Deps, _ *[]Option, r *[]retry.Option) { *r = append(*r, opts...) }
}

func withManagerOptions(opts ...Option) fixtureOption {
	return func(_ *Deps, o *[]Option, _ *[]retry.Option) { *o = append(*o, opts...) }
}

func withResolver(res resolver.Resolver) fixtureOption {
	return func(d *Deps, _ *[]Option, _ *[]retry.Option) { d.Resolver = res }
}

func newFixture(t *testing.T, sender client.Sender, opts ...fixtureOption) *fixture {
	t.Helper()
	creds := credentials.NewMemory("tok", &credentials.User{ID: "user-1"})
	nav := session.NewRecordingNavigator("/dashboard")
	sleeps := &sleepRecorder{}

	deps := Deps{
		Client: sender,
		Audit:  audit.New(audit.DefaultCapacity, audit.WithActor(credentials.ActorID(creds))),
		Guard:  session.NewGuard(creds, nav, "/login", log.NewNop()),
		Logger: log.NewNop(),
	}
	var mopts []Option
	ropts := []retry.Option{retry.WithSleep(sleeps.Sleep)}
	for _, opt := range opts {
		opt(&deps, &mopts, &ropts)
	}
	deps.Retry = retry.New(ropts...)

	m, err := New(deps, mopts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return &fixture{m: m, sender: sender, creds: creds, nav: nav, sleeps: sleeps}
}

func serverError() error {
	return &client.RequestError{Kind: client.KindServer, StatusCode: 500, Body: "boom"}
}

// collect subscribes to every notification of entityType.
func collect(m *Manager, entityType string) func() []hub.Notification {
	var mu sync.Mutex
	var got []hub.Notification
	m.Subscribe(entityType, func(n hub.Notification) error {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		return nil
	})
	return func() []hub.Notification {
		mu.Lock()
		defer mu.Unlock()
		return append([]hub.Notification(nil), got...)
	}
}

func countType(ns []hub.Notification, typ string) int {
	n := 0
	for _, x := range ns {
		if x.Type == typ {
			n++
		}
	}
	return n
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := m.GetOperationStatus()
		return st.PendingOperations == 0 && !st.IsProcessing
	}, 2*time.Second, 5*time.Millisecond)
}
