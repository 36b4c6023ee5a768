package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/entitysync/internal/observability/log"
)

func TestMemoryStore(t *testing.T) {
	m := NewMemory("tok", &User{ID: "u1"})
	assert.Equal(t, "tok", m.Token())
	assert.Equal(t, "u1", ActorID(m)())

	require.NoError(t, m.RemoveToken())
	require.NoError(t, m.RemoveUser())
	assert.Empty(t, m.Token())
	_, ok := m.User()
	assert.False(t, ok)
	assert.Empty(t, ActorID(m)())
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	f, err := OpenFile(path, log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	assert.Empty(t, f.Token())
	require.NoError(t, f.SetToken("abc"))
	require.NoError(t, f.SetUser(User{ID: "u9", Email: "a@b.c"}))

	reopened, err := OpenFile(path, log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	assert.Equal(t, "abc", reopened.Token())
	u, ok := reopened.User()
	require.True(t, ok)
	assert.Equal(t, "u9", u.ID)

	require.NoError(t, f.RemoveToken())
	require.NoError(t, f.RemoveUser())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestFileStoreReloadsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	f, err := OpenFile(path, log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	data, err := json.Marshal(fileState{Token: "from-login"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	assert.Eventually(t, func() bool { return f.Token() == "from-login" }, 2*time.Second, 10*time.Millisecond)
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := OpenFile(path, log.NewNop())
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	f, err := OpenFile(filepath.Join(t.TempDir(), "s.json"), log.NewNop())
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.NoError(t, f.Close())
}
