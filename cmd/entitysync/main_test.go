package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/mockapi"
)

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"mock-api", "resync", "status", "apply", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := newRootCommand()
	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestInvalidFormat(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "status", "--no-sync"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestJitteredInterval(t *testing.T) {
	base := 10 * time.Second
	assert.Equal(t, base, jitteredIntervalWithSample(base, 0, 0.2))
	assert.Equal(t, 8*time.Second, jitteredIntervalWithSample(base, 0.2, 0))
	assert.Equal(t, 10*time.Second, jitteredIntervalWithSample(base, 0.2, 0.5))
	assert.Equal(t, 12*time.Second, jitteredIntervalWithSample(base, 0.2, 1))
	assert.Equal(t, time.Duration(0), jitteredIntervalWithSample(0, 0.2, 1))
	assert.Equal(t, time.Millisecond, jitteredIntervalWithSample(base, 5, 0))
}

func TestParseApplyArgs(t *testing.T) {
	req, err := parseApplyArgs([]string{"create", "clients", `{"name":"Acme","revenue":10}`})
	require.NoError(t, err)
	assert.Equal(t, entity.KindCreate, req.Kind)
	assert.Equal(t, "Acme", req.Payload["name"])
	assert.Equal(t, json.Number("10"), req.Payload["revenue"])

	req, err = parseApplyArgs([]string{"create", "clients", "c7", `{"name":"Acme"}`})
	require.NoError(t, err)
	assert.Equal(t, "c7", req.Payload["id"])

	req, err = parseApplyArgs([]string{"update", "clients", "c1", `{"name":"New"}`})
	require.NoError(t, err)
	assert.Equal(t, entity.KindUpdate, req.Kind)
	assert.Equal(t, "c1", req.ID)

	req, err = parseApplyArgs([]string{"delete", "clients", "c1"})
	require.NoError(t, err)
	assert.Equal(t, entity.KindDelete, req.Kind)
	assert.Nil(t, req.Payload)

	for _, args := range [][]string{
		{"upsert", "clients", "{}"},
		{"update", "clients", "{}"},
		{"delete", "clients", "c1", "{}"},
		{"create", "clients", "not json"},
	} {
		_, err = parseApplyArgs(args)
		assert.Error(t, err, "%v", args)
	}
}

// writeConfig points the CLI at a mock API served by httptest.
func writeConfig(t *testing.T, api *mockapi.Server) string {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	path := filepath.Join(t.TempDir(), "entitysync.yaml")
	body := "api_base: " + srv.URL + "\n" +
		"token: tok\n" +
		"log_level: error\n" +
		"base_delay: 1ms\n" +
		"entity_types: [clients, leads]\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResyncCommand(t *testing.T) {
	api := mockapi.New(mockapi.WithToken("tok"))
	api.Seed("clients", []entity.Record{{"id": "c1", "name": "Acme"}, {"id": "c2", "name": "Beta"}})
	cfgPath := writeConfig(t, api)

	out, err := run(t, "--config", cfgPath, "--format", "json", "resync")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Counts map[string]int `json:"counts"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]int{"clients": 2, "leads": 0}, resp.Data.Counts)
}

func TestResyncCommandReportsFailures(t *testing.T) {
	api := mockapi.New(mockapi.WithToken("tok"))
	api.FailNext("GET", "leads", 1, 500)
	cfgPath := writeConfig(t, api)

	out, err := run(t, "--config", cfgPath, "resync")
	require.Error(t, err)
	assert.Contains(t, out, "clients")
	assert.Contains(t, out, "error:")
}

func TestStatusCommand(t *testing.T) {
	api := mockapi.New(mockapi.WithToken("tok"))
	cfgPath := writeConfig(t, api)

	out, err := run(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "retry mode:          head (max 3)")
	assert.Contains(t, out, "signed in:           true")
	assert.Contains(t, out, "last sync clients:")
}

func TestStatusCommandJSON(t *testing.T) {
	api := mockapi.New(mockapi.WithToken("tok"))
	cfgPath := writeConfig(t, api)

	out, err := run(t, "--config", cfgPath, "--format", "json", "status")
	require.NoError(t, err)

	var resp struct {
		Data struct {
			Status struct {
				Notifications struct {
					Published int `json:"published"`
				} `json:"notifications"`
			} `json:"status"`
			Operations []json.RawMessage `json:"operations"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotNil(t, resp.Data.Operations)
	assert.Empty(t, resp.Data.Operations)
	assert.Equal(t, 2, resp.Data.Status.Notifications.Published, "one state change per resynced type")
}

func TestApplyCommand(t *testing.T) {
	api := mockapi.New(mockapi.WithToken("tok"))
	api.Seed("clients", []entity.Record{{"id": "c1", "name": "Acme"}})
	cfgPath := writeConfig(t, api)

	_, err := run(t, "--config", cfgPath, "apply", "create", "clients", "c2", `{"name":"Beta","revenue":5}`)
	require.NoError(t, err)
	_, err = run(t, "--config", cfgPath, "apply", "update", "clients", "c1", `{"name":"Acme Ltd"}`)
	require.NoError(t, err)
	out, err := run(t, "--config", cfgPath, "apply", "delete", "clients", "c2")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted clients/c2")

	records := api.Records("clients")
	require.Len(t, records, 1)
	assert.Equal(t, "Acme Ltd", records[0]["name"])
}

func TestApplyCommandValidation(t *testing.T) {
	api := mockapi.New(mockapi.WithToken("tok"))
	cfgPath := writeConfig(t, api)

	_, err := run(t, "--config", cfgPath, "apply", "create", "clients", `{"revenue":-1}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Validation failed")
	assert.Empty(t, api.Requests())
}
