package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "nasrelay dev\n", out)
}

func TestAppsPrintsStatuses(t *testing.T) {
	nas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"name":"b","state":"STOPPED"},{"name":"a","state":"RUNNING"}]`)
	}))
	defer nas.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "nasrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("truenas:\n  url: "+nas.URL+"\n  api_key: k\nbot:\n  admin_chat_id: 1\n"), 0o600))

	out, err := run(t, "apps", "--config", path, "--env-file", filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "• *a*: `RUNNING`\n• *b*: `STOPPED`\n", out)
}

func TestInvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nasrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("truenas:\n  url: http://nas\n"), 0o600))

	_, err := run(t, "apps", "--config", path, "--env-file", filepath.Join(dir, "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin_chat_id")
}
