package truenas

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	auth   string
	ctype  string
	body   string
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*rec = recorded{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			ctype:  r.Header.Get("Content-Type"),
			body:   string(body),
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL + "/", APIKey: "secret-key"})
	require.NoError(t, err)
	return c, rec
}

func TestListApps(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"name":"plex","state":"RUNNING","version":"1.0"},
			{"name":"nextcloud","state":"STOPPED"},
			{"name":"broken"},
			{"name":"odd","state":{"nested":true}}
		]`)
	})

	statuses, err := c.ListApps(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/api/v2.0/app", rec.path)
	assert.Equal(t, "Bearer secret-key", rec.auth)
	assert.Equal(t, Statuses{
		"plex":      "RUNNING",
		"nextcloud": "STOPPED",
		"broken":    "",
		"odd":       "",
	}, statuses)
}

func TestListAppsEmptyAndNonArray(t *testing.T) {
	for name, body := range map[string]string{
		"empty array": `[]`,
		"object":      `{"error":"nope"}`,
		"null":        `null`,
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			})
			statuses, err := c.ListApps(context.Background())
			require.NoError(t, err)
			assert.NotNil(t, statuses)
			assert.Empty(t, statuses)
		})
	}
}

func TestListAppsHTTPError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.ListApps(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Failed to fetch app statuses: HTTP 500", apiErr.Error())
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, "list_apps", apiErr.Op)
	assert.ErrorIs(t, err, ErrHTTPStatus)
	assert.Contains(t, apiErr.Err.Error(), "boom")
}

func TestControlApp(t *testing.T) {
	for _, action := range []string{"start", "stop", "restart"} {
		t.Run(action, func(t *testing.T) {
			c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			msg, err := c.ControlApp(context.Background(), "plex", action)
			require.NoError(t, err)
			assert.Equal(t, "Command `"+action+"` issued for **plex**.", msg)

			assert.Equal(t, http.MethodPost, rec.method)
			assert.Equal(t, "/api/v2.0/app/"+action, rec.path)
			assert.Equal(t, "Bearer secret-key", rec.auth)
			assert.Contains(t, rec.ctype, "application/json")

			var body map[string]string
			require.NoError(t, json.Unmarshal([]byte(rec.body), &body))
			assert.Equal(t, map[string]string{"app_name": "plex"}, body)
		})
	}
}

func TestControlAppHTTPErrorCarriesActionAndStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.ControlApp(context.Background(), "ghost", "stop")
	require.Error(t, err)
	assert.Equal(t, "Failed to stop app 'ghost': HTTP 404", err.Error())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ghost", apiErr.Target)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestControlSystem(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	msg, err := c.ControlSystem(context.Background(), "reboot")
	require.NoError(t, err)
	assert.Equal(t, "System `reboot` command accepted by TrueNAS.", msg)
	assert.Equal(t, "/api/v2.0/system/reboot", rec.path)
	assert.Empty(t, rec.body)
}

func TestControlSystemHTTPError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.ControlSystem(context.Background(), "shutdown")
	require.Error(t, err)
	assert.Equal(t, "System command 'shutdown' failed: HTTP 403", err.Error())
}

func TestUnsupportedActionsMakeNoRequest(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := c.ControlApp(context.Background(), "plex", "delete")
	assert.ErrorIs(t, err, ErrUnsupportedAction)
	_, err = c.ControlSystem(context.Background(), "format")
	assert.ErrorIs(t, err, ErrUnsupportedAction)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestTransportFailurePreservesCause(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{URL: url, APIKey: "k", ConnectTimeout: time.Second, ReadTimeout: time.Second})
	require.NoError(t, err)

	_, err = c.ListApps(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Zero(t, apiErr.StatusCode)
	assert.NotNil(t, apiErr.Err)
	assert.Contains(t, apiErr.Error(), "Failed to fetch app statuses: ")
}

func TestReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c, err := New(Config{URL: srv.URL, APIKey: "k", ConnectTimeout: time.Second, ReadTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	started := time.Now()
	_, err = c.ListApps(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	require.Error(t, err)
}

func TestErrorBodySnippetKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("é", 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	_, err = c.ListApps(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	cause := apiErr.Err.Error()
	assert.True(t, utf8.ValidString(cause))
	assert.Contains(t, cause, strings.Repeat("é", 200)+"…")
	assert.NotContains(t, cause, strings.Repeat("é", 201))

	assert.Equal(t, "short", snippet([]byte("  short \n")))
}
