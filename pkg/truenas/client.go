// Package truenas is a small client for the TrueNAS v2.0 REST API covering
// app status listing, app lifecycle control and system power actions.
package truenas

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/sipeed/nasrelay/pkg/logger"
	"github.com/sipeed/nasrelay/pkg/metrics"
)

// BasePath is appended to the configured appliance URL.
const BasePath = "/api/v2.0"

// Config describes how to reach one appliance.
type Config struct {
	URL                string
	APIKey             string
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	InsecureSkipVerify bool
}

// Statuses maps app name to its state label. A returned map is never
// modified by the client afterwards.
type Statuses map[string]string

// Client issues synchronous calls against the management API.
type Client struct {
	http *resty.Client
}

var (
	appActions    = map[string]bool{"start": true, "stop": true, "restart": true}
	systemActions = map[string]bool{"reboot": true, "shutdown": true}
)

// New builds a client with independent connect and read timeouts.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("truenas: URL is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed appliance certs
	}

	hc := &http.Client{
		Transport: transport,
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
	}

	rc := resty.NewWithClient(hc).
		SetBaseURL(base+BasePath).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{})

	return &Client{http: rc}, nil
}

// ListApps returns the state of every app. Missing or non-scalar name/state
// fields become empty strings; zero apps is an empty map, not an error.
func (c *Client) ListApps(ctx context.Context) (Statuses, error) {
	logger.DebugC("truenas", "Fetching app statuses")

	resp, err := c.exchange(ctx, c.http.R(), http.MethodGet, "/app",
		"list_apps", "", "Failed to fetch app statuses")
	if err != nil {
		return nil, err
	}

	statuses := parseStatuses(resp.Body())
	logger.DebugCF("truenas", "Fetched app statuses", map[string]interface{}{
		"count": len(statuses),
	})
	return statuses, nil
}

// ControlApp starts, stops or restarts one app.
func (c *Client) ControlApp(ctx context.Context, name, action string) (string, error) {
	if !appActions[action] {
		return "", fmt.Errorf("%w: app action %q", ErrUnsupportedAction, action)
	}
	logger.InfoCF("truenas", "Issuing app command", map[string]interface{}{
		"action": action,
		"app":    name,
	})

	req := c.http.R().
		SetPathParam("action", action).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"app_name": name})
	if _, err := c.exchange(ctx, req, http.MethodPost, "/app/{action}",
		action, name, fmt.Sprintf("Failed to %s app '%s'", action, name)); err != nil {
		return "", err
	}

	return fmt.Sprintf("Command `%s` issued for **%s**.", action, name), nil
}

// ControlSystem reboots or shuts down the appliance.
func (c *Client) ControlSystem(ctx context.Context, action string) (string, error) {
	if !systemActions[action] {
		return "", fmt.Errorf("%w: system action %q", ErrUnsupportedAction, action)
	}
	logger.WarnCF("truenas", "Issuing system command", map[string]interface{}{
		"action": action,
	})

	req := c.http.R().SetPathParam("action", action)
	if _, err := c.exchange(ctx, req, http.MethodPost, "/system/{action}",
		action, "", fmt.Sprintf("System command '%s' failed", action)); err != nil {
		return "", err
	}

	return fmt.Sprintf("System `%s` command accepted by TrueNAS.", action), nil
}

// exchange performs one request and folds transport failures and non-2xx
// replies into an *APIError prefixed with what.
func (c *Client) exchange(ctx context.Context, req *resty.Request, method, path, op, target, what string) (*resty.Response, error) {
	started := time.Now()
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		metrics.ObserveAPI(op, "transport_error", started)
		return nil, &APIError{
			Message: fmt.Sprintf("%s: %v", what, err),
			Op:      op,
			Target:  target,
			Err:     err,
		}
	}
	if !resp.IsSuccess() {
		metrics.ObserveAPI(op, "http_error", started)
		return nil, &APIError{
			Message:    fmt.Sprintf("%s: HTTP %d", what, resp.StatusCode()),
			Op:         op,
			Target:     target,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("%w %s: %s", ErrHTTPStatus, resp.Status(), snippet(resp.Body())),
		}
	}
	metrics.ObserveAPI(op, "ok", started)
	return resp, nil
}

func parseStatuses(body []byte) Statuses {
	statuses := Statuses{}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		return statuses
	}
	doc.ForEach(func(_, app gjson.Result) bool {
		statuses[scalar(app.Get("name"))] = scalar(app.Get("state"))
		return true
	})
	return statuses
}

// scalar renders strings, numbers and booleans as text; anything else is "".
func scalar(r gjson.Result) string {
	switch r.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return r.String()
	default:
		return ""
	}
}

// restyLogger routes resty's internal warnings into the component logger.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) {
	logger.ErrorC("truenas", fmt.Sprintf(format, v...))
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	logger.WarnC("truenas", fmt.Sprintf(format, v...))
}

func (restyLogger) Debugf(format string, v ...interface{}) {
	logger.DebugC("truenas", fmt.Sprintf(format, v...))
}

const snippetRunes = 200

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if r := []rune(s); len(r) > snippetRunes {
		return string(r[:snippetRunes]) + "…"
	}
	return s
}
