// Package commands turns admin chat text into TrueNAS calls and replies.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sipeed/nasrelay/pkg/truenas"
)

// Apps is the subset of the TrueNAS client the commands need.
type Apps interface {
	ListApps(ctx context.Context) (truenas.Statuses, error)
	ControlApp(ctx context.Context, name, action string) (string, error)
	ControlSystem(ctx context.Context, action string) (string, error)
}

const (
	NoAppsText = "No apps found on TrueNAS."

	HelpText = "Unknown command. Available commands:\n" +
		"/containers — list all apps and their status\n" +
		"/start <app> — start an app\n" +
		"/stop <app> — stop an app\n" +
		"/restart <app> — restart an app\n" +
		"/restart_server — reboot the TrueNAS server\n" +
		"/shutdown_server — shut down the TrueNAS server"
)

// Command is one parsed chat command. Parse never fails: unknown input
// becomes Help and a missing argument becomes Usage.
type Command interface {
	// Name is the lower-cased first token, used for logs and metrics.
	Name() string
	Execute(ctx context.Context, api Apps) (string, error)
}

// ListApps lists every app sorted by name.
type ListApps struct{}

// ControlApp starts, stops or restarts one app.
type ControlApp struct {
	Action string // start, stop or restart
	App    string
}

// ControlSystem reboots or shuts down the appliance.
type ControlSystem struct {
	Command string // the chat command, e.g. /restart_server
	Action  string // reboot or shutdown
}

// Usage reports a recognized command missing its argument.
type Usage struct {
	Command string
}

// Help answers anything unrecognized.
type Help struct {
	Command string
}

// Parse splits trimmed text on whitespace. The first token, lower-cased, is
// the command; extra arguments beyond those required are ignored.
func Parse(text string) Command {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return Help{}
	}
	name := strings.ToLower(parts[0])
	args := parts[1:]

	switch name {
	case "/containers":
		return ListApps{}
	case "/start", "/stop", "/restart":
		if len(args) == 0 {
			return Usage{Command: name}
		}
		return ControlApp{Action: strings.TrimPrefix(name, "/"), App: args[0]}
	case "/restart_server":
		return ControlSystem{Command: name, Action: "reboot"}
	case "/shutdown_server":
		return ControlSystem{Command: name, Action: "shutdown"}
	default:
		return Help{Command: name}
	}
}

func (ListApps) Name() string { return "/containers" }

func (ListApps) Execute(ctx context.Context, api Apps) (string, error) {
	statuses, err := api.ListApps(ctx)
	if err != nil {
		return "", err
	}
	return FormatStatuses(statuses), nil
}

func (c ControlApp) Name() string { return "/" + c.Action }

func (c ControlApp) Execute(ctx context.Context, api Apps) (string, error) {
	return api.ControlApp(ctx, c.App, c.Action)
}

func (c ControlSystem) Name() string { return c.Command }

func (c ControlSystem) Execute(ctx context.Context, api Apps) (string, error) {
	return api.ControlSystem(ctx, c.Action)
}

func (u Usage) Name() string { return u.Command }

func (u Usage) Execute(context.Context, Apps) (string, error) {
	return fmt.Sprintf("Usage: `%s <app_name>`", u.Command), nil
}

func (h Help) Name() string { return h.Command }

func (Help) Execute(context.Context, Apps) (string, error) {
	return HelpText, nil
}

// FormatStatuses renders one line per app in name order.
func FormatStatuses(statuses truenas.Statuses) string {
	if len(statuses) == 0 {
		return NoAppsText
	}
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("• *%s*: `%s`", name, statuses[name]))
	}
	return strings.Join(lines, "\n")
}
