// Package monitor polls TrueNAS app states and alerts the admin chat when an
// app changes state or disappears.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/sipeed/nasrelay/pkg/bus"
	"github.com/sipeed/nasrelay/pkg/events"
	"github.com/sipeed/nasrelay/pkg/logger"
	"github.com/sipeed/nasrelay/pkg/metrics"
	"github.com/sipeed/nasrelay/pkg/truenas"
)

// DefaultInterval is the fixed delay between the end of one poll and the
// start of the next.
const DefaultInterval = 45 * time.Second

// ErrEmptyResult marks a poll skipped because TrueNAS reported no apps.
var ErrEmptyResult = errors.New("monitor: empty app list")

// Lister fetches the current app states.
type Lister interface {
	ListApps(ctx context.Context) (truenas.Statuses, error)
}

// EventPublisher receives observability events. *bus.MessageBus satisfies it.
type EventPublisher interface {
	PublishSystem(event bus.SystemEvent)
}

// Config addresses alerts and sets the cadence.
type Config struct {
	AdminChatID int64
	Credential  string // bot credential attached to alerts
	Interval    time.Duration
	// Schedule is an optional cron expression. When set, the wait after a
	// poll lasts until the next tick instead of Interval.
	Schedule string
}

// Stats is a point-in-time summary for status endpoints.
type Stats struct {
	LastPoll   time.Time `json:"last_poll"`
	LastResult string    `json:"last_result"`
	Tracked    int       `json:"tracked_apps"`
	Alerts     int       `json:"alerts_total"`
}

// Monitor owns the previous snapshot. Only Poll reads or replaces it, and
// Run never starts a poll before the last one returned.
type Monitor struct {
	api    Lister
	pub    bus.Publisher
	events EventPublisher
	cfg    Config

	previous truenas.Statuses

	statsMu sync.Mutex
	stats   Stats
}

// New validates cfg and returns an unseeded monitor.
func New(api Lister, pub bus.Publisher, cfg Config) (*Monitor, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule != "" && !gronx.New().IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("monitor: invalid cron schedule %q", cfg.Schedule)
	}
	return &Monitor{api: api, pub: pub, cfg: cfg}, nil
}

// SetEventPublisher enables monitor events on the bus system channel.
func (m *Monitor) SetEventPublisher(ep EventPublisher) {
	m.events = ep
}

// Poll runs one read-diff-replace cycle and returns the alerts it sent.
// A failed or empty read leaves the snapshot untouched and returns the
// cause; the first non-empty read only seeds the snapshot.
func (m *Monitor) Poll(ctx context.Context) ([]Change, error) {
	logger.DebugC("monitor", "Running TrueNAS state monitor poll")

	current, err := m.api.ListApps(ctx)
	if err != nil {
		logger.ErrorCF("monitor", "State monitor failed to reach TrueNAS API", map[string]interface{}{
			"error": err,
		})
		m.record("error", 0)
		m.emit(events.MonitorSkipped, events.MonitorEventData{Reason: "error", Message: err.Error()})
		return nil, err
	}

	if len(current) == 0 {
		logger.WarnC("monitor", "TrueNAS returned an empty app list, skipping state diff")
		m.record("empty", 0)
		m.emit(events.MonitorSkipped, events.MonitorEventData{Reason: "empty"})
		return nil, ErrEmptyResult
	}

	if len(m.previous) == 0 {
		m.previous = clone(current)
		logger.InfoCF("monitor", "State monitor initialized", map[string]interface{}{
			"apps": len(current),
		})
		m.record("seeded", 0)
		m.emit(events.MonitorSeeded, events.MonitorEventData{Apps: len(current)})
		return nil, nil
	}

	changes := Diff(m.previous, current)
	for _, c := range changes {
		text := c.Text()
		logger.WarnCF("monitor", text, map[string]interface{}{
			"app":  c.App,
			"kind": c.Kind,
		})
		metrics.MonitorAlertsTotal.WithLabelValues(c.Kind).Inc()
		m.emit(events.MonitorAlert, events.MonitorEventData{App: c.App, Kind: c.Kind, Message: text})

		alert := bus.OutboundMessage{Credential: m.cfg.Credential, ChatID: m.cfg.AdminChatID, Text: text}
		if err := m.pub.PublishOutbound(ctx, alert); err != nil {
			logger.ErrorCF("monitor", "Failed to publish alert", map[string]interface{}{
				"app":   c.App,
				"error": err,
			})
		}
	}

	m.previous = clone(current)
	m.record("diffed", len(changes))
	m.emit(events.MonitorPolled, events.MonitorEventData{Apps: len(current), Alerts: len(changes)})
	return changes, nil
}

// Run polls immediately and then after every delay until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	logger.InfoCF("monitor", "State monitor started", map[string]interface{}{
		"interval": m.cfg.Interval.String(),
		"schedule": m.cfg.Schedule,
	})

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("monitor", "State monitor stopped")
			return nil
		case <-timer.C:
		}

		_, _ = m.Poll(ctx)
		timer.Reset(m.nextDelay(time.Now()))
	}
}

// Stats returns a copy of the latest cycle summary.
func (m *Monitor) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

func (m *Monitor) nextDelay(now time.Time) time.Duration {
	if m.cfg.Schedule == "" {
		return m.cfg.Interval
	}
	next, err := gronx.NextTickAfter(m.cfg.Schedule, now, false)
	if err != nil {
		logger.WarnCF("monitor", "Cron schedule failed, using fixed interval", map[string]interface{}{
			"schedule": m.cfg.Schedule,
			"error":    err,
		})
		return m.cfg.Interval
	}
	return next.Sub(now)
}

func (m *Monitor) record(result string, alerts int) {
	metrics.MonitorPollsTotal.WithLabelValues(result).Inc()
	metrics.MonitorTrackedApps.Set(float64(len(m.previous)))

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.LastPoll = time.Now()
	m.stats.LastResult = result
	m.stats.Tracked = len(m.previous)
	m.stats.Alerts += alerts
}

func (m *Monitor) emit(eventType string, data interface{}) {
	if m.events == nil {
		return
	}
	m.events.PublishSystem(bus.SystemEvent{Type: eventType, Source: events.SourceMonitor, Data: data})
}

func clone(s truenas.Statuses) truenas.Statuses {
	out := make(truenas.Statuses, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
