package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/nasrelay/pkg/bus"
	"github.com/sipeed/nasrelay/pkg/events"
	"github.com/sipeed/nasrelay/pkg/truenas"
)

const admin int64 = 1001

type result struct {
	statuses truenas.Statuses
	err      error
}

// scriptedLister returns results in order, repeating the last one.
type scriptedLister struct {
	mu      sync.Mutex
	results []result
	calls   int
}

func (s *scriptedLister) ListApps(ctx context.Context) (truenas.Statuses, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	r := s.results[i]
	return r.statuses, r.err
}

func (s *scriptedLister) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type collector struct {
	mu   sync.Mutex
	msgs []bus.OutboundMessage
}

func (c *collector) PublishOutbound(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, m.Text)
	}
	return out
}

func newMonitor(t *testing.T, results ...result) (*Monitor, *collector) {
	t.Helper()
	pub := &collector{}
	m, err := New(&scriptedLister{results: results}, pub, Config{AdminChatID: admin, Credential: "bot-token"})
	require.NoError(t, err)
	return m, pub
}

func ok(s truenas.Statuses) result { return result{statuses: s} }

func pollN(t *testing.T, m *Monitor, n int) []Change {
	t.Helper()
	var last []Change
	for i := 0; i < n; i++ {
		last, _ = m.Poll(context.Background())
	}
	return last
}

func TestFirstPollSeedsWithoutAlerts(t *testing.T) {
	m, pub := newMonitor(t, ok(truenas.Statuses{"a": "up", "b": "down"}))

	changes, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Empty(t, pub.texts())
	assert.Equal(t, truenas.Statuses{"a": "up", "b": "down"}, m.previous)
	assert.Equal(t, "seeded", m.Stats().LastResult)
}

func TestStatusChangeAlertsOnce(t *testing.T) {
	m, pub := newMonitor(t,
		ok(truenas.Statuses{"a": "up"}),
		ok(truenas.Statuses{"a": "down"}),
	)

	changes := pollN(t, m, 2)
	require.Len(t, changes, 1)
	assert.Equal(t, Change{Kind: KindChanged, App: "a", Old: "up", New: "down"}, changes[0])
	assert.Equal(t, []string{"Alert: *a* changed `up` → `down`"}, pub.texts())

	pub.mu.Lock()
	assert.Equal(t, admin, pub.msgs[0].ChatID)
	assert.Equal(t, "bot-token", pub.msgs[0].Credential)
	pub.mu.Unlock()
}

func TestDisappearanceAlerts(t *testing.T) {
	m, pub := newMonitor(t,
		ok(truenas.Statuses{"a": "up", "b": "up"}),
		ok(truenas.Statuses{"b": "up"}),
	)

	changes := pollN(t, m, 2)
	require.Len(t, changes, 1)
	assert.Equal(t, KindDisappeared, changes[0].Kind)
	assert.Equal(t, []string{"Alert: *a* has disappeared from TrueNAS (was `up`)"}, pub.texts())
	assert.Equal(t, truenas.Statuses{"b": "up"}, m.previous)
}

func TestAppearanceIsSilent(t *testing.T) {
	m, pub := newMonitor(t,
		ok(truenas.Statuses{"a": "up"}),
		ok(truenas.Statuses{"a": "up", "c": "up"}),
	)

	changes := pollN(t, m, 2)
	assert.Empty(t, changes)
	assert.Empty(t, pub.texts())
	assert.Equal(t, truenas.Statuses{"a": "up", "c": "up"}, m.previous)
}

func TestFailedPollKeepsSnapshot(t *testing.T) {
	m, pub := newMonitor(t,
		ok(truenas.Statuses{"a": "up"}),
		result{err: errors.New("connection refused")},
		ok(truenas.Statuses{"a": "down"}),
	)

	pollN(t, m, 1)
	changes, err := m.Poll(context.Background())
	require.Error(t, err)
	assert.Empty(t, changes)
	assert.Empty(t, pub.texts())
	assert.Equal(t, truenas.Statuses{"a": "up"}, m.previous)

	// the next good poll still diffs against the pre-failure snapshot
	changes, err = m.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "up", changes[0].Old)
}

func TestEmptyPollIsSkipped(t *testing.T) {
	m, pub := newMonitor(t,
		ok(truenas.Statuses{"a": "up", "b": "up"}),
		ok(truenas.Statuses{}),
		ok(truenas.Statuses{"a": "up", "b": "up"}),
	)

	pollN(t, m, 1)
	_, err := m.Poll(context.Background())
	assert.ErrorIs(t, err, ErrEmptyResult)
	assert.Empty(t, pub.texts())
	assert.Len(t, m.previous, 2)

	changes, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestEmptyFirstPollDoesNotSeed(t *testing.T) {
	m, pub := newMonitor(t,
		ok(nil),
		ok(truenas.Statuses{"a": "up"}),
		ok(truenas.Statuses{"a": "down"}),
	)

	pollN(t, m, 2)
	assert.Empty(t, pub.texts())
	assert.Equal(t, truenas.Statuses{"a": "up"}, m.previous)

	pollN(t, m, 1)
	assert.Len(t, pub.texts(), 1)
}

func TestSnapshotIsReplacedNotMerged(t *testing.T) {
	m, pub := newMonitor(t,
		ok(truenas.Statuses{"a": "up", "b": "up"}),
		ok(truenas.Statuses{"b": "up"}),
		ok(truenas.Statuses{"a": "up", "b": "up"}),
		ok(truenas.Statuses{"b": "up"}),
	)

	pollN(t, m, 4)
	assert.Equal(t, []string{
		"Alert: *a* has disappeared from TrueNAS (was `up`)",
		"Alert: *a* has disappeared from TrueNAS (was `up`)",
	}, pub.texts())
}

func TestSnapshotIsolatedFromCallerMap(t *testing.T) {
	shared := truenas.Statuses{"a": "up"}
	m, _ := newMonitor(t, ok(shared))
	pollN(t, m, 1)

	shared["a"] = "mutated"
	assert.Equal(t, "up", m.previous["a"])
}

func TestMonitorEvents(t *testing.T) {
	mb := bus.NewMessageBus(8)
	defer mb.Close()
	sys := mb.SubscribeSystem("test")

	m, _ := newMonitor(t,
		ok(truenas.Statuses{"a": "up"}),
		ok(truenas.Statuses{"a": "down"}),
	)
	m.SetEventPublisher(mb)
	pollN(t, m, 2)

	var types []string
	for len(types) < 3 {
		select {
		case v := <-sys:
			types = append(types, v.(bus.SystemEvent).Type)
		case <-time.After(time.Second):
			t.Fatalf("got events %v", types)
		}
	}
	assert.Equal(t, []string{events.MonitorSeeded, events.MonitorAlert, events.MonitorPolled}, types)
}

func TestRunPollsImmediatelyAndStops(t *testing.T) {
	lister := &scriptedLister{results: []result{ok(truenas.Statuses{"a": "up"})}}
	m, err := New(lister, &collector{}, Config{AdminChatID: admin, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return lister.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestInvalidScheduleRejected(t *testing.T) {
	_, err := New(&scriptedLister{}, &collector{}, Config{Schedule: "every now and then"})
	require.Error(t, err)
}

func TestNextDelay(t *testing.T) {
	m, err := New(&scriptedLister{}, &collector{}, Config{Interval: 30 * time.Second})
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)
	assert.Equal(t, 30*time.Second, m.nextDelay(now))

	m, err = New(&scriptedLister{}, &collector{}, Config{Schedule: "*/5 * * * *"})
	require.NoError(t, err)
	assert.Equal(t, 4*time.Minute+30*time.Second, m.nextDelay(now))
}
