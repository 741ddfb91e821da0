// Package app is the composition root: it wires the TrueNAS client, the bus
// transport, the dispatcher, the state monitor and the gateway, and owns
// their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/sipeed/nasrelay/pkg/api"
	"github.com/sipeed/nasrelay/pkg/bus"
	"github.com/sipeed/nasrelay/pkg/commands"
	"github.com/sipeed/nasrelay/pkg/config"
	"github.com/sipeed/nasrelay/pkg/events"
	"github.com/sipeed/nasrelay/pkg/logger"
	"github.com/sipeed/nasrelay/pkg/metrics"
	"github.com/sipeed/nasrelay/pkg/monitor"
	"github.com/sipeed/nasrelay/pkg/truenas"
)

const (
	busBuffer    = 100
	drainTimeout = 5 * time.Second
)

// App holds the wired components of one relay process.
type App struct {
	cfg        *config.Config
	version    string
	bus        *bus.MessageBus
	client     *truenas.Client
	dispatcher *commands.Dispatcher
	monitor    *monitor.Monitor // nil when disabled
	gateway    *api.Server      // nil when disabled
}

// New builds every component without starting anything or touching the
// network. The transport is connected in Run.
func New(cfg *config.Config, version string) (*App, error) {
	client, err := NewTrueNASClient(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	mb := bus.NewMessageBus(busBuffer)

	a := &App{
		cfg:     cfg,
		version: version,
		bus:     mb,
		client:  client,
	}

	a.dispatcher = commands.NewDispatcher(client, mb, cfg.Bot.AdminChatID)
	a.dispatcher.SetEventPublisher(mb)

	if cfg.Monitor.Enabled {
		a.monitor, err = monitor.New(client, mb, monitor.Config{
			AdminChatID: cfg.Bot.AdminChatID,
			Credential:  cfg.Bot.Token,
			Interval:    cfg.Monitor.Interval,
			Schedule:    cfg.Monitor.Schedule,
		})
		if err != nil {
			return nil, err
		}
		a.monitor.SetEventPublisher(mb)
	}

	if cfg.Gateway.Enabled {
		var stats api.MonitorStats
		if a.monitor != nil {
			stats = a.monitor
		}
		a.gateway = api.NewServer(api.Options{
			Addr:      cfg.Gateway.Addr(),
			APIKey:    cfg.Gateway.APIKey,
			Version:   version,
			Transport: cfg.Messaging.Transport,
		}, mb, stats, reg)
	}

	return a, nil
}

// NewTrueNASClient maps config onto the API client.
func NewTrueNASClient(cfg *config.Config) (*truenas.Client, error) {
	return truenas.New(truenas.Config{
		URL:                cfg.TrueNAS.URL,
		APIKey:             cfg.TrueNAS.APIKey,
		ConnectTimeout:     cfg.TrueNAS.ConnectTimeout(),
		ReadTimeout:        cfg.TrueNAS.ReadTimeout(),
		InsecureSkipVerify: cfg.TrueNAS.InsecureSkipVerify,
	})
}

// Bus exposes the in-process bus.
func (a *App) Bus() *bus.MessageBus { return a.bus }

// Run connects the transport and runs every component until ctx is done or
// one of them fails. The bus is closed last.
func (a *App) Run(ctx context.Context) error {
	defer a.bus.Close()

	sink, pump, closeTransport, err := a.transport(ctx)
	if err != nil {
		return err
	}
	defer closeTransport()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.bus.RunOutbound(gctx, sink)
		return nil
	})
	if pump != nil {
		g.Go(func() error { return pump(gctx, a.bus) })
	}
	g.Go(func() error {
		return a.dispatcher.Run(gctx, a.bus, a.cfg.Dispatcher.Workers)
	})
	if a.monitor != nil {
		g.Go(func() error { return a.monitor.Run(gctx) })
	}
	if a.gateway != nil {
		g.Go(func() error { return a.gateway.Run(gctx) })
	}

	logger.InfoCF("app", "nasrelay started", map[string]interface{}{
		"version":   a.version,
		"transport": a.cfg.Messaging.Transport,
		"monitor":   a.monitor != nil,
		"gateway":   a.gateway != nil,
	})
	a.bus.PublishSystem(bus.SystemEvent{
		Type:   events.SystemStarted,
		Source: events.SourceApp,
		Data:   events.SystemEventData{Version: a.version, Transport: a.cfg.Messaging.Transport},
	})

	<-gctx.Done()
	reason := context.Cause(gctx).Error()
	a.bus.PublishSystem(bus.SystemEvent{
		Type:   events.SystemStopping,
		Source: events.SourceApp,
		Data:   events.SystemEventData{Version: a.version, Message: reason},
	})
	logger.InfoCF("app", "nasrelay stopping", map[string]interface{}{"reason": reason})

	err = g.Wait()

	// producers are stopped; flush what they left on the outbound buffer
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if delivered, _ := a.bus.DrainOutbound(drainCtx, sink); delivered > 0 {
		logger.InfoCF("app", "Flushed outbound messages on shutdown", map[string]interface{}{"delivered": delivered})
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type pumpFunc func(ctx context.Context, mb *bus.MessageBus) error

func (a *App) transport(ctx context.Context) (bus.Sink, pumpFunc, func(), error) {
	m := a.cfg.Messaging
	switch m.Transport {
	case config.TransportRedis:
		q, err := bus.NewRedisQueue(ctx, bus.RedisQueueConfig{
			Addr:           m.Redis.Addr,
			Password:       m.Redis.Password,
			DB:             m.Redis.DB,
			Incoming:       m.Queues.Incoming,
			Outgoing:       m.Queues.Outgoing,
			DeadLetter:     m.Queues.DeadLetter,
			OutgoingMaxLen: m.Queues.OutgoingMaxLen,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := q.Close(); err != nil {
				logger.WarnCF("app", "Redis close failed", map[string]interface{}{"error": err})
			}
		}
		return q, q.Pump, closeFn, nil
	default:
		logger.WarnC("app", "Memory transport: replies are logged, inbound only via POST /api/inbound")
		return bus.LogSink{}, nil, func() {}, nil
	}
}

// ListApps performs one status listing, formatted like the chat reply.
func ListApps(ctx context.Context, cfg *config.Config) (string, error) {
	client, err := NewTrueNASClient(cfg)
	if err != nil {
		return "", err
	}
	statuses, err := client.ListApps(ctx)
	if err != nil {
		return "", err
	}
	return commands.FormatStatuses(statuses), nil
}
