// Package broker implements protocol-level message dispatch and data
// distribution for subscriber connections. It sits directly on top of the
// connection registry: transports hand it raw inbound frames, and it fans
// outbound envelopes back to whichever connections are subscribed.
//
// The broker is transport-agnostic. Anything that can carry length-delimited
// frames satisfies Conn; the reference transport is line-delimited JSON over
// TCP (pkg/transport).
package broker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chainsentry/chainsentry/pkg/datasource"
	"github.com/chainsentry/chainsentry/pkg/duration"
	"github.com/chainsentry/chainsentry/pkg/registry"
	"github.com/chainsentry/chainsentry/pkg/telemetry"
	"github.com/chainsentry/chainsentry/pkg/wire"
)

// Conn is the transport-side handle for one subscriber connection.
type Conn interface {
	// Send transmits one encoded frame. An error means the transport is
	// closed or broken; the broker treats it as a disconnect signal.
	Send(frame []byte) error

	// Close tears down the transport.
	Close() error
}

// Options configures broker behavior. The zero value gets reference
// defaults.
type Options struct {
	// Logger for protocol-level events. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics sink; nil disables instrumentation.
	Metrics *telemetry.Metrics

	// SendRate caps data_update deliveries per connection per second.
	// Frames beyond the rate are dropped for that connection rather than
	// queued. Zero defaults to 64/s.
	SendRate rate.Limit

	// HeartbeatTimeout evicts connections that stop heartbeating.
	// Zero defaults to duration.HeartbeatTimeout.
	HeartbeatTimeout time.Duration

	// JanitorInterval is the idle-eviction sweep cadence.
	// Zero defaults to duration.JanitorInterval.
	JanitorInterval time.Duration
}

// Broker routes inbound control frames and fans data out to subscribers.
// Safe for concurrent use.
type Broker struct {
	reg     *registry.Registry
	feeds   []datasource.Feed
	sources map[string]datasource.Source
	logger  *slog.Logger
	metrics *telemetry.Metrics

	sendRate  rate.Limit
	hbTimeout time.Duration
	sweepTick time.Duration

	mu       sync.RWMutex
	conns    map[string]Conn
	limiters map[string]*rate.Limiter
	latest   map[string]map[string]any

	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// New creates a broker over the given registry and feed set.
func New(reg *registry.Registry, feeds []datasource.Feed, opts Options) *Broker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SendRate <= 0 {
		opts.SendRate = 64
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = duration.HeartbeatTimeout
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = duration.JanitorInterval
	}

	sources := make(map[string]datasource.Source, len(feeds))
	for _, f := range feeds {
		sources[f.Topic] = f.Source
	}

	return &Broker{
		reg:       reg,
		feeds:     feeds,
		sources:   sources,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		sendRate:  opts.SendRate,
		hbTimeout: opts.HeartbeatTimeout,
		sweepTick: opts.JanitorInterval,
		conns:     make(map[string]Conn),
		limiters:  make(map[string]*rate.Limiter),
		latest:    make(map[string]map[string]any),
		stop:      make(chan struct{}),
	}
}

// Attach admits a transport connection, registers it, and greets it with a
// connection_established frame carrying its id.
func (b *Broker) Attach(conn Conn) string {
	id := b.reg.Register()

	b.mu.Lock()
	b.conns[id] = conn
	b.limiters[id] = rate.NewLimiter(b.sendRate, int(b.sendRate))
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.ConnectionOpened()
	}
	b.reply(id, wire.New(wire.TypeConnectionEstablished, "", map[string]any{
		"connection_id": id,
	}))
	b.logger.Debug("connection attached", "conn", id)
	return id
}

// Detach removes a connection from the broker and the registry and closes
// its transport. Idempotent.
func (b *Broker) Detach(id string) {
	b.mu.Lock()
	conn, ok := b.conns[id]
	delete(b.conns, id)
	delete(b.limiters, id)
	b.mu.Unlock()

	b.reg.Remove(id)
	if !ok {
		return
	}
	_ = conn.Close()
	if b.metrics != nil {
		b.metrics.ConnectionClosed()
	}
	b.logger.Debug("connection detached", "conn", id)
}

// HandleMessage processes one raw inbound frame from a connection.
// Protocol failures are answered with an error frame; the connection
// always stays open.
func (b *Broker) HandleMessage(id string, raw []byte) {
	env, err := wire.Parse(raw)
	if err != nil {
		b.logger.Debug("malformed frame", "conn", id, "error", err)
		b.reply(id, wire.New(wire.TypeError, "", map[string]any{
			"message": "malformed message",
		}))
		return
	}

	switch env.Type {
	case wire.TypeAuthenticate:
		b.handleAuthenticate(id, env)
	case wire.TypeSubscribe:
		b.handleSubscribe(id, env)
	case wire.TypeUnsubscribe:
		b.handleUnsubscribe(id, env)
	case wire.TypeHeartbeat:
		b.reg.Heartbeat(id)
		b.reply(id, wire.New(wire.TypeHeartbeatResponse, "", nil))
	default:
		b.logger.Debug("unrecognized frame type", "conn", id, "type", env.Type)
		b.reply(id, wire.New(wire.TypeError, "", map[string]any{
			"message": "unrecognized message type",
		}))
	}
}

func (b *Broker) handleAuthenticate(id string, env *wire.Envelope) {
	user, ok := b.reg.Authenticate(id, env.Data)
	if !ok {
		// Failed auth is reported, never disconnected.
		b.reply(id, wire.New(wire.TypeAuthError, "", map[string]any{
			"message": "authentication failed",
		}))
		return
	}
	b.reply(id, wire.New(wire.TypeAuthSuccess, "", map[string]any{
		"user_id": user,
	}))
}

func (b *Broker) handleSubscribe(id string, env *wire.Envelope) {
	topic := env.Service
	if topic == "" {
		b.reply(id, wire.New(wire.TypeError, "", map[string]any{
			"message": "subscribe requires a service",
		}))
		return
	}

	b.reg.Subscribe(id, topic)
	if b.metrics != nil {
		b.metrics.Subscribed(topic)
	}

	// The confirmation carries the topic's current snapshot, not a bare
	// ack, so a subscriber never misses the state that existed when it
	// subscribed.
	b.reply(id, wire.New(wire.TypeSubscriptionConfirmed, topic, b.Snapshot(topic)))
}

func (b *Broker) handleUnsubscribe(id string, env *wire.Envelope) {
	if env.Service == "" {
		return
	}
	b.reg.Unsubscribe(id, env.Service)
	if b.metrics != nil {
		b.metrics.Unsubscribed(env.Service)
	}
}

// Snapshot returns the topic's current state: the last published payload,
// a fresh pull from the topic's source when nothing has been published yet,
// or an empty object for a topic with no source.
func (b *Broker) Snapshot(topic string) map[string]any {
	b.mu.RLock()
	payload, ok := b.latest[topic]
	b.mu.RUnlock()
	if ok {
		return payload
	}
	if src, ok := b.sources[topic]; ok {
		return src.Pull(topic)
	}
	return map[string]any{}
}

// Publish fans payload out to every connection currently subscribed to the
// topic. Delivery is fire-and-forget: a failed send deregisters that
// connection and is never retried or surfaced to the publisher.
func (b *Broker) Publish(topic string, payload map[string]any) {
	b.mu.Lock()
	b.latest[topic] = payload
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.Published(topic)
	}

	env := wire.New(wire.TypeDataUpdate, topic, payload)
	frame, err := env.Encode()
	if err != nil {
		b.logger.Error("encode failed", "topic", topic, "error", err)
		return
	}

	for _, id := range b.reg.SubscribersOf(topic) {
		b.mu.RLock()
		conn, ok := b.conns[id]
		limiter := b.limiters[id]
		b.mu.RUnlock()
		if !ok {
			continue
		}

		// Pacing policy: updates beyond the per-connection rate are
		// dropped for that connection instead of queueing unboundedly.
		if limiter != nil && !limiter.Allow() {
			continue
		}

		if err := conn.Send(frame); err != nil {
			b.logger.Debug("send failed, dropping connection", "conn", id, "error", err)
			b.Detach(id)
			if b.metrics != nil {
				b.metrics.ConnectionDropped()
			}
			continue
		}
		if b.metrics != nil {
			b.metrics.Delivered(topic)
		}
	}
}

// reply sends a control frame to a single connection. A failed send is a
// disconnect signal, same as in the publish path.
func (b *Broker) reply(id string, env *wire.Envelope) {
	frame, err := env.Encode()
	if err != nil {
		b.logger.Error("encode failed", "type", env.Type, "error", err)
		return
	}

	b.mu.RLock()
	conn, ok := b.conns[id]
	b.mu.RUnlock()
	if !ok {
		return
	}
	if err := conn.Send(frame); err != nil {
		b.Detach(id)
		if b.metrics != nil {
			b.metrics.ConnectionDropped()
		}
	}
}

// Start launches the periodic feed publishers and the idle-connection
// janitor. Feeds publish unconditionally on their cadence; publishing to
// zero subscribers is a no-op iteration.
func (b *Broker) Start() {
	b.mu.Lock()
	if b.started || b.closed {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	for _, feed := range b.feeds {
		f := feed
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			ticker := time.NewTicker(f.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-b.stop:
					return
				case <-ticker.C:
					b.Publish(f.Topic, f.Source.Pull(f.Topic))
				}
			}
		}()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.sweepTick)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				b.evictIdle()
			}
		}
	}()
}

// evictIdle drops connections that have not heartbeated within the timeout.
func (b *Broker) evictIdle() {
	for _, id := range b.reg.Stale(b.hbTimeout) {
		b.logger.Info("evicting idle connection", "conn", id)
		b.Detach(id)
		if b.metrics != nil {
			b.metrics.ConnectionDropped()
		}
	}
}

// Close stops feeds and the janitor and tears down every connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("broker: already closed")
	}
	b.closed = true
	started := b.started
	ids := make([]string, 0, len(b.conns))
	for id := range b.conns {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	if started {
		close(b.stop)
		b.wg.Wait()
	}
	for _, id := range ids {
		b.Detach(id)
	}
	return nil
}
