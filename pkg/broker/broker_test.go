package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsentry/chainsentry/pkg/datasource"
	"github.com/chainsentry/chainsentry/pkg/registry"
	"github.com/chainsentry/chainsentry/pkg/wire"
)

// fakeConn records every frame the broker sends to it.
type fakeConn struct {
	mu     sync.Mutex
	frames []*wire.Envelope
	fail   bool
	closed bool
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	env, err := wire.Parse(frame)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) last() *wire.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func (c *fakeConn) countType(mt wire.MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.Type == mt {
			n++
		}
	}
	return n
}

// staticSource always returns the same payload.
type staticSource struct {
	payload map[string]any
}

func (s staticSource) Pull(string) map[string]any {
	return s.payload
}

func newTestBroker(t *testing.T, feeds []datasource.Feed) *Broker {
	t.Helper()
	auth := registry.TokenAuthenticator{"demo-token": "demo"}
	b := New(registry.New(auth), feeds, Options{SendRate: 1000})
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestAttachGreetsWithConnectionID(t *testing.T) {
	b := newTestBroker(t, nil)
	conn := &fakeConn{}

	id := b.Attach(conn)
	require.NotEmpty(t, id)

	greeting := conn.last()
	require.NotNil(t, greeting)
	assert.Equal(t, wire.TypeConnectionEstablished, greeting.Type)
	assert.Equal(t, id, greeting.Data["connection_id"])
}

func TestSubscribeConfirmedWithSnapshot(t *testing.T) {
	feeds := []datasource.Feed{{
		Topic:    "scanner",
		Interval: time.Hour,
		Source:   staticSource{payload: map[string]any{"active_scans": float64(3)}},
	}}
	b := newTestBroker(t, feeds)
	conn := &fakeConn{}
	id := b.Attach(conn)

	// No publish has happened yet; the confirmation must still carry a
	// valid snapshot pulled from the source.
	env := wire.New(wire.TypeSubscribe, "scanner", nil)
	frame, err := env.Encode()
	require.NoError(t, err)
	b.HandleMessage(id, frame)

	confirm := conn.last()
	require.NotNil(t, confirm)
	assert.Equal(t, wire.TypeSubscriptionConfirmed, confirm.Type)
	assert.Equal(t, "scanner", confirm.Service)
	assert.Equal(t, float64(3), confirm.Data["active_scans"])
}

func TestSubscribeWithoutService(t *testing.T) {
	b := newTestBroker(t, nil)
	conn := &fakeConn{}
	id := b.Attach(conn)

	frame, _ := wire.New(wire.TypeSubscribe, "", nil).Encode()
	b.HandleMessage(id, frame)

	assert.Equal(t, wire.TypeError, conn.last().Type)
}

func TestSnapshotPrefersLatestPublish(t *testing.T) {
	b := newTestBroker(t, nil)
	b.Publish("events", map[string]any{"severity": "critical"})

	snap := b.Snapshot("events")
	assert.Equal(t, "critical", snap["severity"])
}

func TestSnapshotUnknownTopic(t *testing.T) {
	b := newTestBroker(t, nil)
	snap := b.Snapshot("nope")
	require.NotNil(t, snap)
	assert.Empty(t, snap)
}

func TestPublishFanOut(t *testing.T) {
	b := newTestBroker(t, nil)

	sub1, sub2, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	id1 := b.Attach(sub1)
	id2 := b.Attach(sub2)
	b.Attach(other)

	subscribe := func(id string) {
		frame, _ := wire.New(wire.TypeSubscribe, "scanner", nil).Encode()
		b.HandleMessage(id, frame)
	}
	subscribe(id1)
	subscribe(id2)

	b.Publish("scanner", map[string]any{"seq": float64(1)})

	assert.Equal(t, 1, sub1.countType(wire.TypeDataUpdate))
	assert.Equal(t, 1, sub2.countType(wire.TypeDataUpdate))
	assert.Equal(t, 0, other.countType(wire.TypeDataUpdate))

	update := sub1.last()
	assert.Equal(t, "scanner", update.Service)
	assert.Equal(t, float64(1), update.Data["seq"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBroker(t, nil)
	conn := &fakeConn{}
	id := b.Attach(conn)

	sub, _ := wire.New(wire.TypeSubscribe, "events", nil).Encode()
	b.HandleMessage(id, sub)
	b.Publish("events", map[string]any{"n": float64(1)})

	unsub, _ := wire.New(wire.TypeUnsubscribe, "events", nil).Encode()
	b.HandleMessage(id, unsub)
	b.Publish("events", map[string]any{"n": float64(2)})

	assert.Equal(t, 1, conn.countType(wire.TypeDataUpdate))
}

func TestHeartbeatResponse(t *testing.T) {
	b := newTestBroker(t, nil)
	conn := &fakeConn{}
	id := b.Attach(conn)

	frame, _ := wire.New(wire.TypeHeartbeat, "", nil).Encode()
	b.HandleMessage(id, frame)

	assert.Equal(t, wire.TypeHeartbeatResponse, conn.last().Type)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	b := newTestBroker(t, nil)
	conn := &fakeConn{}
	id := b.Attach(conn)

	b.HandleMessage(id, []byte(`{{{not json`))

	require.Equal(t, wire.TypeError, conn.last().Type)
	assert.False(t, conn.isClosed())

	// Connection still works afterward.
	frame, _ := wire.New(wire.TypeHeartbeat, "", nil).Encode()
	b.HandleMessage(id, frame)
	assert.Equal(t, wire.TypeHeartbeatResponse, conn.last().Type)
}

func TestUnrecognizedTypeAnsweredWithError(t *testing.T) {
	b := newTestBroker(t, nil)
	conn := &fakeConn{}
	id := b.Attach(conn)

	b.HandleMessage(id, []byte(`{"type":"frobnicate"}`))

	last := conn.last()
	require.Equal(t, wire.TypeError, last.Type)
	assert.False(t, conn.isClosed())
}

func TestAuthenticate(t *testing.T) {
	b := newTestBroker(t, nil)
	conn := &fakeConn{}
	id := b.Attach(conn)

	bad, _ := wire.New(wire.TypeAuthenticate, "", map[string]any{"token": "wrong"}).Encode()
	b.HandleMessage(id, bad)
	require.Equal(t, wire.TypeAuthError, conn.last().Type)
	assert.False(t, conn.isClosed())

	good, _ := wire.New(wire.TypeAuthenticate, "", map[string]any{"token": "demo-token"}).Encode()
	b.HandleMessage(id, good)
	last := conn.last()
	require.Equal(t, wire.TypeAuthSuccess, last.Type)
	assert.Equal(t, "demo", last.Data["user_id"])
}

func TestFailedSendDetaches(t *testing.T) {
	b := newTestBroker(t, nil)
	good, bad := &fakeConn{}, &fakeConn{fail: true}
	goodID := b.Attach(good)
	badID := b.Attach(bad)

	sub, _ := wire.New(wire.TypeSubscribe, "scanner", nil).Encode()
	b.HandleMessage(goodID, sub)
	b.reg.Subscribe(badID, "scanner")

	b.Publish("scanner", map[string]any{"seq": float64(1)})

	assert.True(t, bad.isClosed())
	_, ok := b.reg.Get(badID)
	assert.False(t, ok)

	// The healthy subscriber is unaffected.
	b.Publish("scanner", map[string]any{"seq": float64(2)})
	assert.Equal(t, 2, good.countType(wire.TypeDataUpdate))
}

func TestDetachIdempotent(t *testing.T) {
	b := newTestBroker(t, nil)
	conn := &fakeConn{}
	id := b.Attach(conn)

	b.Detach(id)
	b.Detach(id)

	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, b.reg.Len())
}

func TestIdleEviction(t *testing.T) {
	auth := registry.TokenAuthenticator{"demo-token": "demo"}
	b := New(registry.New(auth), nil, Options{
		SendRate:         1000,
		HeartbeatTimeout: 30 * time.Millisecond,
		JanitorInterval:  10 * time.Millisecond,
	})
	defer b.Close()

	idle, live := &fakeConn{}, &fakeConn{}
	b.Attach(idle)
	liveID := b.Attach(live)
	b.Start()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		hb, _ := wire.New(wire.TypeHeartbeat, "", nil).Encode()
		b.HandleMessage(liveID, hb)
		if idle.isClosed() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.True(t, idle.isClosed())
	assert.False(t, live.isClosed())
	_, ok := b.reg.Get(liveID)
	assert.True(t, ok)
}

func TestCloseTearsDownConnections(t *testing.T) {
	auth := registry.TokenAuthenticator{"demo-token": "demo"}
	b := New(registry.New(auth), nil, Options{SendRate: 1000})

	conn := &fakeConn{}
	b.Attach(conn)

	require.NoError(t, b.Close())
	assert.True(t, conn.isClosed())
	assert.Error(t, b.Close())
}
