package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPullPayloadShapes(t *testing.T) {
	d := NewDemo(7)

	tests := []struct {
		topic string
		keys  []string
	}{
		{TopicScanner, []string{"active_scans", "queued", "detectors_online", "last_severity"}},
		{TopicEvents, []string{"event", "severity", "contract", "block"}},
		{TopicSimulation, []string{"scenario", "success_rate", "gas_used"}},
		{TopicBytecode, []string{"pairs_compared", "max_similarity", "clusters"}},
		{TopicBridge, []string{"bridge", "locked_value_usd", "transfers_pending", "alert_level"}},
	}
	for _, tt := range tests {
		payload := d.Pull(tt.topic)
		require.NotNil(t, payload, tt.topic)
		for _, k := range tt.keys {
			assert.Contains(t, payload, k, "topic %s", tt.topic)
		}
	}
}

func TestPullUnknownTopic(t *testing.T) {
	d := NewDemo(1)
	payload := d.Pull("teapots")
	require.NotNil(t, payload)
	assert.Empty(t, payload)
}

func TestPullDeterministicUnderSeed(t *testing.T) {
	a := NewDemo(42)
	b := NewDemo(42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Pull(TopicEvents), b.Pull(TopicEvents))
	}
}

func TestEventContractIsAddress(t *testing.T) {
	d := NewDemo(3)
	payload := d.Pull(TopicEvents)
	addr, ok := payload["contract"].(string)
	require.True(t, ok)
	assert.Len(t, addr, 42)
	assert.Equal(t, "0x", addr[:2])
}

func TestDemoFeeds(t *testing.T) {
	src := NewDemo(1)
	feeds := DemoFeeds(src)
	require.Len(t, feeds, 5)

	seen := make(map[string]bool)
	for _, f := range feeds {
		assert.Positive(t, f.Interval)
		assert.NotNil(t, f.Source)
		seen[f.Topic] = true
	}
	for _, topic := range []string{TopicScanner, TopicEvents, TopicSimulation, TopicBytecode, TopicBridge} {
		assert.True(t, seen[topic], topic)
	}
}
