package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func TestTaskCounters(t *testing.T) {
	m := NewMetrics()
	m.TaskSubmitted("scan")
	m.TaskSubmitted("scan")
	m.TaskFinished("scan", false, 1.5)
	m.TaskFinished("scan", true, 0.2)

	body := scrape(t, m)
	assert.Contains(t, body, `chainsentry_tasks_submitted_total{kind="scan"} 2`)
	assert.Contains(t, body, `chainsentry_tasks_completed_total{kind="scan"} 1`)
	assert.Contains(t, body, `chainsentry_tasks_failed_total{kind="scan"} 1`)
	assert.Contains(t, body, `chainsentry_task_duration_seconds_count{kind="scan"} 2`)
}

func TestConnectionGauges(t *testing.T) {
	m := NewMetrics()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.ConnectionDropped()
	m.Subscribed("scanner")
	m.Subscribed("scanner")
	m.Unsubscribed("scanner")

	body := scrape(t, m)
	assert.Contains(t, body, "chainsentry_connections 1")
	assert.Contains(t, body, "chainsentry_connections_dropped_total 1")
	assert.Contains(t, body, `chainsentry_subscriptions{topic="scanner"} 1`)
}

func TestMessageCounters(t *testing.T) {
	m := NewMetrics()
	m.Published("events")
	m.Delivered("events")
	m.Delivered("events")

	body := scrape(t, m)
	assert.Contains(t, body, `chainsentry_messages_published_total{topic="events"} 1`)
	assert.Contains(t, body, `chainsentry_messages_delivered_total{topic="events"} 2`)
}

func TestDedicatedRegistry(t *testing.T) {
	// Collectors live on the instance registry, so only chainsentry
	// metrics appear on the scrape.
	m := NewMetrics()
	m.TaskSubmitted("scan")

	for _, line := range strings.Split(scrape(t, m), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		assert.True(t, strings.HasPrefix(line, "chainsentry_"), line)
	}
}
