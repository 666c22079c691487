package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptLifecycleCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AttemptStarted()
	m.AttemptStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attemptsInFlight))

	m.AttemptFinished("completed", "", 3*time.Second)
	m.AttemptFinished("error", "CHANNEL_DISCONNECTED", time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.attemptsInFlight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attemptsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsFinished.WithLabelValues("error", "CHANNEL_DISCONNECTED")))
}

func TestCatalogAndChannelMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCatalogRequest("list_agents", 200, 20*time.Millisecond)
	m.ObserveCatalogRequest("list_agents", 0, time.Second)
	m.ChannelConnected(true)
	m.ChannelReconnect()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogRequests.WithLabelValues("list_agents", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogRequests.WithLabelValues("list_agents", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.channelConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.channelReconnect))

	m.ChannelConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.channelConnected))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AttemptStarted()
		m.AttemptFinished("completed", "", time.Second)
		m.ObserveCatalogRequest("get_workflow", 404, time.Millisecond)
		m.ChannelConnected(true)
		m.ChannelReconnect()
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.AttemptStarted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "skyagents_executions_started_total 1")
}
