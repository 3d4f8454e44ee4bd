package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_CountsConnectionsAndEvents(t *testing.T) {
	c := NewCollector()
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.EventRouted("invite-call")
	c.EventDropped("answer-call", "unreachable")
	c.EventDropped("answer-call", "unreachable")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsRouted.WithLabelValues("invite-call")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsDropped.WithLabelValues("answer-call", "unreachable")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.ConnectionOpened()
	c.EventDropped("x", "y")
	c.CallCompleted(10)
}

func TestCollector_HandlerExposesRegistry(t *testing.T) {
	c := NewCollector()
	c.CallAccepted()
	c.CallCompleted(42)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "callrelay_calls_accepted_total 1"))
	assert.True(t, strings.Contains(body, "callrelay_call_duration_seconds_count 1"))
}
