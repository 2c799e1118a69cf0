package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func TestExporterCounts(t *testing.T) {
	e := NewExporter(DefaultConfig())

	e.CountDelivery("new_message")
	e.CountDelivery("new_message")
	e.CountLLMCall("gpt-4o-mini", "ok", 120, 40)
	e.CountExpression("greeting", "main", true)
	e.CountExpression("reminder", "notification", false)
	e.SetCacheStats(map[string][2]uint64{"session": {7, 3}})
	e.SetSpoolDepth("alice", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(e.messagesDelivered.WithLabelValues("new_message")))
	assert.Equal(t, 120.0, testutil.ToFloat64(e.llmTokens.WithLabelValues("gpt-4o-mini", "prompt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.expressions.WithLabelValues("reminder", "notification", "error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(e.cacheHits.WithLabelValues("session")))
	assert.Equal(t, 4.0, testutil.ToFloat64(e.spoolDepth.WithLabelValues("alice")))
}

func TestExporterServesExposition(t *testing.T) {
	e := NewExporter(DefaultConfig())
	e.CountDelivery("typing")

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "prizm_realtime_messages_delivered_total")
}

func TestQueryTimingHookIntegration(t *testing.T) {
	e := NewExporter(DefaultConfig())
	store.SetQueryTimingHook(func(name string, elapsed time.Duration) {
		e.ObserveQuery(name, elapsed.Seconds())
	})
	defer store.SetQueryTimingHook(nil)

	_, err := store.MeasureQuery("probe", func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(e.queryLatency))
}
