package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveStep(2.5, 100)
	m.ObserveStep(2.0, 50)
	m.ObserveEpoch(3)
	m.AddGeneratedTokens(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.steps))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.tokens))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.loss))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.generated))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	for _, name := range []string{
		"minigpt_train_steps_total",
		"minigpt_train_tokens_total",
		"minigpt_train_loss",
		"minigpt_epoch_duration_seconds",
		"minigpt_generated_tokens_total",
	} {
		assert.True(t, strings.Contains(body, name), name)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStep(1, 1)
		m.ObserveEpoch(1)
		m.AddGeneratedTokens(1)
	})
}
