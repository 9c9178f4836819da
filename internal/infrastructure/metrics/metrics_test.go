package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/doeshing/flowcard/internal/domain"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()

	r.CacheHit("memory")
	r.CacheHit("memory")
	r.CacheHit("persistent")
	r.CacheMiss()
	r.ExecutionFinished(domain.StatusFailed, domain.KindPollTimeout, 3*time.Second)
	r.HistorySize(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheHits.WithLabelValues("memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheHits.WithLabelValues("persistent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("Failed", "PollTimeout")))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.historySize))
}

func TestRecordersDoNotShareRegistries(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()
	a.PollAttempt()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.pollAttempts))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.pollAttempts))
}
