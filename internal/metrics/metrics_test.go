package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersAreCountedAfterInit(t *testing.T) {
	Init()
	Init()

	ObservePoll(ResultSuccess, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(deviceUp))
	ObservePoll(ResultUnavailable, time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(deviceUp))

	before := testutil.ToFloat64(commandsTotal.WithLabelValues("start", ResultFailed))
	ObserveCommand("start", false, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(commandsTotal.WithLabelValues("start", ResultFailed)))

	SequenceStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(sequenceInFlight))
	SequenceFinished("set_current", true)
	assert.Equal(t, 0.0, testutil.ToFloat64(sequenceInFlight))

	IncExternalWrite("SetCurrent", WriteSuppressedEcho)
	assert.Equal(t, 1.0, testutil.ToFloat64(externalWrites.WithLabelValues("SetCurrent", WriteSuppressedEcho)))
}

func TestHandlerExposesBridgeMetrics(t *testing.T) {
	Init()
	IncTransition("StartStop")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "lektrico_bridge_transitions_total"))
}
