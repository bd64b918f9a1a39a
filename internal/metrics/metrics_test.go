package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/secret/{id}", "410"))
	ObserveHTTPRequest("GET", "/secret/{id}", 410, 20*time.Millisecond)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/secret/{id}", "410"))
	assert.Equal(t, before+1, after)
}

func TestObserveQuery(t *testing.T) {
	ObserveQuery("claim", time.Millisecond, nil)
	ObserveQuery("claim", time.Millisecond, errors.New("boom"))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(dbQueryDuration), 2)
}

func TestOperations(t *testing.T) {
	var obs Operations
	before := testutil.ToFloat64(secretOperationsTotal.WithLabelValues("retrieve", "gone"))
	obs.ObserveOperation("retrieve", "gone", time.Millisecond)
	obs.ObserveOperation("retrieve", "gone", time.Millisecond)
	assert.Equal(t, before+2, testutil.ToFloat64(secretOperationsTotal.WithLabelValues("retrieve", "gone")))
}

func TestSweeps(t *testing.T) {
	var s Sweeps
	deleted := testutil.ToFloat64(sweepDeletedTotal)
	failures := testutil.ToFloat64(sweepFailuresTotal)

	s.ObserveSweep(5, nil)
	s.ObserveSweep(0, errors.New("db down"))
	s.SetPending(7)

	assert.Equal(t, deleted+5, testutil.ToFloat64(sweepDeletedTotal))
	assert.Equal(t, failures+1, testutil.ToFloat64(sweepFailuresTotal))
	assert.Equal(t, float64(7), testutil.ToFloat64(secretsPending))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveHTTPRequest("POST", "/secret", 201, time.Millisecond)

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "oncesecret_http_requests_total"))
}
