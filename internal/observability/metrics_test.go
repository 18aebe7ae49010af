package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackInFlight(t *testing.T) {
	Init()
	base := testutil.ToFloat64(httpInFlightGauge)

	done := TrackInFlight()
	assert.Equal(t, base+1, testutil.ToFloat64(httpInFlightGauge))
	done()
	assert.Equal(t, base, testutil.ToFloat64(httpInFlightGauge))
}

func TestObserveHTTP(t *testing.T) {
	Init()
	ObserveHTTP(HTTPRequest{Method: "POST", Route: "/v1/withdrawals", Status: 201, Bytes: 90, Duration: 15 * time.Millisecond})

	assert.Equal(t, 1, testutil.CollectAndCount(httpDurationHistogram, "http_request_duration_seconds"))
	assert.Equal(t, 1, testutil.CollectAndCount(httpSizeHistogram, "http_response_size_bytes"))
}
