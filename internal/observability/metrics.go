package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	httpSizeHistogram     *prometheus.HistogramVec
	httpInFlightGauge     prometheus.Gauge
	idempotencyCounter    *prometheus.CounterVec
	commissionCounter     *prometheus.CounterVec
	withdrawalCounter     *prometheus.CounterVec
	callbackCounter       *prometheus.CounterVec
	gatewayCallCounter    *prometheus.CounterVec
	manualReviewCounter   *prometheus.CounterVec
	pinLockoutCounter     prometheus.Counter
	walletDriftGauge      prometheus.Gauge
	stuckRecordsGauge     prometheus.Gauge
	workerRunCounter      *prometheus.CounterVec
	panicCounter          *prometheus.CounterVec
	rateLimitedCounter    *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		httpSizeHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size",
			Buckets: prometheus.ExponentialBuckets(64, 4, 7),
		}, []string{"method", "path"})

		httpInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served",
		})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		commissionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_postings_total",
			Help: "Commission ledger postings by type and outcome",
		}, []string{"type", "outcome"})

		withdrawalCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_transitions_total",
			Help: "Withdrawal state machine transitions",
		}, []string{"from", "to"})

		callbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_callbacks_total",
			Help: "Gateway callback outcomes",
		}, []string{"kind", "outcome"})

		gatewayCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound gateway requests",
		}, []string{"operation", "result"})

		manualReviewCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manual_review_flags_total",
			Help: "Records flagged for operator review",
		}, []string{"reason"})

		pinLockoutCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pin_lockouts_total",
			Help: "Wallet PIN lockouts",
		})

		walletDriftGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_balance_drift",
			Help: "Wallets whose stored balances disagree with their journal at the last audit",
		})

		stuckRecordsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_stuck_records",
			Help: "In-flight gateway requests and withdrawals past the stuck threshold at the last audit",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		panicCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_panics_total",
			Help: "Handler panics recovered by route",
		}, []string{"route"})

		rateLimitedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		}, []string{"scope"})

		prometheus.MustRegister(
			httpDurationHistogram,
			httpSizeHistogram,
			httpInFlightGauge,
			idempotencyCounter,
			commissionCounter,
			withdrawalCounter,
			callbackCounter,
			gatewayCallCounter,
			manualReviewCounter,
			pinLockoutCounter,
			walletDriftGauge,
			stuckRecordsGauge,
			workerRunCounter,
			panicCounter,
			rateLimitedCounter,
		)
	})
}

// HTTPRequest is one served request as seen by the metrics middleware.
type HTTPRequest struct {
	Method   string
	Route    string
	Status   int
	Bytes    int
	Duration time.Duration
}

func ObserveHTTP(req HTTPRequest) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(req.Method, req.Route, strconv.Itoa(req.Status)).Observe(req.Duration.Seconds())
	httpSizeHistogram.WithLabelValues(req.Method, req.Route).Observe(float64(req.Bytes))
}

// TrackInFlight counts a request as in flight until the returned func runs.
func TrackInFlight() func() {
	if httpInFlightGauge == nil {
		return func() {}
	}
	httpInFlightGauge.Inc()
	return httpInFlightGauge.Dec
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementCommission(commissionType, outcome string) {
	if commissionCounter == nil {
		return
	}
	commissionCounter.WithLabelValues(commissionType, outcome).Inc()
}

func IncrementWithdrawalTransition(from, to string) {
	if withdrawalCounter == nil {
		return
	}
	withdrawalCounter.WithLabelValues(from, to).Inc()
}

func IncrementCallback(kind, outcome string) {
	if callbackCounter == nil {
		return
	}
	callbackCounter.WithLabelValues(kind, outcome).Inc()
}

func IncrementGatewayCall(operation, result string) {
	if gatewayCallCounter == nil {
		return
	}
	gatewayCallCounter.WithLabelValues(operation, result).Inc()
}

func IncrementManualReview(reason string) {
	if manualReviewCounter == nil {
		return
	}
	manualReviewCounter.WithLabelValues(reason).Inc()
}

func IncrementPinLockout() {
	if pinLockoutCounter == nil {
		return
	}
	pinLockoutCounter.Inc()
}

func SetWalletDrift(n int) {
	if walletDriftGauge == nil {
		return
	}
	walletDriftGauge.Set(float64(n))
}

func SetStuckRecords(n int64) {
	if stuckRecordsGauge == nil {
		return
	}
	stuckRecordsGauge.Set(float64(n))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementPanic(route string) {
	if panicCounter == nil {
		return
	}
	panicCounter.WithLabelValues(route).Inc()
}

func IncrementRateLimited(scope string) {
	if rateLimitedCounter == nil {
		return
	}
	rateLimitedCounter.WithLabelValues(scope).Inc()
}
