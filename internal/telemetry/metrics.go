package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Relay loop ----

	// DatagramsTotal counts received datagrams by outcome:
	// "relayed", "short" (<= 1 byte) or "bad_source".
	DatagramsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrrelay",
			Name:      "datagrams_total",
			Help:      "Total number of received datagrams by outcome.",
		},
		[]string{"result"},
	)

	ReceivedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrrelay",
			Name:      "received_bytes_total",
			Help:      "Total payload bytes received.",
		},
	)

	FanoutSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrrelay",
			Name:      "fanout_sends_total",
			Help:      "Per-member send attempts by status.",
		},
		[]string{"status"},
	)

	FanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zephyrrelay",
			Name:      "fanout_duration_seconds",
			Help:      "Time spent sending one message to every member.",
			// 10us .. ~1.3s
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 18),
		},
	)

	Members = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrrelay",
			Name:      "members",
			Help:      "Current number of known members.",
		},
	)

	Joins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrrelay",
			Name:      "member_joins_total",
			Help:      "Total number of endpoints that joined by sending.",
		},
	)

	Evictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrrelay",
			Name:      "member_evictions_total",
			Help:      "Members evicted by the capacity cap.",
		},
	)

	// ---- Admin HTTP ----

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrrelay",
			Name:      "admin_requests_total",
			Help:      "Total number of admin HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrrelay",
			Name:      "admin_request_duration_seconds",
			Help:      "Latency of admin HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrrelay",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrrelay",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		DatagramsTotal, ReceivedBytes, FanoutSends, FanoutDuration,
		Members, Joins, Evictions,
		RequestsTotal, RequestDuration, buildInfo, uptime,
	)
}

// Handler serves Registry in the Prometheus text format on the admin
// listener.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

// RecordBuild publishes the version and commit of the running relay binary.
func RecordBuild(version, gitSHA string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// adminResponse remembers the first status code an admin handler sends.
type adminResponse struct {
	http.ResponseWriter
	code int
}

func (r *adminResponse) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *adminResponse) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// class is "2xx", "4xx" and so on. A handler that sent nothing answered 200.
func (r *adminResponse) class() string {
	code := r.code
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code/100) + "xx"
}

// TrackAdmin counts and times every request h serves under the op label.
func TrackAdmin(op string, h http.Handler) http.Handler {
	latency := RequestDuration.WithLabelValues(op)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		resp := &adminResponse{ResponseWriter: w}
		timer := prometheus.NewTimer(latency)
		h.ServeHTTP(resp, req)
		timer.ObserveDuration()
		RequestsTotal.WithLabelValues(op, resp.class()).Inc()
	})
}
