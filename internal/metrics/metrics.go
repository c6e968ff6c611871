// Package metrics exposes Prometheus collectors for harvest runs.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

// Recorder implements batch.Metrics and the runner download hooks on top
// of its own registry, so tests and parallel runs never share collectors.
type Recorder struct {
	registry *prometheus.Registry

	itemsTotal                 *prometheus.CounterVec
	itemDurationSeconds        *prometheus.HistogramVec
	itemsProduced              prometheus.Counter
	bytesProducedMB            prometheus.Counter
	attemptsTotal              *prometheus.CounterVec
	cooldownsTotal             prometheus.Counter
	cooldownSeconds            prometheus.Counter
	consecutiveErrors          prometheus.Gauge
	currentPosition            prometheus.Gauge
	downloadsTotal             *prometheus.CounterVec
	downloadBytesTotal         *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
}

// NewRecorder registers every collector on a fresh registry along with the
// Go and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		itemsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Keywords resolved, labeled by terminal status.",
		}, []string{"status"}),
		itemDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_item_duration_seconds",
			Help:    "Wall time from first attempt to terminal record.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"status"}),
		itemsProduced: f.NewCounter(prometheus.CounterOpts{
			Name: "harvester_output_items_total",
			Help: "Items counted in keyword outputs.",
		}),
		bytesProducedMB: f.NewCounter(prometheus.CounterOpts{
			Name: "harvester_output_megabytes_total",
			Help: "Megabytes measured in keyword outputs.",
		}),
		attemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_attempts_total",
			Help: "Runner attempts, labeled by result.",
		}, []string{"result"}),
		cooldownsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "harvester_cooldowns_total",
			Help: "Cooldowns taken after consecutive failures.",
		}),
		cooldownSeconds: f.NewCounter(prometheus.CounterOpts{
			Name: "harvester_cooldown_seconds_total",
			Help: "Seconds spent cooling down.",
		}),
		consecutiveErrors: f.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_consecutive_errors",
			Help: "Current streak of failed or under-delivering attempts.",
		}),
		currentPosition: f.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_current_position",
			Help: "Row position of the keyword in progress.",
		}),
		downloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_downloads_total",
			Help: "Files fetched by the downloader, labeled by site and status.",
		}, []string{"site", "status"}),
		downloadBytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_download_bytes_total",
			Help: "Bytes fetched by the downloader, labeled by site.",
		}, []string{"site"}),
		rateLimitDelaySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the download rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Status API requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Status API latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveAttempt counts one runner attempt.
func (r *Recorder) ObserveAttempt(result string) {
	r.attemptsTotal.WithLabelValues(result).Inc()
}

// ObserveItem records a keyword's terminal outcome.
func (r *Recorder) ObserveItem(status checkpoint.Status, duration time.Duration, items int, sizeMB float64) {
	r.itemsTotal.WithLabelValues(string(status)).Inc()
	r.itemDurationSeconds.WithLabelValues(string(status)).Observe(duration.Seconds())
	if items > 0 {
		r.itemsProduced.Add(float64(items))
	}
	if sizeMB > 0 {
		r.bytesProducedMB.Add(sizeMB)
	}
}

// ObserveCooldown records a completed cooldown.
func (r *Recorder) ObserveCooldown(d time.Duration) {
	r.cooldownsTotal.Inc()
	r.cooldownSeconds.Add(d.Seconds())
}

// SetConsecutiveErrors updates the failure streak gauge.
func (r *Recorder) SetConsecutiveErrors(n int) {
	r.consecutiveErrors.Set(float64(n))
}

// SetCurrentPosition updates the position gauge.
func (r *Recorder) SetCurrentPosition(position int) {
	r.currentPosition.Set(float64(position))
}

// ObserveDownload counts one fetched file.
func (r *Recorder) ObserveDownload(rawURL, status string, bytes int64) {
	site := SanitizeSite(rawURL)
	r.downloadsTotal.WithLabelValues(site, status).Inc()
	if bytes > 0 {
		r.downloadBytesTotal.WithLabelValues(site).Add(float64(bytes))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func (r *Recorder) ObserveRateLimitDelay(rawURL string, d time.Duration) {
	r.rateLimitDelaySeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (r *Recorder) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
