package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "gnss_bridge_"

	// Sentence results.
	SentenceOK            = "ok"
	SentenceBadChecksum   = "bad_checksum"
	SentenceMalformed     = "malformed"
	SentenceUnsupported   = "unsupported"
	SentenceOversized     = "oversized"
	SentenceDroppedIdle   = "dropped_idle"
	SentenceParseFallback = "parse_fallback"

	FixPublished  = "published"
	FixSuppressed = "suppressed"
)

var (
	registerOnce sync.Once

	streamBytes  *prometheus.CounterVec
	streamChunks *prometheus.CounterVec
	streamErrors *prometheus.CounterVec

	sentences *prometheus.CounterVec
	fixes     *prometheus.CounterVec

	satelliteUpdates prometheus.Counter
	satellitesInView prometheus.Gauge
	satellitesUsed   prometheus.Gauge

	navigating    prometheus.Gauge
	controlCalls  *prometheus.CounterVec
	busPublishing *prometheus.CounterVec
)

// Init registers the bridge metrics with the default registry. Helpers are
// no-ops until Init is called.
func Init() {
	registerOnce.Do(func() {
		streamBytes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_bytes_total",
				Help: "Bytes read from the receiver by stream",
			},
			[]string{"stream"},
		)
		streamChunks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_chunks_total",
				Help: "Chunks published by stream",
			},
			[]string{"stream"},
		)
		streamErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_errors_total",
				Help: "Transport errors by stream",
			},
			[]string{"stream"},
		)
		sentences = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sentences_total",
				Help: "NMEA sentences by type and result",
			},
			[]string{"type", "result"},
		)
		fixes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fixes_total",
				Help: "Epoch completions by result",
			},
			[]string{"result"},
		)
		satelliteUpdates = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "satellite_list_updates_total",
				Help: "Satellite list publications",
			},
		)
		satellitesInView = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "satellites_in_view",
				Help: "Satellites in the last published list",
			},
		)
		satellitesUsed = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "satellites_used",
				Help: "Satellites used in fix in the last published list",
			},
		)
		navigating = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "navigating",
				Help: "1 while a navigation session is active",
			},
		)
		controlCalls = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "control_calls_total",
				Help: "Navigation control requests by operation and result code",
			},
			[]string{"op", "code"},
		)
		busPublishing = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "adapter_publish_total",
				Help: "Adapter publications by adapter and result",
			},
			[]string{"adapter", "result"},
		)

		prometheus.MustRegister(
			streamBytes,
			streamChunks,
			streamErrors,
			sentences,
			fixes,
			satelliteUpdates,
			satellitesInView,
			satellitesUsed,
			navigating,
			controlCalls,
			busPublishing,
		)
	})
}

func AddStreamBytes(stream string, n int) {
	if n <= 0 {
		return
	}
	if streamBytes != nil {
		streamBytes.WithLabelValues(label(stream)).Add(float64(n))
	}
	if streamChunks != nil {
		streamChunks.WithLabelValues(label(stream)).Inc()
	}
}

func IncStreamError(stream string) {
	if streamErrors != nil {
		streamErrors.WithLabelValues(label(stream)).Inc()
	}
}

// IncSentence counts one framed sentence. typ may be empty when the sentence
// never got far enough to be typed.
func IncSentence(typ, result string) {
	if sentences != nil {
		sentences.WithLabelValues(label(typ), label(result)).Inc()
	}
}

func IncFix(result string) {
	if fixes != nil {
		fixes.WithLabelValues(label(result)).Inc()
	}
}

func ObserveSatellites(inView, used int) {
	if satelliteUpdates != nil {
		satelliteUpdates.Inc()
	}
	if satellitesInView != nil {
		satellitesInView.Set(float64(inView))
	}
	if satellitesUsed != nil {
		satellitesUsed.Set(float64(used))
	}
}

func SetNavigating(on bool) {
	if navigating == nil {
		return
	}
	if on {
		navigating.Set(1)
	} else {
		navigating.Set(0)
	}
}

func IncControlCall(op string, code int) {
	if controlCalls != nil {
		controlCalls.WithLabelValues(label(op), codeLabel(code)).Inc()
	}
}

func IncAdapterPublish(adapter string, ok bool) {
	if busPublishing == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	busPublishing.WithLabelValues(label(adapter), result).Inc()
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func codeLabel(code int) string {
	switch {
	case code == 0:
		return "0"
	case code < 0:
		return "negative"
	case code < 10:
		return strconv.Itoa(code)
	default:
		return "other"
	}
}
