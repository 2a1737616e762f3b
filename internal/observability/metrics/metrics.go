package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "koota"

// Result labels shared by the ingest and scraper counters.
const (
	ResultOK          = "ok"
	ResultRejected    = "rejected"
	ResultError       = "error"
	ResultRateLimited = "rate_limited"
	ResultAuthExpired = "auth_expired"
)

// Metrics exposes application-level instruments. All methods are safe on a nil receiver.
type Metrics struct {
	ingestPackets   *prometheus.CounterVec
	ingestBytes     *prometheus.CounterVec
	ingestChunks    *prometheus.CounterVec
	ingestDuration  *prometheus.HistogramVec
	converterErrors *prometheus.CounterVec
	converterRows   *prometheus.CounterVec
	scraperRuns     *prometheus.CounterVec
	scraperPages    *prometheus.CounterVec
}

// New registers the instruments on reg. Collectors already registered (for
// example by a previous fx app in the same process) are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ingestPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_packets_total",
			Help:      "Ingest requests by adapter and result.",
		}, []string{"adapter", "result"}),
		ingestBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_bytes_total",
			Help:      "Raw payload bytes accepted by adapter.",
		}, []string{"adapter"}),
		ingestChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_chunks_total",
			Help:      "Stored table chunks by adapter and table.",
		}, []string{"adapter", "table"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent in the ingest unit of work.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"adapter"}),
		converterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "converter_errors_total",
			Help:      "Packets skipped by converters after a decoding error.",
		}, []string{"converter"}),
		converterRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "converter_rows_total",
			Help:      "Rows emitted by converters.",
		}, []string{"converter"}),
		scraperRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scraper_runs_total",
			Help:      "Scraper runs by service and result.",
		}, []string{"service", "result"}),
		scraperPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scraper_pages_total",
			Help:      "Pages persisted by scrapers.",
		}, []string{"service"}),
	}

	var err error
	m.ingestPackets, err = register(reg, m.ingestPackets)
	if err != nil {
		return nil, err
	}
	m.ingestBytes, err = register(reg, m.ingestBytes)
	if err != nil {
		return nil, err
	}
	m.ingestChunks, err = register(reg, m.ingestChunks)
	if err != nil {
		return nil, err
	}
	m.ingestDuration, err = register(reg, m.ingestDuration)
	if err != nil {
		return nil, err
	}
	m.converterErrors, err = register(reg, m.converterErrors)
	if err != nil {
		return nil, err
	}
	m.converterRows, err = register(reg, m.converterRows)
	if err != nil {
		return nil, err
	}
	m.scraperRuns, err = register(reg, m.scraperRuns)
	if err != nil {
		return nil, err
	}
	m.scraperPages, err = register(reg, m.scraperPages)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) IngestPacket(adapter, result string, bytes int) {
	if m == nil {
		return
	}
	adapter = label(adapter)
	m.ingestPackets.WithLabelValues(adapter, result).Inc()
	if result == ResultOK && bytes > 0 {
		m.ingestBytes.WithLabelValues(adapter).Add(float64(bytes))
	}
}

func (m *Metrics) IngestChunks(adapter, table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestChunks.WithLabelValues(label(adapter), label(table)).Add(float64(n))
}

func (m *Metrics) ObserveIngest(adapter string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ingestDuration.WithLabelValues(label(adapter)).Observe(elapsed.Seconds())
}

func (m *Metrics) ConverterError(converter string) {
	if m == nil {
		return
	}
	m.converterErrors.WithLabelValues(label(converter)).Inc()
}

func (m *Metrics) ConverterRows(converter string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.converterRows.WithLabelValues(label(converter)).Add(float64(n))
}

func (m *Metrics) ScraperRun(service, result string) {
	if m == nil {
		return
	}
	m.scraperRuns.WithLabelValues(label(service), result).Inc()
}

func (m *Metrics) ScraperPage(service string) {
	if m == nil {
		return
	}
	m.scraperPages.WithLabelValues(label(service)).Inc()
}

func label(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
