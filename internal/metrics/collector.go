// Package meshmetrics implements the Prometheus metrics surface for
// the meshapp daemon: peer table, subscriber table, settings flush,
// and SRP lease lifecycle.
package meshmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "meshapp"
	subsystem = "node"
)

// Label names.
const (
	labelURI  = "uri"
	labelKind = "kind"
)

// -------------------------------------------------------------------------
// Collector — Prometheus meshapp Metrics
// -------------------------------------------------------------------------

// Collector holds all meshapp Prometheus metrics.
//
//   - Peers/Subscribers gauges track the live row counts in the bounded
//     tables.
//   - PairAdmitted/PairRejected counters track the single-consumer
//     worker's admission outcomes.
//   - NotifySent/NotifyDropped count observer fan-out deliveries.
//   - SettingsFlush* counters record the debounced flush worker outcomes.
//   - LeaseRefresh counts SRP lease-watchdog refresh cycles.
type Collector struct {
	// Peers tracks the number of currently live peer-table rows.
	Peers prometheus.Gauge

	// Subscribers tracks the number of currently live subscriber-table
	// rows.
	Subscribers prometheus.Gauge

	// PairQueueDepth tracks the current depth of the pair queue.
	PairQueueDepth prometheus.Gauge

	// PairAdmitted counts peers admitted by the pair worker, labeled by
	// outcome.
	PairAdmitted *prometheus.CounterVec

	// PairRejected counts candidates the pair worker rejected under
	// admission policy or dropped for capacity.
	PairRejected *prometheus.CounterVec

	// NotifySent counts observer fan-out PUTs successfully enqueued to
	// the CoAP layer, labeled by URI.
	NotifySent *prometheus.CounterVec

	// NotifyDropped counts fan-out PUTs that the CoAP layer reported as
	// TransportDropped.
	NotifyDropped *prometheus.CounterVec

	// SettingsFlush counts completed flush cycles, labeled by outcome
	// ("written", "skipped_equal", "storage_error").
	SettingsFlush *prometheus.CounterVec

	// SettingsBufBytes tracks the current RAM record-buffer occupancy in
	// bytes.
	SettingsBufBytes prometheus.Gauge

	// LeaseRefresh counts SRP lease-watchdog refresh cycles.
	LeaseRefresh prometheus.Counter
}

// NewCollector creates a Collector with all meshapp metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Peers,
		c.Subscribers,
		c.PairQueueDepth,
		c.PairAdmitted,
		c.PairRejected,
		c.NotifySent,
		c.NotifyDropped,
		c.SettingsFlush,
		c.SettingsBufBytes,
		c.LeaseRefresh,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	return &Collector{
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peers",
			Help:      "Number of currently live rows in the pair registry's peer table.",
		}),

		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscribers",
			Help:      "Number of currently live rows in the observer engine's subscriber table.",
		}),

		PairQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pair_queue_depth",
			Help:      "Current depth of the single-consumer pair queue.",
		}),

		PairAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pair_admitted_total",
			Help:      "Total pair-queue items processed, labeled by admission outcome.",
		}, []string{labelKind}),

		PairRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pair_rejected_total",
			Help:      "Total pair-queue items rejected, labeled by reason.",
		}, []string{labelKind}),

		NotifySent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notify_sent_total",
			Help:      "Total observer fan-out notifications sent, labeled by URI.",
		}, []string{labelURI}),

		NotifyDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notify_dropped_total",
			Help:      "Total observer fan-out notifications dropped by the transport, labeled by URI.",
		}, []string{labelURI}),

		SettingsFlush: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "settings_flush_total",
			Help:      "Total settings-store flush cycles, labeled by outcome.",
		}, []string{labelKind}),

		SettingsBufBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "settings_buffer_bytes",
			Help:      "Current occupancy of the in-RAM settings record buffer, in bytes.",
		}),

		LeaseRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lease_refresh_total",
			Help:      "Total SRP lease-watchdog refresh cycles triggered.",
		}),
	}
}

// -------------------------------------------------------------------------
// Peer / Subscriber Table Occupancy
// -------------------------------------------------------------------------

// SetPeerCount sets the live peer-table row gauge to n.
func (c *Collector) SetPeerCount(n int) {
	c.Peers.Set(float64(n))
}

// SetSubscriberCount sets the live subscriber-table row gauge to n.
func (c *Collector) SetSubscriberCount(n int) {
	c.Subscribers.Set(float64(n))
}

// SetPairQueueDepth sets the current pair-queue depth gauge to n.
func (c *Collector) SetPairQueueDepth(n int) {
	c.PairQueueDepth.Set(float64(n))
}

// -------------------------------------------------------------------------
// Pair Worker
// -------------------------------------------------------------------------

// IncPairAdmitted increments the pair-admission counter for the given
// outcome kind (e.g. "added", "updated", "no_need_update").
func (c *Collector) IncPairAdmitted(kind string) {
	c.PairAdmitted.WithLabelValues(kind).Inc()
}

// IncPairRejected increments the pair-rejection counter for the given
// reason kind (e.g. "not_allowed", "not_local_group", "list_full").
func (c *Collector) IncPairRejected(kind string) {
	c.PairRejected.WithLabelValues(kind).Inc()
}

// -------------------------------------------------------------------------
// Observer Fan-out
// -------------------------------------------------------------------------

// IncNotifySent increments the notify-sent counter for the given URI.
func (c *Collector) IncNotifySent(uri string) {
	c.NotifySent.WithLabelValues(uri).Inc()
}

// IncNotifyDropped increments the notify-dropped counter for the given URI.
func (c *Collector) IncNotifyDropped(uri string) {
	c.NotifyDropped.WithLabelValues(uri).Inc()
}

// -------------------------------------------------------------------------
// Settings Store
// -------------------------------------------------------------------------

// IncSettingsFlush increments the settings-flush counter for the given
// outcome kind ("written", "skipped_equal", or "storage_error").
func (c *Collector) IncSettingsFlush(kind string) {
	c.SettingsFlush.WithLabelValues(kind).Inc()
}

// SetSettingsBufBytes sets the settings RAM-buffer occupancy gauge.
func (c *Collector) SetSettingsBufBytes(n int) {
	c.SettingsBufBytes.Set(float64(n))
}

// -------------------------------------------------------------------------
// Service Lifecycle
// -------------------------------------------------------------------------

// IncLeaseRefresh increments the SRP lease-refresh counter.
func (c *Collector) IncLeaseRefresh() {
	c.LeaseRefresh.Inc()
}
