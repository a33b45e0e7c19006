package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type BillingMetrics struct {
	providersRegistered   prometheus.Counter
	subscribersRegistered prometheus.Counter
	rolloversTotal        prometheus.Counter
	subscribersSettled    prometheus.Counter
	subscribersPaused     prometheus.Counter
	lastRolloverTimestamp prometheus.Gauge
}

var (
	billingOnce     sync.Once
	billingRegistry *BillingMetrics
)

// Billing returns the metrics registry tracking the billing ledger.
func Billing() *BillingMetrics {
	billingOnce.Do(func() {
		billingRegistry = &BillingMetrics{
			providersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "billing_providers_registered_total",
				Help: "Count of successful provider registrations.",
			}),
			subscribersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "billing_subscribers_registered_total",
				Help: "Count of successful subscriber registrations.",
			}),
			rolloversTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "billing_rollovers_total",
				Help: "Count of completed rollover settlements.",
			}),
			subscribersSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "billing_subscribers_settled_total",
				Help: "Count of subscribers charged across all rollovers.",
			}),
			subscribersPaused: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "billing_subscribers_paused_total",
				Help: "Count of subscriptions paused, voluntary and insolvency pauses combined.",
			}),
			lastRolloverTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "billing_last_rollover_timestamp_seconds",
				Help: "Unix timestamp of the most recent completed rollover.",
			}),
		}
		prometheus.MustRegister(
			billingRegistry.providersRegistered,
			billingRegistry.subscribersRegistered,
			billingRegistry.rolloversTotal,
			billingRegistry.subscribersSettled,
			billingRegistry.subscribersPaused,
			billingRegistry.lastRolloverTimestamp,
		)
	})
	return billingRegistry
}

func (m *BillingMetrics) ObserveProviderRegistered() {
	if m == nil {
		return
	}
	m.providersRegistered.Inc()
}

func (m *BillingMetrics) ObserveSubscriberRegistered() {
	if m == nil {
		return
	}
	m.subscribersRegistered.Inc()
}

func (m *BillingMetrics) ObserveSubscriberPaused() {
	if m == nil {
		return
	}
	m.subscribersPaused.Inc()
}

// ObserveRollover records one completed settlement scan.
func (m *BillingMetrics) ObserveRollover(settled, paused uint64, timestamp int64) {
	if m == nil {
		return
	}
	m.rolloversTotal.Inc()
	m.subscribersSettled.Add(float64(settled))
	m.subscribersPaused.Add(float64(paused))
	m.lastRolloverTimestamp.Set(float64(timestamp))
}
