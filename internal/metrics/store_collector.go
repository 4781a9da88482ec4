// Package metrics provides Prometheus metrics for the backend API
package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreUsersKnown tracks users registered with the event store
	StoreUsersKnown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "duelcam",
			Subsystem: "store",
			Name:      "users_known",
			Help:      "Number of users registered with the event store",
		},
	)

	// StoreEventsPending tracks events currently held in memory
	StoreEventsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "duelcam",
			Subsystem: "store",
			Name:      "events_pending",
			Help:      "Number of events currently pending in the store",
		},
	)

	// StoreTimersLive tracks armed escalation timers
	StoreTimersLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "duelcam",
			Subsystem: "store",
			Name:      "timers_live",
			Help:      "Number of armed escalation timers",
		},
	)
)

// StoreStatsFunc reports current store occupancy.
type StoreStatsFunc func() (userCount, eventCount, timeoutCount int)

// StoreStatsCollector periodically exports event store occupancy as gauges.
type StoreStatsCollector struct {
	statsFn StoreStatsFunc
	stopCh  chan struct{}
}

// NewStoreStatsCollector creates a collector over the given stats source.
func NewStoreStatsCollector(statsFn StoreStatsFunc) *StoreStatsCollector {
	return &StoreStatsCollector{
		statsFn: statsFn,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting store statistics at regular intervals
func (c *StoreStatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()

	log.Printf("Event store stats collector started with interval: %v", interval)
}

// Stop stops the collector
func (c *StoreStatsCollector) Stop() {
	close(c.stopCh)
}

func (c *StoreStatsCollector) collect() {
	users, events, timers := c.statsFn()
	StoreUsersKnown.Set(float64(users))
	StoreEventsPending.Set(float64(events))
	StoreTimersLive.Set(float64(timers))
}
