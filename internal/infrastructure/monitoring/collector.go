package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RelayCollector exposes signalling relay metrics.
type RelayCollector struct {
	streamersConnected prometheus.Gauge
	playersConnected   prometheus.Gauge
	messagesForwarded  *prometheus.CounterVec
	protocolErrors     prometheus.Counter
	subscribeFailures  prometheus.Counter
}

func NewRelayCollector(reg prometheus.Registerer) *RelayCollector {
	factory := promauto.With(reg)
	return &RelayCollector{
		streamersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pixelfleet_relay_streamers_connected",
			Help: "Number of identified streamers on this relay",
		}),
		playersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pixelfleet_relay_players_connected",
			Help: "Number of players connected to this relay",
		}),
		messagesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfleet_relay_messages_forwarded_total",
			Help: "Signalling messages relayed between parties",
		}, []string{"type"}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pixelfleet_relay_protocol_errors_total",
			Help: "Inbound signalling messages dropped for schema violations",
		}),
		subscribeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pixelfleet_relay_subscribe_failures_total",
			Help: "Subscriptions to streamers that were not registered",
		}),
	}
}

func (c *RelayCollector) SetStreamers(n int) {
	c.streamersConnected.Set(float64(n))
}

func (c *RelayCollector) SetPlayers(n int) {
	c.playersConnected.Set(float64(n))
}

func (c *RelayCollector) RecordForwarded(msgType string) {
	c.messagesForwarded.WithLabelValues(msgType).Inc()
}

func (c *RelayCollector) RecordProtocolError() {
	c.protocolErrors.Inc()
}

func (c *RelayCollector) RecordSubscribeFailure() {
	c.subscribeFailures.Inc()
}

// FleetCollector exposes matchmaker metrics.
type FleetCollector struct {
	unitsRegistered prometheus.Gauge
	placements      prometheus.Counter
	placementMisses prometheus.Counter
	evictions       prometheus.Counter
	controlMessages *prometheus.CounterVec
}

func NewFleetCollector(reg prometheus.Registerer) *FleetCollector {
	factory := promauto.With(reg)
	return &FleetCollector{
		unitsRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pixelfleet_fleet_units_registered",
			Help: "Capacity units with a live control connection",
		}),
		placements: factory.NewCounter(prometheus.CounterOpts{
			Name: "pixelfleet_fleet_placements_total",
			Help: "Viewer placement requests answered with a unit",
		}),
		placementMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "pixelfleet_fleet_placement_misses_total",
			Help: "Viewer placement requests with no available unit",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "pixelfleet_fleet_evictions_total",
			Help: "Units evicted after missing their liveness deadline",
		}),
		controlMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfleet_fleet_control_messages_total",
			Help: "Control messages received from capacity units",
		}, []string{"type"}),
	}
}

func (c *FleetCollector) SetUnits(n int) {
	c.unitsRegistered.Set(float64(n))
}

func (c *FleetCollector) RecordPlacement() {
	c.placements.Inc()
}

func (c *FleetCollector) RecordPlacementMiss() {
	c.placementMisses.Inc()
}

func (c *FleetCollector) RecordEviction() {
	c.evictions.Inc()
}

func (c *FleetCollector) RecordControlMessage(msgType string) {
	c.controlMessages.WithLabelValues(msgType).Inc()
}
