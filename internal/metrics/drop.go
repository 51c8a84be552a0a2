package metrics

import "tickstream/logger"

// Metric names emitted by the stream client.
const (
	Reconnects         = "reconnects"
	HandshakeFailures  = "handshake_failures"
	TicksDelivered     = "ticks_delivered"
	TicksFiltered      = "ticks_filtered"
	FramesIgnored      = "frames_ignored"
	IdleTimeouts       = "idle_timeouts"
	InstrumentSwitches = "instrument_switches"
)

// DropMetric names a metric emitted when a bounded queue discards a message.
type DropMetric string

const (
	// DropMetricBridgeEvent records events the UI bridge could not buffer.
	DropMetricBridgeEvent DropMetric = "bridge_events_dropped"
)

// EmitDropMetric emits a single dropped message. Empty labels are omitted.
func EmitDropMetric(log *logger.Log, metric DropMetric, kind, instrument string) {
	fields := logger.Fields{}
	if kind != "" {
		fields["kind"] = kind
	}
	if instrument != "" {
		fields["instrument"] = instrument
	}
	EmitMetric(log, "bridge", string(metric), 1, "counter", fields)
}
