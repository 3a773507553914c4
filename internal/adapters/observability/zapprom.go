package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/DJA-prog/MCU/internal/ports"
)

// ZapProm routes structured logs to zap and metrics to the default
// prometheus registerer. Metric names not created here are dropped
// silently, so call sites never have to check registration.
type ZapProm struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewZapProm(log *zap.Logger) *ZapProm {
	frames := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_frames_total",
		Help: "Frames delivered by the transport, any kind.",
	})
	readings := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_readings_total",
		Help: "Readings accepted and committed by the ingestion loop.",
	})
	decodeErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_decode_errors_total",
		Help: "Frames that looked like JSON but failed to decode.",
	})
	unrecognized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_unrecognized_frames_total",
		Help: "Frames matching no known shape.",
	})
	statusEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_status_events_total",
		Help: "Status lines reported by the device.",
	})
	writeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_log_write_failures_total",
		Help: "Readings that could not be persisted to the record log.",
	})
	commands := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_commands_sent_total",
		Help: "Outbound device commands relayed through the transport.",
	})
	transportErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_transport_errors_total",
		Help: "Transport level failures (connect, read, send).",
	})
	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_connected",
		Help: "1 while the transport link is up.",
	})
	buffered := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_buffer_readings",
		Help: "Readings currently held in the in-memory ring.",
	})
	appendLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recorder_log_append_seconds",
		Help:    "Latency of one record log append.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	prometheus.MustRegister(frames, readings, decodeErrs, unrecognized, statusEvents,
		writeFailures, commands, transportErrs, connected, buffered, appendLatency)

	return &ZapProm{
		log: log,
		counters: map[string]prometheus.Counter{
			"recorder_frames_total":              frames,
			"recorder_readings_total":            readings,
			"recorder_decode_errors_total":       decodeErrs,
			"recorder_unrecognized_frames_total": unrecognized,
			"recorder_status_events_total":       statusEvents,
			"recorder_log_write_failures_total":  writeFailures,
			"recorder_commands_sent_total":       commands,
			"recorder_transport_errors_total":    transportErrs,
		},
		gauges: map[string]prometheus.Gauge{
			"recorder_connected":       connected,
			"recorder_buffer_readings": buffered,
		},
		histos: map[string]prometheus.Observer{
			"recorder_log_append_seconds": appendLatency,
		},
	}
}

func (o *ZapProm) LogDebug(msg string, fields ...ports.Field) {
	o.log.Debug(msg, zapFields(fields, nil)...)
}

func (o *ZapProm) LogInfo(msg string, fields ...ports.Field) {
	o.log.Info(msg, zapFields(fields, nil)...)
}

func (o *ZapProm) LogWarn(msg string, err error, fields ...ports.Field) {
	o.log.Warn(msg, zapFields(fields, err)...)
}

func (o *ZapProm) LogError(msg string, err error, fields ...ports.Field) {
	o.log.Error(msg, zapFields(fields, err)...)
}

func (o *ZapProm) IncCounter(name string, v float64) {
	if c, ok := o.counters[name]; ok {
		c.Add(v)
	}
}

func (o *ZapProm) ObserveLatency(name string, seconds float64) {
	if h, ok := o.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (o *ZapProm) SetGauge(name string, v float64) {
	if g, ok := o.gauges[name]; ok {
		g.Set(v)
	}
}

func zapFields(fields []ports.Field, err error) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	if err != nil {
		out = append(out, zap.Error(err))
	}
	return out
}

var _ ports.Observability = (*ZapProm)(nil)
