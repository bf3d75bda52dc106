package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a private registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

type AppMetrics struct {
	CycleTotal       *prometheus.CounterVec   // labels: result=ok|partial|error
	CycleDuration    prometheus.Histogram     // whole cycle, plan to OnAfterPoll
	TaskFailures     prometheus.Counter       // failed register tasks
	ModbusOpDuration *prometheus.HistogramVec // labels: op
	ModbusReconnects prometheus.Counter
	Channels         prometheus.Gauge
	StateMachine     prometheus.Gauge
	Towers           prometheus.Gauge
	MQTTPublished    *prometheus.CounterVec // labels: result=ok|error
}

func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		CycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homebattery_cycle_total",
			Help: "Poll cycles by result.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "homebattery_cycle_duration_seconds",
			Help:    "Duration of a poll cycle.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
		}),
		TaskFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homebattery_task_failures_total",
			Help: "Register tasks that failed.",
		}),
		ModbusOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "homebattery_modbus_op_duration_seconds",
			Help:    "Duration of Modbus operations.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		ModbusReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homebattery_modbus_reconnects_total",
			Help: "Modbus reconnections.",
		}),
		Channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homebattery_channels",
			Help: "Number of registered channels.",
		}),
		StateMachine: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homebattery_state_machine",
			Help: "Current state machine code.",
		}),
		Towers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homebattery_towers",
			Help: "Detected battery towers.",
		}),
		MQTTPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homebattery_mqtt_published_total",
			Help: "MQTT publications by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.CycleTotal, m.CycleDuration, m.TaskFailures, m.ModbusOpDuration, m.ModbusReconnects,
		m.Channels, m.StateMachine, m.Towers, m.MQTTPublished)
	return m
}

// RecordModbusOp matches the signature of the Modbus client instrumentation hook.
func (m *AppMetrics) RecordModbusOp(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModbusOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *AppMetrics) ObserveCycle(succeeded, failed int, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case succeeded == 0 && failed > 0:
		result = "error"
	case failed > 0:
		result = "partial"
	}
	m.CycleTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(d.Seconds())
	m.TaskFailures.Add(float64(failed))
}

func (m *AppMetrics) ObservePublish(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.MQTTPublished.WithLabelValues("error").Inc()
		return
	}
	m.MQTTPublished.WithLabelValues("ok").Inc()
}

func (m *AppMetrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.ModbusReconnects.Inc()
}
