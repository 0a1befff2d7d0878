package metrics

import (
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Supervisor state names used as gauge labels. Kept here so dashboards have
// a single source of truth.
var supervisorStates = []string{"stopped", "running", "throttled"}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	temperature     prom.Gauge
	sensorFailures  prom.Counter
	transitions     *prom.CounterVec
	supervisorState *prom.GaugeVec
	workerRestarts  *prom.CounterVec
	alertDeliveries *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.temperature = prom.NewGauge(prom.GaugeOpts{
			Namespace: "thermwatch",
			Name:      "temperature_celsius",
			Help:      "Last sampled CPU temperature",
		})
		pr.sensorFailures = prom.NewCounter(prom.CounterOpts{
			Namespace: "thermwatch",
			Name:      "sensor_failures_total",
			Help:      "Temperature probe read failures",
		})
		pr.transitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "thermwatch",
			Name:      "transitions_total",
			Help:      "Supervisor state transitions by from/to state",
		}, []string{"from", "to"})
		pr.supervisorState = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "thermwatch",
			Name:      "supervisor_state",
			Help:      "Current supervisor state (1 for the active state, 0 otherwise)",
		}, []string{"state"})
		pr.workerRestarts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "thermwatch",
			Name:      "worker_starts_total",
			Help:      "Worker start attempts by result",
		}, []string{"result"})
		pr.alertDeliveries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "thermwatch",
			Name:      "alert_deliveries_total",
			Help:      "Alert delivery outcomes by channel",
		}, []string{"channel", "result"})
		reg.MustRegister(pr.temperature, pr.sensorFailures, pr.transitions, pr.supervisorState, pr.workerRestarts, pr.alertDeliveries)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveTemperature(celsius float64) {
	if p == nil || p.temperature == nil {
		return
	}
	p.temperature.Set(celsius)
}

func (p *PrometheusRecorder) IncSensorFailure() {
	if p == nil || p.sensorFailures == nil {
		return
	}
	p.sensorFailures.Inc()
}

func (p *PrometheusRecorder) IncTransition(from, to string) {
	if p == nil || p.transitions == nil {
		return
	}
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusRecorder) SetSupervisorState(state string) {
	if p == nil || p.supervisorState == nil {
		return
	}
	for _, s := range supervisorStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		p.supervisorState.WithLabelValues(s).Set(v)
	}
}

func (p *PrometheusRecorder) IncWorkerRestart(success bool) {
	if p == nil || p.workerRestarts == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.workerRestarts.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) IncAlertDelivery(channel string, ok bool) {
	if p == nil || p.alertDeliveries == nil {
		return
	}
	res := "failed"
	if ok {
		res = "success"
	}
	p.alertDeliveries.WithLabelValues(channel, res).Inc()
}
