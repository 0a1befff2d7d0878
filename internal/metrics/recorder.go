package metrics

// Recorder defines observability hooks for the sampling loop and alerting.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	ObserveTemperature(celsius float64)
	IncSensorFailure()
	IncTransition(from, to string)
	SetSupervisorState(state string)
	IncWorkerRestart(success bool)
	IncAlertDelivery(channel string, ok bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTemperature(float64)    {}
func (NoopRecorder) IncSensorFailure()             {}
func (NoopRecorder) IncTransition(string, string)  {}
func (NoopRecorder) SetSupervisorState(string)     {}
func (NoopRecorder) IncWorkerRestart(bool)         {}
func (NoopRecorder) IncAlertDelivery(string, bool) {}
