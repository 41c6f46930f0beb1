package tool

// InvokeObservation captures one tool invocation outcome.
type InvokeObservation struct {
	ToolName     string
	InvocationID string
	DurationMS   int64
	Success      bool
	ErrorCode    string
	ResultCount  int
}

// Observer receives tool-level observability events.
type Observer interface {
	ObserveInvoke(observation InvokeObservation)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(InvokeObservation)

// ObserveInvoke calls f.
func (f ObserverFunc) ObserveInvoke(observation InvokeObservation) {
	f(observation)
}

type noopObserver struct{}

func (noopObserver) ObserveInvoke(InvokeObservation) {}
