package tool

import "sync"

// InvokeObservation captures one pipeline invocation outcome.
type InvokeObservation struct {
	ToolName   string
	Status     Status
	DurationMS float64
	ErrorCode  string
}

// Observer receives tool-level observability events.
type Observer interface {
	ObserveInvoke(observation InvokeObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveInvoke(InvokeObservation) {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide tool observability observer.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func emitInvokeObservation(observation InvokeObservation) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveInvoke(observation)
}
