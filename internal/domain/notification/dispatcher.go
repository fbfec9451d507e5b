package notification

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_dispatcher.go -package=mocks . Dispatcher

// Dispatcher delivers events to participants. Implementations must not
// block the caller and must swallow delivery failures; the engine never
// rolls back state because a notification was lost.
type Dispatcher interface {
	Dispatch(event *Event)
}

// NopDispatcher discards every event. Used in tests and when no
// delivery channel is configured.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(*Event) {}
