package monitoring

// Event types pushed to live subscribers.
const (
	EventHealthCheck = "health_check"
	EventActionRun   = "action_run"
)

// EventPublisher fans engine events out to interested listeners, such as
// the websocket hub.
type EventPublisher interface {
	Publish(eventType string, data interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}
