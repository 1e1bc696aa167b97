package models

// InboundMessage is what the pipeline sees of a received queue message.
type InboundMessage struct {
	MessageID string `json:"message_id"`
	// Body is []byte, string, or an already decoded structure.
	Body any `json:"body"`
	// DeliveryCount is 0-based: the first delivery has count 0.
	DeliveryCount int            `json:"delivery_count"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// Attempt is the 1-based delivery attempt used in logs and dead-letter decisions.
func (m *InboundMessage) Attempt() int {
	return m.DeliveryCount + 1
}
