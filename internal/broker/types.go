package broker

import (
	"context"

	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
)

// Message is a received message plus the adapter handle needed to settle it.
type Message struct {
	models.InboundMessage
	handle any
}

func NewMessage(msg models.InboundMessage, handle any) *Message {
	return &Message{InboundMessage: msg, handle: handle}
}

type DeadLetterOptions struct {
	Reason      string
	Description string
}

// Settler finalises a message. Each message is settled exactly once.
type Settler interface {
	Complete(ctx context.Context, msg *Message) error
	Abandon(ctx context.Context, msg *Message) error
	DeadLetter(ctx context.Context, msg *Message, opts DeadLetterOptions) error
}

// Receiver pulls messages in peek-lock mode. Nothing is settled implicitly.
type Receiver interface {
	Settler
	// Receive blocks until at least one message is available or ctx is done,
	// and returns at most maxMessages.
	Receive(ctx context.Context, maxMessages int) ([]*Message, error)
	Close(ctx context.Context) error
}

type Source interface {
	// Name is the source kind, used as the prefix of error reasons.
	Name() string
	// EntityPath is the topic or queue the source reads.
	EntityPath() string
	SubscriptionName() string
	NewReceiver(ctx context.Context) (Receiver, error)
	Close(ctx context.Context) error
}
