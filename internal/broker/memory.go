package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
)

var ErrReceiverClosed = errors.New("receiver closed")

type SettleAction string

const (
	ActionComplete   SettleAction = "complete"
	ActionAbandon    SettleAction = "abandon"
	ActionDeadLetter SettleAction = "dead_letter"
)

// Settlement records one settle call made against a MemorySource.
type Settlement struct {
	MessageID     string
	DeliveryCount int
	Action        SettleAction
	Options       DeadLetterOptions
}

// MemorySource is an in-process queue for local runs. Abandoned messages
// are redelivered with their delivery count incremented.
type MemorySource struct {
	entityPath   string
	subscription string
	queue        chan models.InboundMessage

	mu          sync.Mutex
	settlements []Settlement
	settleErr   error
	closed      bool
}

func NewMemorySource(entityPath, subscription string) *MemorySource {
	return &MemorySource{
		entityPath:   entityPath,
		subscription: subscription,
		queue:        make(chan models.InboundMessage, 1024),
	}
}

func (s *MemorySource) Name() string             { return "memory" }
func (s *MemorySource) EntityPath() string       { return s.entityPath }
func (s *MemorySource) SubscriptionName() string { return s.subscription }

func (s *MemorySource) Publish(msg models.InboundMessage) {
	s.queue <- msg
}

// FailSettlements makes every subsequent settle call return err.
func (s *MemorySource) FailSettlements(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleErr = err
}

func (s *MemorySource) Settlements() []Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Settlement, len(s.settlements))
	copy(out, s.settlements)
	return out
}

func (s *MemorySource) NewReceiver(ctx context.Context) (Receiver, error) {
	return &memoryReceiver{source: s, done: make(chan struct{})}, nil
}

func (s *MemorySource) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemorySource) record(msg *Message, action SettleAction, opts DeadLetterOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements = append(s.settlements, Settlement{
		MessageID:     msg.MessageID,
		DeliveryCount: msg.DeliveryCount,
		Action:        action,
		Options:       opts,
	})
	return s.settleErr
}

type memoryReceiver struct {
	source    *MemorySource
	done      chan struct{}
	closeOnce sync.Once
}

func (r *memoryReceiver) Receive(ctx context.Context, maxMessages int) ([]*Message, error) {
	var batch []*Message
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, ErrReceiverClosed
	case m := <-r.source.queue:
		batch = append(batch, NewMessage(m, nil))
	}

	for len(batch) < maxMessages {
		select {
		case m := <-r.source.queue:
			batch = append(batch, NewMessage(m, nil))
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (r *memoryReceiver) Complete(ctx context.Context, msg *Message) error {
	return r.source.record(msg, ActionComplete, DeadLetterOptions{})
}

func (r *memoryReceiver) Abandon(ctx context.Context, msg *Message) error {
	if err := r.source.record(msg, ActionAbandon, DeadLetterOptions{}); err != nil {
		return err
	}
	redelivered := msg.InboundMessage
	redelivered.DeliveryCount++
	select {
	case r.source.queue <- redelivered:
		return nil
	default:
		return errors.New("memory queue full")
	}
}

func (r *memoryReceiver) DeadLetter(ctx context.Context, msg *Message, opts DeadLetterOptions) error {
	return r.source.record(msg, ActionDeadLetter, opts)
}

func (r *memoryReceiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}
