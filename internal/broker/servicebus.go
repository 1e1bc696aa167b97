package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/config"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/constants"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
)

// ServiceBusSource reads a topic subscription. Without a connection string
// it is returned unconfigured: EntityPath is empty and NewReceiver fails.
type ServiceBusSource struct {
	cfg    config.ServiceBusConfig
	client *azservicebus.Client
	logger logger.Logger
}

func NewServiceBusSource(cfg config.ServiceBusConfig, log logger.Logger) (*ServiceBusSource, error) {
	source := &ServiceBusSource{cfg: cfg, logger: log}
	if cfg.ConnectionString == "" {
		return source, nil
	}

	if cfg.EntityPath == "" {
		entityPath, err := config.ParseEntityPath(cfg.ConnectionString)
		if err != nil {
			return nil, err
		}
		source.cfg.EntityPath = entityPath
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create service bus client: %w", err)
	}
	source.client = client
	return source, nil
}

func (s *ServiceBusSource) Name() string {
	return constants.SourceServiceBus
}

func (s *ServiceBusSource) EntityPath() string {
	return s.cfg.EntityPath
}

func (s *ServiceBusSource) SubscriptionName() string {
	return s.cfg.SubscriptionName
}

func (s *ServiceBusSource) NewReceiver(ctx context.Context) (Receiver, error) {
	if s.client == nil {
		return nil, errors.New("service bus source is not configured")
	}

	receiver, err := s.client.NewReceiverForSubscription(s.cfg.EntityPath, s.cfg.SubscriptionName, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		return nil, wrapServiceBusError(err)
	}

	s.logger.Infow("Service Bus receiver opened",
		"entity_path", s.cfg.EntityPath,
		"subscription", s.cfg.SubscriptionName,
	)
	return &serviceBusReceiver{receiver: receiver}, nil
}

func (s *ServiceBusSource) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close(ctx)
}

type serviceBusReceiver struct {
	receiver *azservicebus.Receiver
}

func (r *serviceBusReceiver) Receive(ctx context.Context, maxMessages int) ([]*Message, error) {
	received, err := r.receiver.ReceiveMessages(ctx, maxMessages, nil)
	if err != nil {
		return nil, wrapServiceBusError(err)
	}

	messages := make([]*Message, 0, len(received))
	for _, m := range received {
		messages = append(messages, fromServiceBus(m))
	}
	return messages, nil
}

func fromServiceBus(m *azservicebus.ReceivedMessage) *Message {
	// Service Bus counts deliveries from 1.
	deliveryCount := int(m.DeliveryCount) - 1
	if deliveryCount < 0 {
		deliveryCount = 0
	}
	return NewMessage(models.InboundMessage{
		MessageID:     m.MessageID,
		Body:          m.Body,
		DeliveryCount: deliveryCount,
		Properties:    m.ApplicationProperties,
	}, m)
}

func (r *serviceBusReceiver) received(msg *Message) (*azservicebus.ReceivedMessage, error) {
	m, ok := msg.handle.(*azservicebus.ReceivedMessage)
	if !ok {
		return nil, fmt.Errorf("message %s was not received from service bus", msg.MessageID)
	}
	return m, nil
}

func (r *serviceBusReceiver) Complete(ctx context.Context, msg *Message) error {
	m, err := r.received(msg)
	if err != nil {
		return err
	}
	return wrapServiceBusError(r.receiver.CompleteMessage(ctx, m, nil))
}

func (r *serviceBusReceiver) Abandon(ctx context.Context, msg *Message) error {
	m, err := r.received(msg)
	if err != nil {
		return err
	}
	return wrapServiceBusError(r.receiver.AbandonMessage(ctx, m, nil))
}

func (r *serviceBusReceiver) DeadLetter(ctx context.Context, msg *Message, opts DeadLetterOptions) error {
	m, err := r.received(msg)
	if err != nil {
		return err
	}
	return wrapServiceBusError(r.receiver.DeadLetterMessage(ctx, m, &azservicebus.DeadLetterOptions{
		Reason:           &opts.Reason,
		ErrorDescription: &opts.Description,
	}))
}

func (r *serviceBusReceiver) Close(ctx context.Context) error {
	return r.receiver.Close(ctx)
}

// wrapServiceBusError turns SDK errors into SourceErrors. Context errors
// pass through untouched so they classify as timeouts.
func wrapServiceBusError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var sbErr *azservicebus.Error
	if errors.As(err, &sbErr) {
		return serviceBusSourceError(sbErr.Code, err)
	}
	return &SourceError{Source: constants.SourceServiceBus, Err: err}
}

func serviceBusSourceError(code azservicebus.Code, err error) *SourceError {
	retryable := true
	switch code {
	case azservicebus.CodeUnauthorizedAccess, azservicebus.CodeNotFound:
		retryable = false
	}
	return &SourceError{
		Source:    constants.SourceServiceBus,
		Code:      string(code),
		Retryable: boolPtr(retryable),
		Err:       err,
	}
}
