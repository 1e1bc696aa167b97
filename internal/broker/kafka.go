package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/config"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/constants"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/tracing"
)

// KafkaSource reads a topic with a consumer group. Kafka has no native
// abandon or dead-letter, so both are emulated: abandon republishes the
// message with an incremented x-delivery-count header, dead-letter publishes
// it to the DLQ topic. The original offset is committed afterwards.
type KafkaSource struct {
	cfg    config.KafkaConfig
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaSource(cfg config.KafkaConfig, log logger.Logger) *KafkaSource {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaSource{cfg: cfg, writer: w, logger: log}
}

func (s *KafkaSource) Name() string {
	return constants.SourceKafka
}

func (s *KafkaSource) EntityPath() string {
	return s.cfg.Topic
}

func (s *KafkaSource) SubscriptionName() string {
	return s.cfg.GroupID
}

func (s *KafkaSource) NewReceiver(ctx context.Context) (Receiver, error) {
	if len(s.cfg.Brokers) == 0 || s.cfg.Topic == "" || s.cfg.GroupID == "" {
		return nil, errors.New("kafka source is not configured")
	}

	s.logger.Infow("Creating Kafka reader",
		"topic", s.cfg.Topic,
		"brokers", s.cfg.Brokers,
		"group_id", s.cfg.GroupID,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  s.cfg.Brokers,
		GroupID:  s.cfg.GroupID,
		Topic:    s.cfg.Topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
		MaxWait:  constants.KafkaMaxWait,
	})
	return &kafkaReceiver{source: s, reader: reader}, nil
}

func (s *KafkaSource) Close(ctx context.Context) error {
	return s.writer.Close()
}

type kafkaReceiver struct {
	source *KafkaSource
	reader *kafka.Reader
}

func (r *kafkaReceiver) Receive(ctx context.Context, maxMessages int) ([]*Message, error) {
	if maxMessages < 1 {
		maxMessages = 1
	}

	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, wrapKafkaError(err)
	}
	messages := []*Message{fromKafka(first)}

	// Top up the batch with whatever is already buffered.
	for len(messages) < maxMessages {
		fetchCtx, cancel := context.WithTimeout(ctx, constants.KafkaBatchTimeout)
		m, err := r.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			break
		}
		messages = append(messages, fromKafka(m))
	}
	return messages, nil
}

func fromKafka(m kafka.Message) *Message {
	props := make(map[string]any, len(m.Headers))
	for _, h := range m.Headers {
		props[h.Key] = string(h.Value)
	}

	messageID := string(m.Key)
	if messageID == "" {
		messageID = fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset)
	}

	return NewMessage(models.InboundMessage{
		MessageID:     messageID,
		Body:          m.Value,
		DeliveryCount: deliveryCount(m.Headers),
		Properties:    props,
	}, m)
}

func deliveryCount(headers []kafka.Header) int {
	for _, h := range headers {
		if h.Key == constants.HeaderDeliveryCount {
			n, err := strconv.Atoi(string(h.Value))
			if err != nil || n < 0 {
				return 0
			}
			return n
		}
	}
	return 0
}

func (r *kafkaReceiver) kafkaMessage(msg *Message) (kafka.Message, error) {
	m, ok := msg.handle.(kafka.Message)
	if !ok {
		return kafka.Message{}, fmt.Errorf("message %s was not received from kafka", msg.MessageID)
	}
	return m, nil
}

func (r *kafkaReceiver) Complete(ctx context.Context, msg *Message) error {
	m, err := r.kafkaMessage(msg)
	if err != nil {
		return err
	}
	return wrapKafkaError(r.reader.CommitMessages(ctx, m))
}

func (r *kafkaReceiver) Abandon(ctx context.Context, msg *Message) error {
	m, err := r.kafkaMessage(msg)
	if err != nil {
		return err
	}

	retry := redeliveryMessage(ctx, m, r.source.cfg.Topic, msg.DeliveryCount+1)
	if err := r.source.writer.WriteMessages(ctx, retry); err != nil {
		return wrapKafkaError(err)
	}
	return wrapKafkaError(r.reader.CommitMessages(ctx, m))
}

func (r *kafkaReceiver) DeadLetter(ctx context.Context, msg *Message, opts DeadLetterOptions) error {
	m, err := r.kafkaMessage(msg)
	if err != nil {
		return err
	}
	if r.source.cfg.DLQTopic == "" {
		return errors.New("kafka dead-letter topic is not configured")
	}

	dead := deadLetterMessage(ctx, m, r.source.cfg.DLQTopic, opts)
	if err := r.source.writer.WriteMessages(ctx, dead); err != nil {
		return wrapKafkaError(err)
	}
	return wrapKafkaError(r.reader.CommitMessages(ctx, m))
}

func (r *kafkaReceiver) Close(ctx context.Context) error {
	return r.reader.Close()
}

func redeliveryMessage(ctx context.Context, m kafka.Message, topic string, count int) kafka.Message {
	headers := setHeader(copyHeaders(m.Headers), constants.HeaderDeliveryCount, strconv.Itoa(count))
	return kafka.Message{
		Topic:   topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: tracing.InjectKafkaHeaders(ctx, headers),
		Time:    time.Now(),
	}
}

func deadLetterMessage(ctx context.Context, m kafka.Message, topic string, opts DeadLetterOptions) kafka.Message {
	headers := copyHeaders(m.Headers)
	headers = setHeader(headers, constants.HeaderDeadLetterReason, opts.Reason)
	headers = setHeader(headers, constants.HeaderDeadLetterDesc, opts.Description)
	headers = setHeader(headers, constants.HeaderOriginalTopic, m.Topic)
	return kafka.Message{
		Topic:   topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: tracing.InjectKafkaHeaders(ctx, headers),
		Time:    time.Now(),
	}
}

func copyHeaders(headers []kafka.Header) []kafka.Header {
	out := make([]kafka.Header, len(headers))
	copy(out, headers)
	return out
}

func setHeader(headers []kafka.Header, key, value string) []kafka.Header {
	for i, h := range headers {
		if h.Key == key {
			headers[i].Value = []byte(value)
			return headers
		}
	}
	return append(headers, kafka.Header{Key: key, Value: []byte(value)})
}

func wrapKafkaError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var kErr kafka.Error
	if errors.As(err, &kErr) {
		return &SourceError{
			Source:    constants.SourceKafka,
			Code:      kErr.Title(),
			Retryable: boolPtr(kErr.Temporary()),
			Err:       err,
		}
	}
	return &SourceError{Source: constants.SourceKafka, Err: err}
}
