package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if g.consumeFn != nil {
		return g.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return g.errorsCh }

func (g *fakeGroup) Close() error {
	if g.closeFn != nil {
		return g.closeFn()
	}
	if g.errorsCh != nil {
		close(g.errorsCh)
	}
	return nil
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

type fakeSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "storefront-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg)
}

type fakeClaim struct {
	topic    string
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return c.topic }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// envelopeMessage собирает сообщение в том виде, в каком его публикует outbox.
func envelopeMessage(t *testing.T, topic string, offset int64, aggregateType, aggregateID string, eventType EventType, payload any) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	value, err := json.Marshal(Envelope{
		ID:            "msg-" + aggregateID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(eventType),
		Payload:       raw,
		PublishedAt:   time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Topic:  topic,
		Offset: offset,
		Key:    []byte(aggregateID),
		Value:  value,
	}
}

func paymentCaptured(t *testing.T, offset int64) *sarama.ConsumerMessage {
	return envelopeMessage(t, TopicOrderEvents, offset, "order", "ord-1001", EventTypePaymentCaptured, OrderEvent{
		EventType:     EventTypePaymentCaptured,
		OrderID:       "ord-1001",
		OrderCode:     "ORD1001",
		UserID:        "u-asha",
		Status:        "PENDING",
		PaymentStatus: "PAID",
		PaymentMethod: "GATEWAY",
		Amount:        "900.00",
		Metadata:      map[string]any{"gateway_payment_id": "pay_77"},
	})
}

func withRetryCount(msg *sarama.ConsumerMessage, count string) *sarama.ConsumerMessage {
	msg.Headers = append(msg.Headers, &sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(count)})
	return msg
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	noop := func(context.Context, *sarama.ConsumerMessage) error { return nil }

	_, err := NewConsumer([]string{"invalid-broker:9092"}, "storefront-audit", []string{TopicOrderEvents}, noop)
	assert.Error(t, err)
	_, err = NewConsumerWithDLQ([]string{"invalid-broker:9092"}, "storefront-audit", []string{TopicOrderEvents}, noop, nil, 3)
	assert.Error(t, err)
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var subscribed []string
	errorsCh := make(chan error, 1)
	group := &fakeGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, topics []string, _ sarama.ConsumerGroupHandler) error {
			subscribed = topics
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := &Consumer{
		consumer:   group,
		topics:     []string{TopicOrderEvents, TopicWalletEvents},
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "consumer"),
		maxRetries: 2,
	}

	errorsCh <- errors.New("rebalance in progress")
	require.NoError(t, consumer.Start(ctx))
	require.NoError(t, consumer.Stop())
	assert.Equal(t, []string{TopicOrderEvents, TopicWalletEvents}, subscribed)
}

func TestConsumerStopReturnsCloseError(t *testing.T) {
	errorsCh := make(chan error)
	group := &fakeGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := &Consumer{consumer: group, logger: log.WithField("test", "stop")}
	assert.Error(t, consumer.Stop())
}

func TestConsumerSetupCleanup(t *testing.T) {
	consumer := &Consumer{}
	assert.NoError(t, consumer.Setup(nil))
	assert.NoError(t, consumer.Cleanup(nil))
}

func TestConsumeClaimMarksHandledEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	consumer := &Consumer{
		handler: func(_ context.Context, msg *sarama.ConsumerMessage) error {
			envelope, err := ParseEnvelope(msg)
			if err != nil {
				return err
			}
			seen = append(seen, envelope.EventType)
			return nil
		},
		logger: log.WithField("test", "claim"),
	}

	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- paymentCaptured(t, 1)
	claim.messages <- envelopeMessage(t, TopicOrderEvents, 2, "order", "ord-1001", EventTypeItemCancelled, OrderEvent{
		EventType: EventTypeItemCancelled, OrderID: "ord-1001", ItemID: "item-2", Amount: "540.00", Reason: "Customer cancelled",
	})
	close(claim.messages)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	assert.Len(t, session.marked, 2)
	assert.Equal(t, []string{string(EventTypePaymentCaptured), string(EventTypeItemCancelled)}, seen)
}

func TestConsumeClaimLeavesFailedEventUnmarked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("audit store unavailable") },
		logger:     log.WithField("test", "claim-fail"),
		maxRetries: 1,
	}

	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- paymentCaptured(t, 1)
	close(claim.messages)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	assert.Empty(t, session.marked)
}

func TestHandleMessageWithRetry(t *testing.T) {
	t.Run("handled first time", func(t *testing.T) {
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
			logger:     log.WithField("test", "retry-success"),
			maxRetries: 2,
		}
		assert.NoError(t, consumer.handleMessageWithRetry(context.Background(), paymentCaptured(t, 1)))
	})

	t.Run("remaining attempts honour retry header", func(t *testing.T) {
		attempts := 0
		consumer := &Consumer{
			handler: func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				return errors.New("temporary")
			},
			logger:     log.WithField("test", "retry"),
			maxRetries: 3,
		}
		err := consumer.handleMessageWithRetry(context.Background(), withRetryCount(paymentCaptured(t, 1), "1"))
		assert.Error(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("exhausted without dlq", func(t *testing.T) {
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			logger:     log.WithField("test", "max-no-dlq"),
			maxRetries: 3,
		}
		assert.Error(t, consumer.handleMessageWithRetry(context.Background(), withRetryCount(paymentCaptured(t, 1), "3")))
	})

	t.Run("exhausted goes to dlq", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != TopicDeadLetterQueue {
				return errors.New("unexpected topic " + msg.Topic)
			}
			return nil
		})
		consumer := &Consumer{
			handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			dlqProducer: &Producer{producer: producer, logger: log.WithField("test", "dlq")},
			logger:      log.WithField("test", "max-dlq"),
			maxRetries:  3,
		}
		assert.NoError(t, consumer.handleMessageWithRetry(context.Background(), withRetryCount(paymentCaptured(t, 1), "3")))
		require.NoError(t, producer.Close())
	})

	t.Run("dlq publish failure is returned", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		consumer := &Consumer{
			handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			dlqProducer: &Producer{producer: producer, logger: log.WithField("test", "dlq")},
			logger:      log.WithField("test", "max-dlq-fail"),
			maxRetries:  3,
		}
		assert.Error(t, consumer.handleMessageWithRetry(context.Background(), withRetryCount(paymentCaptured(t, 1), "3")))
		require.NoError(t, producer.Close())
	})
}

func TestGetRetryCount(t *testing.T) {
	consumer := &Consumer{}
	assert.Equal(t, 5, consumer.getRetryCount(withRetryCount(paymentCaptured(t, 1), "5")))
	assert.Equal(t, 0, consumer.getRetryCount(withRetryCount(paymentCaptured(t, 1), "bad")))
	assert.Equal(t, 0, consumer.getRetryCount(paymentCaptured(t, 1)))
}

func TestParseStorefrontEvents(t *testing.T) {
	envelope, err := ParseEnvelope(paymentCaptured(t, 1))
	require.NoError(t, err)
	assert.Equal(t, "order", envelope.AggregateType)
	assert.Equal(t, "ord-1001", envelope.AggregateID)

	event, err := ParseOrderEvent(paymentCaptured(t, 1))
	require.NoError(t, err)
	assert.Equal(t, EventTypePaymentCaptured, event.EventType)
	assert.Equal(t, "u-asha", event.UserID)
	assert.Equal(t, "900.00", event.Amount)
	assert.Equal(t, "pay_77", event.Metadata["gateway_payment_id"])

	// голое событие без конверта
	bare := &sarama.ConsumerMessage{Value: []byte(`{"event_type":"order.cancelled","order_id":"ord-1002","user_id":"u-asha","status":"CANCELLED","amount":"360.00"}`)}
	event, err = ParseOrderEvent(bare)
	require.NoError(t, err)
	assert.Equal(t, EventTypeOrderCancelled, event.EventType)
	assert.Equal(t, "360.00", event.Amount)

	_, err = ParseEnvelope(&sarama.ConsumerMessage{Value: []byte("{")})
	assert.Error(t, err)
	_, err = ParseOrderEvent(&sarama.ConsumerMessage{Value: []byte("{")})
	assert.Error(t, err)
}

func TestSendToDLQCarriesOriginalEvent(t *testing.T) {
	msg := envelopeMessage(t, TopicWalletEvents, 42, "wallet", "u-asha", EventTypeWalletCredited, map[string]any{
		"type": "credit", "amount": "250.50", "reason": "deposit", "reference": "pay_9",
	})

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(out *sarama.ProducerMessage) error {
		raw, err := out.Value.Encode()
		if err != nil {
			return err
		}
		var dlq DLQMessage
		if err := json.Unmarshal(raw, &dlq); err != nil {
			return err
		}
		if dlq.OriginalTopic != TopicWalletEvents || dlq.OriginalOffset != 42 || dlq.OriginalKey != "u-asha" {
			return errors.New("dlq message lost the original coordinates")
		}
		if dlq.OriginalValue != string(msg.Value) || dlq.ErrorMessage != "ledger mismatch" {
			return errors.New("dlq message lost the original event")
		}
		return nil
	})

	consumer := &Consumer{
		dlqProducer: &Producer{producer: producer, logger: log.WithField("test", "send-dlq")},
		logger:      log.WithField("test", "consumer-send-dlq"),
	}
	require.NoError(t, consumer.sendToDLQ(msg, errors.New("ledger mismatch")))
	require.NoError(t, producer.Close())
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "claim-stop"),
		maxRetries: 1,
	}
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
