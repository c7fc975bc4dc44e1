package kafka

import (
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndSucceed()

	event := NewOrderEvent(EventTypeOrderPlaced, "order-123", "user-1", "PENDING", map[string]any{
		"payment_method": "COD",
	})

	if err := producer.PublishEvent(TopicOrderEvents, "order-123", event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEventWithHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := &Producer{producer: mockProducer, logger: log.WithField("component", "kafka-producer-test")}

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if got := headerValue(msg, HeaderRetryCount); got != "2" {
			return fmt.Errorf("unexpected retry header %q", got)
		}
		return nil
	})

	err := producer.PublishEventWithHeaders(TopicDeadLetterQueue, "k", map[string]string{"a": "b"}, map[string]string{
		HeaderRetryCount: "2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewOrderEvent(EventTypePaymentFailed, "test-order-123", "user-1", "PENDING", nil)
	if err := producer.PublishEvent(TopicOrderEvents, "test-order-123", event); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	producer := &Producer{logger: log.WithField("component", "kafka-producer-test")}
	if err := producer.PublishEvent(TopicOrderEvents, "k", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestNewOrderEvent(t *testing.T) {
	event := NewOrderEvent(EventTypeOrderCancelled, "order-123", "user-1", "CANCELLED", map[string]any{"amount": "10.00"})

	if event.EventType != EventTypeOrderCancelled {
		t.Errorf("expected event type %s, got %s", EventTypeOrderCancelled, event.EventType)
	}
	if event.OrderID != "order-123" || event.UserID != "user-1" || event.Status != "CANCELLED" {
		t.Errorf("unexpected event fields: %+v", event)
	}
	if event.Timestamp.IsZero() || time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}

func TestTopicFor(t *testing.T) {
	cases := map[string]string{
		"order":    TopicOrderEvents,
		" Wallet ": TopicWalletEvents,
		"":         TopicOrderEvents,
	}
	for aggregate, want := range cases {
		if got := TopicFor(aggregate); got != want {
			t.Errorf("TopicFor(%q) = %s, want %s", aggregate, got, want)
		}
	}
}
