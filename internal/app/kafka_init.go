package app

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const auditMaxRetries = 3

// kafkaRuntime — producer и publisher'ы outbox. Пустой, если брокеры не заданы.
type kafkaRuntime struct {
	producer  *kafka.Producer
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	audit     *kafka.Consumer
}

// initKafka создаёт producer, если brokers не пустой.
// Возвращает nil, nil если брокеры не заданы.
func initKafka(brokers []string, logger *log.Entry) (*kafkaRuntime, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return &kafkaRuntime{
		producer:  producer,
		publisher: kafka.NewOutboxPublisher(producer, ""),
		dlq:       kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}, nil
}

// startAudit запускает consumer, который пишет в лог опубликованные события.
func (k *kafkaRuntime) startAudit(ctx context.Context, brokers []string, groupID string, logger *log.Entry) error {
	if k == nil || groupID == "" {
		return nil
	}
	consumer, err := kafka.NewConsumerWithDLQ(
		brokers,
		groupID,
		[]string{kafka.TopicOrderEvents, kafka.TopicWalletEvents},
		auditHandler(logger),
		k.producer,
		auditMaxRetries,
	)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return err
	}
	k.audit = consumer
	logger.WithField("group", groupID).Info("kafka audit consumer started")
	return nil
}

// auditHandler логирует outbox-конверты. Неразбираемые сообщения уходят в DLQ.
func auditHandler(logger *log.Entry) kafka.MessageHandler {
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		envelope, err := kafka.ParseEnvelope(message)
		if err != nil {
			return err
		}
		if envelope.EventType == "" {
			return errors.New("envelope without event type")
		}
		logger.WithFields(log.Fields{
			"topic":          message.Topic,
			"offset":         message.Offset,
			"aggregate_type": envelope.AggregateType,
			"aggregate_id":   envelope.AggregateID,
			"event_type":     envelope.EventType,
		}).Info("audit event")
		return nil
	}
}

// close останавливает consumer и producer.
func (k *kafkaRuntime) close(logger *log.Entry) {
	if k == nil {
		return
	}
	if k.audit != nil {
		if err := k.audit.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka audit consumer")
		}
	}
	if err := k.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
