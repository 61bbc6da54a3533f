package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/pkg/domain/threat"
)

// KafkaExporter streams threat events to a topic for downstream
// analytics. Delivery reports are consumed asynchronously; a broker
// outage costs events, never decisions.
type KafkaExporter struct {
	producer *kafka.Producer
	topic    string
	logger   *logrus.Logger
}

func NewKafkaExporter(bootstrapServers, topic string, logger *logrus.Logger) (*KafkaExporter, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": bootstrapServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	e := &KafkaExporter{producer: producer, topic: topic, logger: logger}
	go e.consumeDeliveryReports()
	return e, nil
}

func (e *KafkaExporter) Name() string {
	return "kafka"
}

func (e *KafkaExporter) Write(_ context.Context, events []threat.Event) error {
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal threat event: %w", err)
		}
		err = e.producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &e.topic, Partition: kafka.PartitionAny},
			Key:            []byte(event.Identity),
			Value:          data,
		}, nil)
		if err != nil {
			return fmt.Errorf("failed to produce threat event: %w", err)
		}
	}
	return nil
}

func (e *KafkaExporter) Close() {
	e.producer.Flush(5000)
	e.producer.Close()
}

func (e *KafkaExporter) consumeDeliveryReports() {
	for ev := range e.producer.Events() {
		if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			e.logger.WithError(m.TopicPartition.Error).Warn("threat event delivery failed")
		}
	}
}
