package events

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"opencwmp/internal/store"
	"opencwmp/pkg/config"
)

// KafkaPublisher ships lifecycle events to Kafka topics
type KafkaPublisher struct {
	producer *kafka.Producer
	topics   config.KafkaTopics
}

// NewKafkaPublisher creates a publisher connected to the configured brokers
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}

	configMap := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"acks":              cfg.Producer.Acks,
		"compression.type":  cfg.Producer.Compression,
		"retries":           cfg.Producer.MaxRetries,
		"retry.backoff.ms":  cfg.Producer.RetryBackoffMs,
		"linger.ms":         cfg.Producer.LingerMs,
	}

	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	p := &KafkaPublisher{
		producer: producer,
		topics:   cfg.Topics,
	}

	go p.handleDeliveryReports()

	log.Printf("✅ Kafka publisher initialized (brokers: %v)", cfg.Brokers)

	return p, nil
}

// handleDeliveryReports processes producer delivery reports
func (p *KafkaPublisher) handleDeliveryReports() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				log.Printf("❌ Delivery failed: %v", ev.TopicPartition.Error)
			}
		case kafka.Error:
			log.Printf("⚠️ Kafka error: %v", ev)
		}
	}
}

// DeviceSeen publishes a device event after an Inform is processed
func (p *KafkaPublisher) DeviceSeen(device *store.Device, created bool) {
	eventType := EventDeviceSeen
	if created {
		eventType = EventDeviceRegistered
	}

	p.publish(p.topics.DeviceSeen, device.SerialNumber, DeviceEvent{
		Type:         eventType,
		SerialNumber: device.SerialNumber,
		Manufacturer: device.Manufacturer,
		OUI:          device.OUI,
		ProductClass: device.ProductClass,
		LastInform:   device.LastInform,
		Timestamp:    time.Now().UTC(),
	})
}

// TaskCompleted publishes a task event once a task reaches a terminal state
func (p *KafkaPublisher) TaskCompleted(task *store.Task) {
	p.publish(p.topics.TaskCompleted, task.SerialNumber, TaskEvent{
		Type:         EventTaskCompleted,
		TaskID:       task.ID,
		SerialNumber: task.SerialNumber,
		Kind:         string(task.Kind),
		Status:       string(task.Status),
		Attempts:     task.Attempts,
		ErrorMessage: task.ErrorMessage,
		Timestamp:    time.Now().UTC(),
	})
}

func (p *KafkaPublisher) publish(topic, key string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("❌ Failed to marshal event: %v", err)
		return
	}

	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          payload,
	}, nil)
	if err != nil {
		log.Printf("❌ Failed to publish to %s: %v", topic, err)
	}
}

// Close flushes pending messages and shuts down the producer
func (p *KafkaPublisher) Close() {
	remaining := p.producer.Flush(5000)
	if remaining > 0 {
		log.Printf("⚠️ %d messages were not delivered before close", remaining)
	}
	p.producer.Close()
	log.Printf("✅ Kafka publisher closed")
}
