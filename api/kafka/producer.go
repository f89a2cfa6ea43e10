package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
)

type Producer interface {
	SendIngestMessage(ctx context.Context, topic string, message *IngestMessage) error
	Close() error
}

// IngestMessage hands a created job off to the worker. The job row already
// exists by the time this is published, so a client polling immediately
// after the HTTP response always finds its job.
type IngestMessage struct {
	JobID         string `json:"job_id"`
	TraceID       string `json:"trace_id"`
	UserID        string `json:"user_id"`
	Location      string `json:"location"`
	ContentDigest string `json:"content_digest"`
	Filename      string `json:"filename"`
	SizeBytes     int64  `json:"size_bytes"`
}

type producer struct {
	producer sarama.SyncProducer
}

func NewProducer(brokers []string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &producer{producer: p}, nil
}

func (p *producer) SendIngestMessage(ctx context.Context, topic string, message *IngestMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(message.JobID),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *producer) Close() error {
	return p.producer.Close()
}
