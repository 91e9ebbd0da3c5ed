package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/tenantkit/core/logger"
)

// SenderType represents the different types of senders
type SenderType string

// Sender types
const (
	SenderTypeLog   SenderType = "log"
	SenderTypeKafka SenderType = "kafka"
	SenderTypeSQS   SenderType = "sqs"
)

// SenderConfiguration holds the configuration of a sender
type SenderConfiguration struct {
	Type         SenderType
	KafkaBrokers []string
	KafkaTopic   string
	SQSQueueURL  string
	AWSRegion    string
	AWSAccessID  string
	AWSAccessKey string
}

// NewSender returns the sender for c
func NewSender(ctx context.Context, c SenderConfiguration) (Sender, error) {
	switch c.Type {
	case SenderTypeLog, "":
		return LogSender{}, nil
	case SenderTypeKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return nil, fmt.Errorf("kafka sender requires brokers and a topic")
		}
		return NewKafkaSender(c.KafkaBrokers, c.KafkaTopic), nil
	case SenderTypeSQS:
		s, err := NewSQSSender(ctx, c)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown sender type %q", c.Type)
}

// LogSender writes messages to the log
type LogSender struct{}

// Name implements Sender
func (LogSender) Name() string { return string(SenderTypeLog) }

// Send implements Sender
func (LogSender) Send(ctx context.Context, message Message) error {
	logger.FromContext(ctx).Infof("notify %d recipient(s) about %s of %s %v",
		len(message.Recipients), message.Action, message.Type, message.ResourceIDs)
	return nil
}

// KafkaSender publishes messages to a Kafka topic, keyed by app so messages of an app
// keep their order
type KafkaSender struct {
	writer *kafka.Writer
}

// NewKafkaSender returns a new KafkaSender
func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

// Name implements Sender
func (s *KafkaSender) Name() string { return string(SenderTypeKafka) }

// Send implements Sender
func (s *KafkaSender) Send(ctx context.Context, message Message) error {
	value, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(message.AppID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "requestID", Value: []byte(logger.RequestIDFromContext(ctx))},
		},
	})
}

// Close flushes pending messages
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}

// SQSSender sends messages to an SQS queue
type SQSSender struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSSender returns a new SQSSender
func NewSQSSender(ctx context.Context, c SenderConfiguration) (*SQSSender, error) {
	if c.SQSQueueURL == "" {
		return nil, fmt.Errorf("sqs sender requires a queue url")
	}
	options := []func(*config.LoadOptions) error{config.WithRegion(c.AWSRegion)}
	if c.AWSAccessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AWSAccessID, c.AWSAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	return &SQSSender{client: sqs.NewFromConfig(cfg), queueURL: c.SQSQueueURL}, nil
}

// Name implements Sender
func (s *SQSSender) Name() string { return string(SenderTypeSQS) }

// Send implements Sender
func (s *SQSSender) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if strings.HasSuffix(s.queueURL, ".fifo") {
		input.MessageGroupId = aws.String(strconv.FormatInt(message.AppID, 10))
		input.MessageDeduplicationId = aws.String(fmt.Sprintf("%d-%s-%s-%d",
			message.AppID, message.Type, message.Action, message.Timestamp.UnixNano()))
	}
	_, err = s.client.SendMessage(ctx, input)
	return err
}
