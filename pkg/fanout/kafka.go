package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aegismind-siem/pkg/changestream"
	"aegismind-siem/pkg/circuit_breaker"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

var _ Observer = (*KafkaObserver)(nil)

// KafkaConfig configures the Kafka-backed Observer.
type KafkaConfig struct {
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	QueueSize int      `yaml:"queue_size"`
	Auth      struct {
		Enabled   bool   `yaml:"enabled"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		Mechanism string `yaml:"mechanism"`
	} `yaml:"auth"`
}

// KafkaObserver publishes incident notifications to a Kafka topic using an
// async producer, matching the queue-then-drain lifecycle the rest of this
// codebase's sinks use.
type KafkaObserver struct {
	config   KafkaConfig
	logger   *logrus.Logger
	producer sarama.AsyncProducer

	queue chan changestream.Notification

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	running bool

	sentCount  int64
	errorCount int64

	// breaker trips after repeated broker-side send failures, so Publish
	// fails fast instead of queueing messages behind a producer that's
	// stopped delivering.
	breaker *circuit_breaker.Breaker
}

// NewKafkaObserver builds a KafkaObserver. The producer connects lazily on
// Start so construction never blocks on broker availability.
func NewKafkaObserver(config KafkaConfig, logger *logrus.Logger) (*KafkaObserver, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("fanout: kafka observer requires at least one broker")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("fanout: kafka observer requires a topic")
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KafkaObserver{
		config:  config,
		logger:  logger,
		queue:   make(chan changestream.Notification, config.QueueSize),
		breaker: circuit_breaker.New(circuit_breaker.DefaultConfig()),
	}, nil
}

func (k *KafkaObserver) buildProducer() (sarama.AsyncProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal

	if k.config.Auth.Enabled {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = k.config.Auth.Username
		saramaConfig.Net.SASL.Password = k.config.Auth.Password

		switch strings.ToUpper(k.config.Auth.Mechanism) {
		case "SCRAM-SHA-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha256HashGenerator}
			}
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha512HashGenerator}
			}
		default:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	return sarama.NewAsyncProducer(k.config.Brokers, saramaConfig)
}

// Start connects the producer and begins draining the publish queue.
func (k *KafkaObserver) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return nil
	}

	producer, err := k.buildProducer()
	if err != nil {
		return fmt.Errorf("fanout: kafka producer: %w", err)
	}
	k.producer = producer
	k.ctx, k.cancel = context.WithCancel(ctx)
	k.running = true

	k.wg.Add(2)
	go k.processLoop()
	go k.handleResponses()

	k.logger.WithFields(logrus.Fields{
		"component": "fanout",
		"topic":     k.config.Topic,
		"brokers":   k.config.Brokers,
	}).Info("kafka_observer_started")
	return nil
}

// Stop drains the queue, waits for in-flight sends, and closes the producer.
func (k *KafkaObserver) Stop() error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	k.running = false
	cancel := k.cancel
	k.mu.Unlock()

	cancel()
	k.wg.Wait()

	var err error
	if k.producer != nil {
		err = k.producer.Close()
	}

	k.logger.WithFields(logrus.Fields{
		"component": "fanout",
		"sent":      atomic.LoadInt64(&k.sentCount),
		"errors":    atomic.LoadInt64(&k.errorCount),
	}).Info("kafka_observer_stopped")
	return err
}

// Publish enqueues the notification for async delivery, dropping it if the
// queue is full rather than blocking the change-stream bridge.
func (k *KafkaObserver) Publish(ctx context.Context, notification changestream.Notification) error {
	if k.breaker.State() == circuit_breaker.StateOpen {
		atomic.AddInt64(&k.errorCount, 1)
		return fmt.Errorf("fanout: kafka observer circuit open")
	}

	select {
	case k.queue <- notification:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		atomic.AddInt64(&k.errorCount, 1)
		k.logger.WithFields(logrus.Fields{
			"component": "fanout",
			"type":      notification.Type,
		}).Warn("kafka_observer_queue_full")
		return fmt.Errorf("fanout: kafka observer queue full")
	}
}

func (k *KafkaObserver) processLoop() {
	defer k.wg.Done()
	for {
		select {
		case notification := <-k.queue:
			k.send(notification)
		case <-k.ctx.Done():
			return
		}
	}
}

func (k *KafkaObserver) send(notification changestream.Notification) {
	payload, err := json.Marshal(notification)
	if err != nil {
		atomic.AddInt64(&k.errorCount, 1)
		k.logger.WithError(err).Warn("kafka_observer_marshal_failed")
		return
	}

	msg := &sarama.ProducerMessage{
		Topic:     k.config.Topic,
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	}

	select {
	case k.producer.Input() <- msg:
	case <-k.ctx.Done():
	}
}

func (k *KafkaObserver) handleResponses() {
	defer k.wg.Done()
	for {
		select {
		case <-k.producer.Successes():
			atomic.AddInt64(&k.sentCount, 1)
			_ = k.breaker.Execute(func() error { return nil })
		case perr, ok := <-k.producer.Errors():
			if !ok {
				return
			}
			atomic.AddInt64(&k.errorCount, 1)
			_ = k.breaker.Execute(func() error { return perr.Err })
			k.logger.WithError(perr.Err).Warn("kafka_observer_send_failed")
		case <-k.ctx.Done():
			return
		}
	}
}
