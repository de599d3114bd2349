// Package dispatch owns the work topic: its lifecycle at session start, the
// coordinator-side publisher and the worker-side consumer.
package dispatch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/me/testfleet/internal/config"
)

// Config describes the broker and the work topic.
type Config struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
	DeleteTimeout     time.Duration
	PollTimeout       time.Duration
	ConsumerGroup     string
	ClientID          string
}

// FromConfig converts the kafka section of the file configuration.
func FromConfig(c config.KafkaConfig) Config {
	return Config{
		Brokers:           c.Brokers,
		Topic:             c.Topic,
		Partitions:        c.Partitions,
		ReplicationFactor: c.ReplicationFactor,
		DeleteTimeout:     c.DeleteTimeout,
		PollTimeout:       c.PollTimeout,
		ConsumerGroup:     c.ConsumerGroup,
		ClientID:          c.ClientID,
	}
}

func (c *Config) withDefaults() {
	if c.Partitions <= 0 {
		c.Partitions = 2
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.DeleteTimeout <= 0 {
		c.DeleteTimeout = 30 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 60 * time.Second
	}
	if c.ClientID == "" {
		c.ClientID = "testfleet"
	}
}

// NewClient returns a kgo client for cfg. When reg is non-nil the client
// exports its metrics under testfleet_kafka_<role>.
func NewClient(cfg Config, role string, logger *slog.Logger, reg prometheus.Registerer, opts ...kgo.Opt) (*kgo.Client, error) {
	cfg.withDefaults()
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka client: no brokers configured")
	}

	common := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID + "-" + role),
		kgo.DialTimeout(10 * time.Second),
		kgo.WithLogger(newLogger(logger)),
	}
	if reg != nil {
		metrics := kprom.NewMetrics("testfleet_kafka_"+role, kprom.Registerer(reg))
		common = append(common, kgo.WithHooks(metrics))
	}

	client, err := kgo.NewClient(append(common, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return client, nil
}

// ProducerOpts returns the options for the coordinator's publishing client.
func ProducerOpts(cfg Config) []kgo.Opt {
	return []kgo.Opt{
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.RecordDeliveryTimeout(30 * time.Second),
		// The topic is recreated right before publishing; metadata may lag.
		kgo.UnknownTopicRetries(-1),
	}
}

// ConsumerOpts returns the options for a worker's group consumer. Offsets
// are committed by hand once a ticket has been processed.
func ConsumerOpts(cfg Config) []kgo.Opt {
	return []kgo.Opt{
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
	}
}
