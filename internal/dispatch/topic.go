package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"

	"github.com/me/testfleet/internal/logging"
)

// ErrTopicUnavailable is returned when the work topic cannot be created.
// Nothing can be dispatched without it.
var ErrTopicUnavailable = errors.New("work topic unavailable")

// Admin manages the lifecycle of the work topic.
type Admin struct {
	client *kadm.Client
	cfg    Config
	logger *slog.Logger
	// pollInterval paces the deletion and creation retry loops.
	pollInterval time.Duration
}

// NewAdmin creates an Admin on top of an admin client.
func NewAdmin(client *kadm.Client, cfg Config, logger *slog.Logger) *Admin {
	cfg.withDefaults()
	return &Admin{
		client:       client,
		cfg:          cfg,
		logger:       logging.Component(logger, "topic-admin"),
		pollInterval: 500 * time.Millisecond,
	}
}

// ResetTopic deletes the work topic and creates it fresh so no ticket from a
// previous session is replayed. Deletion problems are logged and tolerated;
// failure to create the topic returns ErrTopicUnavailable.
func (a *Admin) ResetTopic(ctx context.Context) error {
	topic := a.cfg.Topic
	if err := a.deleteTopic(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("delete topic failed, continuing", "topic", topic, "error", err)
	}
	if err := a.createTopic(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrTopicUnavailable, topic, err)
	}
	partitions, replicas, err := a.Describe(ctx)
	if err != nil {
		// Metadata can lag a fresh create; the create itself succeeded.
		a.logger.Debug("describe new topic", "topic", topic, "error", err)
		partitions, replicas = int(a.cfg.Partitions), int(a.cfg.ReplicationFactor)
	}
	a.logger.Info("topic ready", "topic", topic,
		"partitions", partitions, "replication_factor", replicas)
	return nil
}

// deleteTopic deletes the topic and waits, bounded by DeleteTimeout, until
// the cluster no longer reports it.
func (a *Admin) deleteTopic(ctx context.Context) error {
	topic := a.cfg.Topic
	ctx, cancel := context.WithTimeout(ctx, a.cfg.DeleteTimeout)
	defer cancel()

	resps, err := a.client.DeleteTopics(ctx, topic)
	if err != nil {
		return err
	}
	if resp, ok := resps[topic]; ok && resp.Err != nil {
		if errors.Is(resp.Err, kerr.UnknownTopicOrPartition) {
			a.logger.Debug("topic did not exist", "topic", topic)
			return nil
		}
		return resp.Err
	}
	a.logger.Info("topic deleted, waiting for cluster", "topic", topic)

	for {
		exists, err := a.topicExists(ctx)
		if err == nil && !exists {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("waiting for deletion: %w", err)
			}
			return fmt.Errorf("topic still listed after %s", a.cfg.DeleteTimeout)
		case <-time.After(a.pollInterval):
		}
	}
}

// createTopic creates the topic, retrying while the broker still reports it
// as existing (deletion still propagating).
func (a *Admin) createTopic(ctx context.Context) error {
	topic := a.cfg.Topic
	ctx, cancel := context.WithTimeout(ctx, a.cfg.DeleteTimeout)
	defer cancel()

	for {
		resps, err := a.client.CreateTopics(ctx, a.cfg.Partitions, a.cfg.ReplicationFactor, nil, topic)
		if err == nil {
			err = resps.Error()
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, kerr.TopicAlreadyExists) {
			return err
		}
		a.logger.Debug("topic still exists, retrying create", "topic", topic)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(a.pollInterval):
		}
	}
}

func (a *Admin) topicExists(ctx context.Context) (bool, error) {
	details, err := a.client.ListTopics(ctx, a.cfg.Topic)
	if err != nil {
		return false, err
	}
	d, ok := details[a.cfg.Topic]
	if !ok {
		return false, nil
	}
	if d.Err != nil {
		if errors.Is(d.Err, kerr.UnknownTopicOrPartition) {
			return false, nil
		}
		return false, d.Err
	}
	return true, nil
}

// Describe returns the partition count and replication factor of the topic.
func (a *Admin) Describe(ctx context.Context) (partitions int, replicas int, err error) {
	details, err := a.client.ListTopics(ctx, a.cfg.Topic)
	if err != nil {
		return 0, 0, err
	}
	d, ok := details[a.cfg.Topic]
	if !ok {
		return 0, 0, kerr.UnknownTopicOrPartition
	}
	if d.Err != nil {
		return 0, 0, d.Err
	}
	return len(d.Partitions), d.Partitions.NumReplicas(), nil
}
