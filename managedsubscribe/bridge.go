package managedsubscribe

import (
	"context"
	"fmt"
	"time"

	"github.com/sdv-edge/dtcore/dtlog"
)

// Topic management actions the broker's ManageTopic callback can request,
// matching the reference implementation's PUBLISH / STOP_PUBLISH tags.
const (
	ActionPublish     = "PUBLISH"
	ActionStopPublish = "STOP_PUBLISH"
)

// SubscriptionInfo is the Managed-Subscribe bridge's answer to
// GetSubscriptionInfo: where a consumer should actually subscribe.
type SubscriptionInfo struct {
	Topic    string
	URI      string
	Protocol string
}

// BrokerClient talks to the external pub/sub broker that owns topic
// lifecycle. The runtime has no built-in implementation: it uses the
// client passed in dtcore.Options.Broker; tests use a fake.
type BrokerClient interface {
	CreateTopic(ctx context.Context, instanceID string) (topic string, info TopicInfo, err error)
	DeleteTopic(ctx context.Context, topic string) error
}

// CallbackPayload is what the bridge sends back to a provider's callback
// endpoint for PUBLISH / STOP_PUBLISH notifications.
type CallbackPayload struct {
	InstanceID       string
	Topic            string
	Constraints      string
	SubscriptionInfo *SubscriptionInfo
}

// ProviderCallback invokes a provider's own ManagedSubscribe callback —
// the endpoint the interceptor captured at register time.
type ProviderCallback interface {
	ManageTopic(ctx context.Context, callback CallbackInfo, action string, payload CallbackPayload) error
}

// Bridge is the Managed-Subscribe service surface: GetSubscriptionInfo
// for consumers, and the PUBLISH/STOP_PUBLISH lifecycle driven by the
// broker's subscriber-count callback.
type Bridge struct {
	Store    *Store
	Broker   BrokerClient
	Callback ProviderCallback
	Logger   dtlog.Logger

	// MaxCallbackAttempts bounds the retry loop around calls to the
	// broker and to provider callbacks; RetryDelay is the fixed delay
	// between attempts.
	MaxCallbackAttempts int
	RetryDelay          time.Duration

	// StaleAfterFailures is the consecutive-failure threshold the
	// housekeeping reaper uses to decide a topic's provider is gone.
	StaleAfterFailures int
}

// NewBridge builds a Bridge with the reference implementation's retry
// budget (30 attempts, 1 second apart) and a 3-failure staleness
// threshold for the reaper.
func NewBridge(store *Store, broker BrokerClient, callback ProviderCallback) *Bridge {
	return &Bridge{
		Store:                store,
		Broker:               broker,
		Callback:             callback,
		Logger:               dtlog.Nop{},
		MaxCallbackAttempts: 30,
		RetryDelay:           time.Second,
		StaleAfterFailures:   3,
	}
}

// GetSubscriptionInfo creates a broker topic for instanceID (unless the
// bridge doesn't recognize it) and returns where the consumer should
// subscribe.
func (b *Bridge) GetSubscriptionInfo(ctx context.Context, instanceID, constraints string) (SubscriptionInfo, error) {
	if !b.Store.ContainsEntity(instanceID) {
		return SubscriptionInfo{}, fmt.Errorf("%w: %s", ErrUnknownEntity, instanceID)
	}

	var topic string
	var info TopicInfo
	err := withRetry(ctx, b.MaxCallbackAttempts, b.RetryDelay, func() error {
		var err error
		topic, info, err = b.Broker.CreateTopic(ctx, instanceID)
		return err
	})
	if err != nil {
		return SubscriptionInfo{}, fmt.Errorf("%w: create topic for %s: %v", ErrBrokerUnavailable, instanceID, err)
	}

	info.Constraints = constraints
	b.Store.AddTopic(instanceID, topic, info)

	return SubscriptionInfo{Topic: topic, URI: info.URI, Protocol: info.Protocol}, nil
}

// ManageTopicCallback handles the broker's subscriber-count-crossed-zero
// notification: action "START" brokers a PUBLISH notice to the owning
// provider, "STOP" brokers STOP_PUBLISH and tears the topic down. Any
// other action (the broker's INIT/DELETE) is a no-op, matching the
// reference implementation.
func (b *Bridge) ManageTopicCallback(ctx context.Context, topic, action string) error {
	switch action {
	case "START":
		return b.publish(ctx, topic)
	case "STOP":
		return b.stopPublish(ctx, topic)
	default:
		return nil
	}
}

func (b *Bridge) publish(ctx context.Context, topic string) error {
	instanceID, meta, topicInfo, err := b.lookupTopic(topic)
	if err != nil {
		return err
	}

	sub := SubscriptionInfo{Topic: topic, URI: topicInfo.URI, Protocol: topicInfo.Protocol}
	payload := CallbackPayload{InstanceID: instanceID, Topic: topic, Constraints: topicInfo.Constraints, SubscriptionInfo: &sub}

	return b.callProvider(ctx, topic, meta.Callback, ActionPublish, payload)
}

func (b *Bridge) stopPublish(ctx context.Context, topic string) error {
	instanceID, meta, topicInfo, err := b.lookupTopic(topic)
	if err != nil {
		return err
	}

	payload := CallbackPayload{InstanceID: instanceID, Topic: topic, Constraints: topicInfo.Constraints}

	if err := b.callProvider(ctx, topic, meta.Callback, ActionStopPublish, payload); err != nil {
		return err
	}

	if err := withRetry(ctx, b.MaxCallbackAttempts, b.RetryDelay, func() error {
		return b.Broker.DeleteTopic(ctx, topic)
	}); err != nil {
		b.Logger.Error("managedsubscribe: failed to delete topic at broker", "topic", topic, "error", err)
		return fmt.Errorf("%w: delete topic %s: %v", ErrBrokerUnavailable, topic, err)
	}

	b.Store.RemoveTopic(topic)
	return nil
}

func (b *Bridge) lookupTopic(topic string) (instanceID string, meta EntityMetadata, info TopicInfo, err error) {
	instanceID, ok := b.Store.EntityIDForTopic(topic)
	if !ok {
		return "", EntityMetadata{}, TopicInfo{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	meta, ok = b.Store.EntityMetadata(instanceID)
	if !ok {
		return "", EntityMetadata{}, TopicInfo{}, fmt.Errorf("%w: %s", ErrUnknownEntity, instanceID)
	}
	info, ok = meta.Topics[topic]
	if !ok {
		return "", EntityMetadata{}, TopicInfo{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return instanceID, meta, info, nil
}

func (b *Bridge) callProvider(ctx context.Context, topic string, callback CallbackInfo, action string, payload CallbackPayload) error {
	err := withRetry(ctx, b.MaxCallbackAttempts, b.RetryDelay, func() error {
		return b.Callback.ManageTopic(ctx, callback, action, payload)
	})
	if err != nil {
		b.Store.RecordFailure(topic)
		b.Logger.Warn("managedsubscribe: provider callback unreachable", "topic", topic, "action", action, "error", err)
		return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	b.Store.ResetFailure(topic)
	return nil
}

// Reap removes every topic whose provider callback has failed at least
// StaleAfterFailures consecutive times: it deletes the topic at the
// broker and from the store, without contacting the provider again. It
// returns the number of topics reaped.
func (b *Bridge) Reap(ctx context.Context) int {
	stale := b.Store.StaleTopics(b.StaleAfterFailures)
	reaped := 0
	for _, topic := range stale {
		if err := b.Broker.DeleteTopic(ctx, topic); err != nil {
			b.Logger.Warn("managedsubscribe: reaper failed to delete stale topic", "topic", topic, "error", err)
			continue
		}
		b.Store.RemoveTopic(topic)
		b.Logger.Info("managedsubscribe: reaped stale topic", "topic", topic)
		reaped++
	}
	return reaped
}

// withRetry runs fn up to attempts times, sleeping delay between
// attempts, stopping early on ctx cancellation. It returns nil on first
// success, ctx's error if ctx is done first, and otherwise fn's last
// error.
func withRetry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if i < attempts-1 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}
