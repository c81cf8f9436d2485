// Package broker fans chat messages out to the connections subscribed to a room
// topic. Delivery is at-most-once: a subscriber whose outbound buffer is full
// misses the message.
package broker

import (
	"errors"
	"strconv"
	"sync"

	"github.com/real-rm/golog"
	"github.com/samber/lo"

	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/constants"
	"github.com/real-rm/meetupchat/internal/metrics"
	"github.com/real-rm/meetupchat/internal/util"
)

var (
	// ErrDuplicateSubscription is returned when a connection reuses a live subscription id
	ErrDuplicateSubscription = errors.New("subscription id already in use")
	// ErrInvalidSubscription is returned for empty topics, ids or nil subscribers
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// Subscriber is a connection able to receive published messages
type Subscriber interface {
	ConnectionID() string
	// Deliver queues payload for the subscription without blocking. It reports
	// false when the message could not be queued.
	Deliver(destination, subscriptionID, messageID string, payload []byte) bool
}

// Event is one message to publish to a topic
type Event struct {
	Topic     string
	MessageID string
	Payload   []byte
}

type subscriptionKey struct {
	connID string
	subID  string
}

// Broker keeps the topic to subscriber sets and runs the dispatcher that drains
// emitted events in order.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[subscriptionKey]Subscriber
	// byConn maps each connection's subscriptions to their topic
	byConn map[string]map[string]string

	events   chan Event
	done     chan struct{}
	stopped  chan struct{}
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
	logger   *golog.Logger
}

// New creates a broker whose event queue holds bufferSize pending events
func New(bufferSize int, logger *golog.Logger) *Broker {
	// No else needed: optional operation (fall back to an unbuffered floor)
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Broker{
		topics:  make(map[string]map[subscriptionKey]Subscriber),
		byConn:  make(map[string]map[string]string),
		events:  make(chan Event, bufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger.WithGroup("broker"),
	}
}

// Subscribe registers sub on topic under subscriptionID
func (b *Broker) Subscribe(topic, subscriptionID string, sub Subscriber) error {
	// No else needed: early return pattern (guard clause)
	if topic == "" || subscriptionID == "" || sub == nil {
		return ErrInvalidSubscription
	}
	connID := sub.ConnectionID()

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.byConn[connID]
	if !ok {
		subs = make(map[string]string)
		b.byConn[connID] = subs
	}
	// No else needed: early return pattern (guard clause)
	if _, exists := subs[subscriptionID]; exists {
		return ErrDuplicateSubscription
	}
	subs[subscriptionID] = topic

	set, ok := b.topics[topic]
	if !ok {
		set = make(map[subscriptionKey]Subscriber)
		b.topics[topic] = set
	}
	set[subscriptionKey{connID: connID, subID: subscriptionID}] = sub

	metrics.ActiveSubscriptions.Inc()
	b.logger.Debug("Subscribed", "topic", topic, "connection_id", connID, "subscription_id", subscriptionID)
	return nil
}

// Unsubscribe removes one subscription of connID. It reports whether the
// subscription existed.
func (b *Broker) Unsubscribe(connID, subscriptionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.byConn[connID]
	topic, ok := subs[subscriptionID]
	// No else needed: early return pattern (guard clause)
	if !ok {
		return false
	}
	delete(subs, subscriptionID)
	// No else needed: optional operation (drop empty connection entries)
	if len(subs) == 0 {
		delete(b.byConn, connID)
	}
	b.removeLocked(topic, subscriptionKey{connID: connID, subID: subscriptionID})
	return true
}

// Remove drops every subscription of connID and returns how many there were
func (b *Broker) Remove(connID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.byConn[connID]
	for subID, topic := range subs {
		b.removeLocked(topic, subscriptionKey{connID: connID, subID: subID})
	}
	delete(b.byConn, connID)
	return len(subs)
}

func (b *Broker) removeLocked(topic string, key subscriptionKey) {
	set := b.topics[topic]
	// No else needed: early return pattern (guard clause)
	if _, ok := set[key]; !ok {
		return
	}
	delete(set, key)
	// No else needed: optional operation (drop empty topics)
	if len(set) == 0 {
		delete(b.topics, topic)
	}
	metrics.ActiveSubscriptions.Dec()
}

// Publish delivers payload to every current subscriber of topic. Subscribers
// that cannot take the message are skipped.
func (b *Broker) Publish(topic, messageID string, payload []byte) (delivered, dropped int) {
	b.mu.RLock()
	type target struct {
		subID string
		sub   Subscriber
	}
	targets := make([]target, 0, len(b.topics[topic]))
	for key, sub := range b.topics[topic] {
		targets = append(targets, target{subID: key.subID, sub: sub})
	}
	b.mu.RUnlock()

	for _, t := range targets {
		if t.sub.Deliver(topic, t.subID, messageID, payload) {
			delivered++
			continue
		}
		dropped++
		b.logger.Warn("Dropped message for slow subscriber",
			"topic", topic,
			"connection_id", t.sub.ConnectionID(),
			"message_id", messageID)
	}

	metrics.FanoutDelivered.Add(float64(delivered))
	metrics.FanoutDropped.Add(float64(dropped))
	return delivered, dropped
}

// Emit queues ev for the dispatcher without blocking. It reports false when the
// queue is full or the broker has stopped.
func (b *Broker) Emit(ev Event) bool {
	select {
	case <-b.done:
		metrics.BroadcastEventsDropped.Inc()
		return false
	default:
	}

	select {
	case b.events <- ev:
		return true
	default:
		metrics.BroadcastEventsDropped.Inc()
		b.logger.Warn("Broadcast queue full, dropping event", "topic", ev.Topic, "message_id", ev.MessageID)
		return false
	}
}

// Start launches the dispatcher. Calling it more than once has no effect.
func (b *Broker) Start() {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	// No else needed: early return pattern (guard clause)
	if b.started {
		return
	}
	b.started = true
	util.SafeGo(b.logger, "broker-dispatcher", b.dispatch)
}

func (b *Broker) dispatch() {
	defer close(b.stopped)
	for {
		select {
		case ev := <-b.events:
			b.Publish(ev.Topic, ev.MessageID, ev.Payload)
		case <-b.done:
			b.drain()
			return
		}
	}
}

// drain publishes whatever was queued before Stop
func (b *Broker) drain() {
	for {
		select {
		case ev := <-b.events:
			b.Publish(ev.Topic, ev.MessageID, ev.Payload)
		default:
			return
		}
	}
}

// Stop ends the dispatcher after publishing already queued events
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.startMu.Lock()
		started := b.started
		b.started = true
		b.startMu.Unlock()
		// No else needed: optional operation (wait only for a running dispatcher)
		if started {
			<-b.stopped
		}
	})
}

// SubscriberCount returns the number of subscriptions on topic
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Topics returns the topics that currently have subscribers
func (b *Broker) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return lo.Keys(b.topics)
}

// RoomTopic returns the subscription destination of roomID
func RoomTopic(roomID chat.RoomID) string {
	return constants.SubscribePrefix + strconv.FormatInt(int64(roomID), 10)
}
