// Package notification fans playback changes out to subscribers.
//
// Every subscription owns a queue drained by its own goroutine, so a subscriber sees
// notifications in sequence order and a slow one never delays the others.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/abplayer/internal/app/playback"
)

const (
	sendTimeout = 500 * time.Millisecond
	queueSize   = 32

	// A subscription is dropped after this many failed or timed-out sends in a row.
	maxConsecutiveFailures = 3
)

// EventInitialState marks the first notification a subscriber receives.
const EventInitialState = "initial_state"

// Notification is one playback change delivered to subscribers.
type Notification struct {
	SequenceNo uint64
	Event      string // playback.EventType name, or EventInitialState
	Snapshot   playback.Snapshot
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(Notification) error
}

type subscription struct {
	id     string
	stream Stream
	queue  chan Notification
	done   chan struct{}
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	return m.subscribe(stream, nil)
}

// SubscribeWithInitial adds a subscription whose first notification is EventInitialState
// carrying current(). No broadcast can slip in between the two.
func (m *Manager) SubscribeWithInitial(stream Stream, current func() playback.Snapshot) string {
	return m.subscribe(stream, current)
}

func (m *Manager) subscribe(stream Stream, current func() playback.Snapshot) string {
	sub := &subscription{
		id:     uuid.New().String(),
		stream: stream,
		queue:  make(chan Notification, queueSize),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if current != nil {
		sub.queue <- Notification{
			SequenceNo: m.NextSequenceNo(),
			Event:      EventInitialState,
			Snapshot:   current(),
		}
	}
	m.subscriptions[sub.id] = sub
	m.mu.Unlock()

	go m.pump(sub)
	zlog.Debug().Msgf("notification: subscribed: subscription=%s", sub.id)
	return sub.id
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Unsubscribe removes a subscription. Queued notifications are discarded.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(subscriptionID)
}

// remove must be called with m.mu held.
func (m *Manager) remove(subscriptionID string) {
	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return
	}
	delete(m.subscriptions, subscriptionID)
	close(sub.done)
}

// Broadcast queues a notification for every subscriber and returns its sequence number.
// It never blocks: a subscriber whose queue is full misses this notification.
func (m *Manager) Broadcast(event string, snap playback.Snapshot) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := Notification{
		SequenceNo: m.NextSequenceNo(),
		Event:      event,
		Snapshot:   snap,
	}
	for _, sub := range m.subscriptions {
		select {
		case sub.queue <- n:
		default:
			zlog.Warn().Msgf("notification: queue full, dropping %s: subscription=%s", event, sub.id)
		}
	}
	return n.SequenceNo
}

// pump delivers queued notifications in order until the subscription is removed.
func (m *Manager) pump(sub *subscription) {
	failures := 0
	for {
		select {
		case <-sub.done:
			return
		case n := <-sub.queue:
			if err := deliver(sub, n); err != nil {
				failures++
				zlog.Debug().Err(err).Msgf("notification: send failed (%d/%d): subscription=%s",
					failures, maxConsecutiveFailures, sub.id)
				if failures >= maxConsecutiveFailures {
					zlog.Info().Msgf("notification: dropping unresponsive subscription=%s", sub.id)
					m.Unsubscribe(sub.id)
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// deliver sends n, giving up after sendTimeout.
func deliver(sub *subscription, n Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sub.stream.Send(n)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-sub.done:
		return nil
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.subscriptions {
		m.remove(id)
	}
}
