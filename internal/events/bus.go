// Package events fans cache and manager mutations out to observers such as
// the navigator UI. Delivery is in-memory and best-effort.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/pkg/logger"
)

// Type classifies an event.
type Type int

const (
	ChildAdded Type = iota + 1
	ChildRemoved
	AttributesChanged
	ChildMoved
	ContainerRefreshed
	ContainerInvalidated
)

func (t Type) String() string {
	switch t {
	case ChildAdded:
		return "child-added"
	case ChildRemoved:
		return "child-removed"
	case AttributesChanged:
		return "attributes-changed"
	case ChildMoved:
		return "child-moved"
	case ContainerRefreshed:
		return "container-refreshed"
	case ContainerInvalidated:
		return "container-invalidated"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event describes one mutation. Object and Name are zero for container-level
// events.
type Event struct {
	Type       Type
	DataSource string
	Container  model.ID
	Kind       model.Kind
	Object     model.ID
	Name       string
	Token      uint64
}

// Subscription is one observer's queue. Read from Events until it is closed
// by Unsubscribe.
type Subscription struct {
	ID         uuid.UUID
	DataSource string

	ch      chan Event
	dropped atomic.Int64
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped counts events discarded because the queue was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Bus routes events to the subscribers registered for their data source.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	logger *logger.Logger
}

func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger.OrDiscard(log),
	}
}

// Subscribe registers an observer for one data source.
func (b *Bus) Subscribe(dataSource string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &Subscription{
		ID:         uuid.New(),
		DataSource: dataSource,
		ch:         make(chan Event, buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[dataSource]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[dataSource] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the observer and closes its queue. Calling it twice is
// harmless.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[sub.DataSource]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.DataSource)
	}
	close(sub.ch)
}

// Publish delivers events in order without blocking. A subscriber whose queue
// is full loses the event; the loss is counted on the subscription.
func (b *Bus) Publish(evts ...Event) {
	if len(evts) == 0 {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, evt := range evts {
		for sub := range b.subs[evt.DataSource] {
			select {
			case sub.ch <- evt:
			default:
				sub.dropped.Add(1)
				b.logger.WithFields(logrus.Fields{
					"subscription": sub.ID.String(),
					"event":        evt.Type.String(),
				}).Warn("event queue full, dropping event")
			}
		}
	}
}

// Subscribers returns the number of observers of a data source.
func (b *Bus) Subscribers(dataSource string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[dataSource])
}
