package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	UserOnline  EventType = "user.online"
	UserOffline EventType = "user.offline"
)

// Event is a presence transition for a single user.
type Event struct {
	Type   EventType
	UserID string
	At     time.Time
}

type Handler func(Event)

// Bus is a one-way in-process publish/subscribe channel. The presence
// tracker publishes; the outbox (and anything else) subscribes. Handlers
// run on their own goroutine so a slow subscriber never blocks the
// publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[EventType][]Handler),
		logger:   logger,
	}
}

func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	subs := make([]Handler, len(b.handlers[evt.Type]))
	copy(subs, b.handlers[evt.Type])
	b.mu.RUnlock()

	for _, h := range subs {
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event", string(evt.Type)),
						zap.String("user_id", evt.UserID),
						zap.Any("panic", r))
				}
			}()
			h(evt)
		}()
	}
}
