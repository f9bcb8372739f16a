package internal

import (
	"log"
	"sync"
)

// SoftSubscriberLimit is a capacity hint, not a hard cap. Crossing it logs a
// warning so operators notice leaked or runaway streams.
const SoftSubscriberLimit = 100

type subscriber struct {
	id             uint64
	installationID string
	deliver        func(Event)
}

// Broadcaster fans normalized events out to the subscribers registered for
// the event's installation. Membership is pure process memory: a restart
// drops every subscription and nothing is replayed.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers []subscriber
	nextID      uint64
	logger      *log.Logger
}

func NewBroadcaster(logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{logger: logger}
}

// Subscribe registers deliver for every event whose InstallationID equals
// installationID. The returned function removes the subscription and is safe
// to call more than once.
func (b *Broadcaster) Subscribe(installationID string, deliver func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers = append(b.subscribers, subscriber{
		id:             id,
		installationID: installationID,
		deliver:        deliver,
	})
	count := len(b.subscribers)
	b.mu.Unlock()

	if count > SoftSubscriberLimit {
		b.logger.Printf("subscriber count %d exceeds soft limit %d", count, SoftSubscriberLimit)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(id)
		})
	}
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Broadcast delivers event to every matching subscriber in subscription
// order. Delivery runs on a snapshot so subscribe/unsubscribe during a
// broadcast cannot corrupt iteration, and a panicking subscriber does not
// block the rest.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.Lock()
	snapshot := make([]subscriber, len(b.subscribers))
	copy(snapshot, b.subscribers)
	b.mu.Unlock()

	for _, sub := range snapshot {
		if sub.installationID != event.InstallationID {
			continue
		}
		b.deliverSafely(sub, event)
	}
}

func (b *Broadcaster) deliverSafely(sub subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("subscriber %d panicked: %v", sub.id, r)
		}
	}()
	sub.deliver(event)
}

// SubscriberCount reports the current registry size.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
