package broker

import (
	"sync"

	"github.com/mapstash/mapstash/internal/domain"
)

// StatusFunc is invoked after a region's status may have changed. The
// event carries no snapshot; handlers query current state themselves.
type StatusFunc func(region domain.RegionID)

// ProgressFunc is invoked with the bytes fetched so far and the total
// for the region's current download request.
type ProgressFunc func(region domain.RegionID, downloaded, total int64)

type subscriber struct {
	token      int
	onStatus   StatusFunc
	onProgress ProgressFunc
}

type event struct {
	region     domain.RegionID
	isProgress bool
	downloaded int64
	total      int64
}

// Broker fans status and progress events out to subscribers. Notify
// calls only enqueue, preserving the order transitions happened in;
// Dispatch drains the queue and runs callbacks with no lock held, so a
// callback may re-enter any public operation, including Unsubscribe.
// Events reach subscribers in registration order.
type Broker struct {
	mu          sync.Mutex
	nextToken   int
	subs        []*subscriber
	pending     []event
	dispatching bool
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{nextToken: 1}
}

// Subscribe registers an observer and returns its token. Either callback
// may be nil to ignore that event kind.
func (b *Broker) Subscribe(onStatus StatusFunc, onProgress ProgressFunc) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := b.nextToken
	b.nextToken++
	b.subs = append(b.subs, &subscriber{token: token, onStatus: onStatus, onProgress: onProgress})
	return token
}

// Unsubscribe removes a subscription. No callback for the token begins
// after Unsubscribe returns; a callback already running on another
// goroutine may still be completing. It is safe to call from inside a
// callback fired by this broker. An unknown or already removed token
// returns domain.ErrUnknownSubscription.
func (b *Broker) Unsubscribe(token int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.token == token {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return nil
		}
	}
	return domain.ErrUnknownSubscription
}

// NotifyStatus queues a status event for the region.
func (b *Broker) NotifyStatus(region domain.RegionID) {
	b.mu.Lock()
	b.pending = append(b.pending, event{region: region})
	b.mu.Unlock()
}

// NotifyProgress queues a progress event for the region.
func (b *Broker) NotifyProgress(region domain.RegionID, downloaded, total int64) {
	b.mu.Lock()
	b.pending = append(b.pending, event{
		region:     region,
		isProgress: true,
		downloaded: downloaded,
		total:      total,
	})
	b.mu.Unlock()
}

// Dispatch drains queued events, including any enqueued by the callbacks
// it runs. At most one drain is active at a time; a nested call from
// inside a callback returns immediately and leaves the new events to the
// outer drain.
func (b *Broker) Dispatch() {
	b.mu.Lock()
	if b.dispatching {
		b.mu.Unlock()
		return
	}
	b.dispatching = true
	for len(b.pending) > 0 {
		ev := b.pending[0]
		b.pending = b.pending[1:]
		b.deliverLocked(ev)
	}
	b.dispatching = false
	b.mu.Unlock()
}

// deliverLocked fans one event out. It is entered with b.mu held and
// returns with it held; the lock is dropped around every callback. The
// token snapshot fixes the audience for this event, and liveness is
// re-checked per token so an Unsubscribe during the pass neither skips
// nor duplicates delivery to the others.
func (b *Broker) deliverLocked(ev event) {
	tokens := make([]int, len(b.subs))
	for i, s := range b.subs {
		tokens[i] = s.token
	}
	for _, token := range tokens {
		s := b.findLocked(token)
		if s == nil {
			continue // unsubscribed mid-pass
		}
		onStatus, onProgress := s.onStatus, s.onProgress
		b.mu.Unlock()
		if ev.isProgress {
			if onProgress != nil {
				onProgress(ev.region, ev.downloaded, ev.total)
			}
		} else if onStatus != nil {
			onStatus(ev.region)
		}
		b.mu.Lock()
	}
}

func (b *Broker) findLocked(token int) *subscriber {
	for _, s := range b.subs {
		if s.token == token {
			return s
		}
	}
	return nil
}
