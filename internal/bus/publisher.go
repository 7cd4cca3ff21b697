package bus

import (
	"context"
	"sync"
	"time"

	appLog "calsync/internal/log"
	"calsync/internal/notify"
)

// DefaultDedupWindow matches the deduplication interval of FIFO queues.
const DefaultDedupWindow = 5 * time.Minute

// Publisher delivers messages on a Bus and drops a message whose DedupID
// was delivered within the dedup window. Only successful deliveries are
// remembered, so a failed message can be retried.
type Publisher struct {
	bus    *Bus
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewPublisher returns a Publisher on b. window <= 0 uses
// DefaultDedupWindow; a nil now uses time.Now.
func NewPublisher(b *Bus, window time.Duration, now func() time.Time) *Publisher {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Publisher{bus: b, window: window, now: now, seen: make(map[string]time.Time)}
}

var _ notify.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, m notify.Message) error {
	now := p.now()
	key := string(m.Group) + "/" + m.DedupID

	p.mu.Lock()
	p.expire(now)
	if at, ok := p.seen[key]; ok {
		p.mu.Unlock()
		appLog.Debug("bus: duplicate message dropped", "group", string(m.Group),
			"dedup_id", m.DedupID, "first_delivered", at)
		return nil
	}
	p.mu.Unlock()

	if err := p.bus.Deliver(ctx, m); err != nil {
		return err
	}

	p.mu.Lock()
	p.seen[key] = now
	p.mu.Unlock()
	return nil
}

// expire drops entries older than the window. Callers hold mu.
func (p *Publisher) expire(now time.Time) {
	for k, at := range p.seen {
		if now.Sub(at) >= p.window {
			delete(p.seen, k)
		}
	}
}
