package backtester

import "sync"

// ProgressEvent is one update broadcast to SSE subscribers watching a
// combinatorial backtest run.
type ProgressEvent struct {
	Symbol       string
	StrategyName string
	ProgressPct  uint32
	Status       string // "running", "completed", "error"
	Features     map[string]string
}

const progressBufferSize = 100

// Broadcaster fans ProgressEvents out to any number of subscribers.
// Subscribers that fall behind are lagged, not allowed to block
// producers: a full subscriber channel just drops the event.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan ProgressEvent]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan ProgressEvent]struct{})}
}

// Subscribe returns a channel the caller must eventually pass to
// Unsubscribe. The channel is buffered to progressBufferSize.
func (b *Broadcaster) Subscribe() chan ProgressEvent {
	ch := make(chan ProgressEvent, progressBufferSize)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan ProgressEvent) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(event ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default: // subscriber is lagging, drop rather than block the run
		}
	}
}
