package workflow

import (
	"context"
	"sync"

	"mediaconv/internal/queue"
)

// Listener receives item lifecycle events. Each call carries a snapshot of
// the item taken after the corresponding state was persisted.
type Listener interface {
	ItemStarted(ctx context.Context, item queue.Item)
	ItemProgress(ctx context.Context, item queue.Item, percent int)
	ItemCompleted(ctx context.Context, item queue.Item)
	ItemFailed(ctx context.Context, item queue.Item)
	ItemCancelled(ctx context.Context, item queue.Item)
}

// ListenerFuncs adapts optional callbacks to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnStarted   func(ctx context.Context, item queue.Item)
	OnProgress  func(ctx context.Context, item queue.Item, percent int)
	OnCompleted func(ctx context.Context, item queue.Item)
	OnFailed    func(ctx context.Context, item queue.Item)
	OnCancelled func(ctx context.Context, item queue.Item)
}

func (f ListenerFuncs) ItemStarted(ctx context.Context, item queue.Item) {
	if f.OnStarted != nil {
		f.OnStarted(ctx, item)
	}
}

func (f ListenerFuncs) ItemProgress(ctx context.Context, item queue.Item, percent int) {
	if f.OnProgress != nil {
		f.OnProgress(ctx, item, percent)
	}
}

func (f ListenerFuncs) ItemCompleted(ctx context.Context, item queue.Item) {
	if f.OnCompleted != nil {
		f.OnCompleted(ctx, item)
	}
}

func (f ListenerFuncs) ItemFailed(ctx context.Context, item queue.Item) {
	if f.OnFailed != nil {
		f.OnFailed(ctx, item)
	}
}

func (f ListenerFuncs) ItemCancelled(ctx context.Context, item queue.Item) {
	if f.OnCancelled != nil {
		f.OnCancelled(ctx, item)
	}
}

// Broadcaster fans events out to every subscriber, synchronously and in
// subscription order.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewBroadcaster returns a Broadcaster with the given initial subscribers.
func NewBroadcaster(listeners ...Listener) *Broadcaster {
	b := &Broadcaster{}
	for _, l := range listeners {
		b.Subscribe(l)
	}
	return b
}

// Subscribe adds l. Nil listeners are ignored.
func (b *Broadcaster) Subscribe(l Listener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

func (b *Broadcaster) snapshot() []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listeners
}

func (b *Broadcaster) ItemStarted(ctx context.Context, item queue.Item) {
	for _, l := range b.snapshot() {
		l.ItemStarted(ctx, item)
	}
}

func (b *Broadcaster) ItemProgress(ctx context.Context, item queue.Item, percent int) {
	for _, l := range b.snapshot() {
		l.ItemProgress(ctx, item, percent)
	}
}

func (b *Broadcaster) ItemCompleted(ctx context.Context, item queue.Item) {
	for _, l := range b.snapshot() {
		l.ItemCompleted(ctx, item)
	}
}

func (b *Broadcaster) ItemFailed(ctx context.Context, item queue.Item) {
	for _, l := range b.snapshot() {
		l.ItemFailed(ctx, item)
	}
}

func (b *Broadcaster) ItemCancelled(ctx context.Context, item queue.Item) {
	for _, l := range b.snapshot() {
		l.ItemCancelled(ctx, item)
	}
}
