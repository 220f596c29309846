// Package events carries progress and output notifications from the
// transcoder's log parser to whoever cares: the rendition runner's
// progress callback and the uploader.
package events

import "sync"

type Type string

const (
	// Progress events carry the transcode completion percentage.
	TypeProgress Type = "progress"
	// Output events fire when the transcoder opens a new output file, and
	// once more (with TranscodeCompleted set) when it exits.
	TypeOutput Type = "output"
)

type Event struct {
	Type               Type
	Percentage         int
	TranscodeCompleted bool
}

type Handler func(Event)

// Bus is a topic-keyed broadcast of events to subscribed handlers.
// Handlers run synchronously on the publisher's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.handlers[e.Type]
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}
