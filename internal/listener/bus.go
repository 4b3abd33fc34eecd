// Package listener provides the dispatch bus for mutating-request
// notifications. Handlers are registered per request kind before the
// server starts; each handler runs on its own serialized queue so a slow
// handler never blocks the publisher or its peers, and a single handler
// always observes publications in publish order.
package listener

import (
	"log/slog"
	"sync"
)

// Kind identifies the request type of a publication. The byte values are
// part of the pub/sub wire contract and must not be renumbered.
type Kind byte

const (
	CreateDataset Kind = 1
	DeleteDataset Kind = 2
	GenerateID    Kind = 3
	GetDatasets   Kind = 4
	PutRecords    Kind = 5

	// All subscribes a handler to every publication.
	All Kind = 0xFF
)

// String returns the kind's name for logs.
func (k Kind) String() string {
	switch k {
	case CreateDataset:
		return "create_dataset"
	case DeleteDataset:
		return "delete_dataset"
	case GenerateID:
		return "generate_id"
	case GetDatasets:
		return "get_datasets"
	case PutRecords:
		return "put_records"
	case All:
		return "all"
	}
	return "unknown"
}

// Handler consumes one publication. It runs on the subscription's own
// queue goroutine and must not be shared with another subscription
// unless it is safe for concurrent use.
type Handler func(kind Kind, payload []byte)

type message struct {
	kind    Kind
	payload []byte
}

type subscription struct {
	kind    Kind
	handler Handler
	queue   chan message
}

// Bus is the listener registry and dispatcher. Register before Run;
// after Run the registry is immutable.
type Bus struct {
	logger    *slog.Logger
	queueSize int

	mu        sync.Mutex
	running   bool
	subs      []*subscription
	onPublish func(Kind)
	wg        sync.WaitGroup
}

// NewBus returns a bus whose per-handler queues buffer up to queueSize
// publications. Zero means the default of 1024.
func NewBus(logger *slog.Logger, queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Bus{logger: logger, queueSize: queueSize}
}

// Register adds a handler for the given kind. It panics if called after
// Run: the registry is fixed at server construction.
func (b *Bus) Register(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		panic("listener: Register after Run")
	}
	b.subs = append(b.subs, &subscription{
		kind:    kind,
		handler: handler,
		queue:   make(chan message, b.queueSize),
	})
}

// OnPublish sets a hook invoked once per publication, before dispatch.
// Like Register it must be called before Run.
func (b *Bus) OnPublish(fn func(Kind)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		panic("listener: OnPublish after Run")
	}
	b.onPublish = fn
}

// Run starts one queue goroutine per subscription and seals the
// registry.
func (b *Bus) Run() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	for _, sub := range b.subs {
		b.wg.Add(1)
		go func(sub *subscription) {
			defer b.wg.Done()
			for msg := range sub.queue {
				sub.handler(msg.kind, msg.payload)
			}
		}(sub)
	}
}

// Publish delivers the payload to every handler registered for kind or
// for All. It never blocks: if a handler's queue is full the publication
// is dropped for that handler and logged.
func (b *Bus) Publish(kind Kind, payload []byte) {
	if b.onPublish != nil {
		b.onPublish(kind)
	}
	for _, sub := range b.subs {
		if sub.kind != kind && sub.kind != All {
			continue
		}
		select {
		case sub.queue <- message{kind: kind, payload: payload}:
		default:
			b.logger.Warn("listener queue full, dropping publication",
				slog.String("kind", kind.String()),
				slog.String("subscription", sub.kind.String()),
			)
		}
	}
}

// Close drains the queues and waits for the handlers to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	for _, sub := range b.subs {
		close(sub.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
