// Package objectstore provides the record and snapshot key/value store.
// Objects live in buckets, carry secondary indexes, and keep the version
// loaded at fetch time as a put-context so concurrent writers are
// detected and resolved instead of silently overwriting each other.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned for operations issued after Close.
var ErrClosed = errors.New("object store client is closed")

// Index is one secondary index entry on an object. By convention integer
// indexes use the _int suffix and binary ones _bin.
type Index struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Object is one stored value. PutContext is the version observed at
// fetch time; backends use it to detect write conflicts. A zero
// PutContext on a store means the writer never fetched first.
type Object struct {
	Bucket  string
	Key     string
	Value   []byte
	Indexes []Index

	PutContext uint64
}

// Exists reports whether the object was present at fetch time.
func (o *Object) Exists() bool {
	return o.Value != nil
}

// SetIndex sets or replaces the named index.
func (o *Object) SetIndex(name, value string) {
	for i := range o.Indexes {
		if o.Indexes[i].Name == name {
			o.Indexes[i].Value = value
			return
		}
	}
	o.Indexes = append(o.Indexes, Index{Name: name, Value: value})
}

// ConflictResolver picks the surviving value when a store detects that
// the object changed since it was fetched.
type ConflictResolver func(stored, proposed []byte) []byte

// LexSmaller resolves a conflict to the lexicographically smaller value.
// Deterministic: every writer racing on the same pair converges on the
// same survivor.
func LexSmaller(stored, proposed []byte) []byte {
	if bytes.Compare(stored, proposed) <= 0 {
		return stored
	}
	return proposed
}

// Backend is the synchronous storage engine behind a Client.
// Get returns an object with a nil Value when the key is absent.
type Backend interface {
	Get(ctx context.Context, bucket, key string) (*Object, error)
	Put(ctx context.Context, obj *Object) error
	Delete(ctx context.Context, bucket, key string) error
	Close() error
}

// StorageMetrics records backend operation outcomes. The metrics
// package's Metrics satisfies it.
type StorageMetrics interface {
	RecordStorageOperation(backend, operation string, duration time.Duration, err error)
}

// Client fronts a Backend with a worker pool so fetches and stores can
// be issued asynchronously with completion callbacks. Callbacks run on
// pool goroutines and must not block indefinitely.
type Client struct {
	backend Backend
	tasks   chan func()
	metrics StorageMetrics
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewClient starts a client with the given pool size. Zero means the
// default of 8 workers.
func NewClient(backend Backend, workers int) *Client {
	if workers <= 0 {
		workers = 8
	}
	c := &Client{
		backend: backend,
		tasks:   make(chan func(), 4*workers),
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for task := range c.tasks {
				task()
			}
		}()
	}
	return c
}

// Instrument attaches an operation recorder. Call it during wiring,
// before the client is shared across goroutines.
func (c *Client) Instrument(m StorageMetrics) {
	c.metrics = m
}

func (c *Client) record(operation string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.RecordStorageOperation("objects", operation, time.Since(start), err)
	}
}

func (c *Client) submit(task func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.tasks <- task
	return true
}

// Fetch loads the object asynchronously. The callback receives an
// object with a nil Value when the key does not exist.
func (c *Client) Fetch(ctx context.Context, bucket, key string, cb func(*Object, error)) {
	ok := c.submit(func() {
		start := time.Now()
		obj, err := c.backend.Get(ctx, bucket, key)
		c.record("fetch", start, err)
		cb(obj, err)
	})
	if !ok {
		cb(nil, ErrClosed)
	}
}

// Store writes the object asynchronously.
func (c *Client) Store(ctx context.Context, obj *Object, cb func(error)) {
	ok := c.submit(func() {
		start := time.Now()
		err := c.backend.Put(ctx, obj)
		c.record("store", start, err)
		cb(err)
	})
	if !ok {
		cb(ErrClosed)
	}
}

// FetchSync loads the object on the caller's goroutine.
func (c *Client) FetchSync(ctx context.Context, bucket, key string) (*Object, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	start := time.Now()
	obj, err := c.backend.Get(ctx, bucket, key)
	c.record("fetch", start, err)
	return obj, err
}

// StoreSync writes the object on the caller's goroutine.
func (c *Client) StoreSync(ctx context.Context, obj *Object) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	start := time.Now()
	err := c.backend.Put(ctx, obj)
	c.record("store", start, err)
	return err
}

// DeleteSync removes the key on the caller's goroutine.
func (c *Client) DeleteSync(ctx context.Context, bucket, key string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	start := time.Now()
	err := c.backend.Delete(ctx, bucket, key)
	c.record("delete", start, err)
	return err
}

// Close drains the pool and closes the backend. Pending callbacks run
// before Close returns.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.tasks)
	c.mu.Unlock()

	c.wg.Wait()
	return c.backend.Close()
}
