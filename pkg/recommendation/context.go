package recommendation

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrContextClosed is returned when writing to a context after training finished
	ErrContextClosed = errors.New("recommender context is closed")
	// ErrKeyNotFound is returned by MustGet for absent keys
	ErrKeyNotFound = errors.New("key not found in recommender context")
)

// Key is a typed context key. Keys with the same name address the same slot.
type Key[T any] struct {
	name string
}

// NewKey creates a typed key
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the key name
func (k Key[T]) Name() string { return k.name }

// MessageLevel is the severity of a context log message
type MessageLevel string

const (
	MessageInfo  MessageLevel = "info"
	MessageWarn  MessageLevel = "warn"
	MessageError MessageLevel = "error"
)

// LogMessage is a message recorded by an engine during training or prediction
type LogMessage struct {
	Level   MessageLevel `json:"level"`
	Message string       `json:"message"`
	Time    time.Time    `json:"time"`
}

type contextStore struct {
	mu       sync.RWMutex
	values   map[string]any
	closed   bool
	messages []LogMessage
}

// Context holds the state a recommender produces while training and reads while predicting.
// It is created for one training run, closed when training ends and then only read.
// Views share the store and lifecycle of their parent but address a separate key space.
type Context struct {
	store     *contextStore
	namespace string
	owner     string
}

// NewContext creates an open context for the user who owns the training run
func NewContext(owner string) *Context {
	return &Context{
		store: &contextStore{values: make(map[string]any)},
		owner: owner,
	}
}

// Owner returns the user on whose behalf the recommender runs
func (c *Context) Owner() string { return c.owner }

// View returns a context addressing a separate key space named by namespace
func (c *Context) View(namespace string) *Context {
	return &Context{
		store:     c.store,
		namespace: c.namespace + fmt.Sprintf("%d:%s", len(namespace), namespace),
		owner:     c.owner,
	}
}

// Namespace returns the namespace path of the context, empty for the root
func (c *Context) Namespace() string { return c.namespace }

func (c *Context) slot(name string) string {
	return c.namespace + "#" + name
}

// Close marks the context read-only. Closing twice has no effect.
func (c *Context) Close() {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.closed = true
}

// IsClosed reports whether training has finished
func (c *Context) IsClosed() bool {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return c.store.closed
}

// Put stores a value, replacing any previous value of the key
func Put[T any](c *Context, key Key[T], value T) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.closed {
		return fmt.Errorf("%w: cannot put %s", ErrContextClosed, key.name)
	}
	c.store.values[c.slot(key.name)] = value
	return nil
}

// Get returns the value of a key. The second return value is false when the key is absent.
func Get[T any](c *Context, key Key[T]) (T, bool) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	v, ok := c.store.values[c.slot(key.name)].(T)
	return v, ok
}

// MustGet returns the value of a key or ErrKeyNotFound
func MustGet[T any](c *Context, key Key[T]) (T, error) {
	v, ok := Get(c, key)
	if !ok {
		return v, fmt.Errorf("%w: %s", ErrKeyNotFound, key.name)
	}
	return v, nil
}

func (c *Context) log(level MessageLevel, format string, args ...any) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.messages = append(c.store.messages, LogMessage{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		Time:    time.Now(),
	})
}

// Info records an informational message for the user
func (c *Context) Info(format string, args ...any) { c.log(MessageInfo, format, args...) }

// Warn records a warning for the user
func (c *Context) Warn(format string, args ...any) { c.log(MessageWarn, format, args...) }

// Error records an error for the user
func (c *Context) Error(format string, args ...any) { c.log(MessageError, format, args...) }

// Messages returns the recorded messages in order
func (c *Context) Messages() []LogMessage {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return append([]LogMessage(nil), c.store.messages...)
}
