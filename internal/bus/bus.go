package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
)

// subscriberEntry holds one pub/sub subscription with a unique id so
// Subscribe's returned unsubscribe closure is idempotent and order-independent.
type subscriberEntry struct {
	id      string
	handler HandlerFunc
}

// InMemoryBus is the single-process CommBus implementation (spec 4.6).
//
// Grounded on commbus/bus.go's InMemoryCommBus, kept nearly verbatim: the
// event fan-out, query-timeout select, atomic subscriber-id counter, and
// middleware-chain wiring are all the same shape. The only material change
// is the logger dependency, which is klog.Logger instead of commbus's
// standalone BusLogger interface.
type InMemoryBus struct {
	handlers     map[string]HandlerFunc
	subscribers  map[string][]subscriberEntry
	middleware   []Middleware
	queryTimeout time.Duration
	nextSubID    uint64
	log          klog.Logger
	mu           sync.RWMutex
}

// New constructs an InMemoryBus with the given query timeout.
func New(queryTimeout time.Duration, log klog.Logger) *InMemoryBus {
	if log == nil {
		log = klog.NewNop()
	}
	return &InMemoryBus{
		handlers:     make(map[string]HandlerFunc),
		subscribers:  make(map[string][]subscriberEntry),
		queryTimeout: queryTimeout,
		log:          log,
	}
}

// Publish fans an event out to every current subscriber concurrently.
// Delivery is best-effort: a subscriber error is logged but never stops, nor
// is reported back to, other subscribers or the publisher (spec 4.6).
func (b *InMemoryBus) Publish(ctx context.Context, event Message) error {
	eventType := GetMessageType(event)

	processed, err := b.runBefore(ctx, event)
	if err != nil {
		return err
	}
	if processed == nil {
		b.log.Debug("event aborted by middleware", "event_type", eventType)
		return nil
	}

	b.mu.RLock()
	entries := append([]subscriberEntry(nil), b.subscribers[eventType]...)
	b.mu.RUnlock()

	if len(entries) == 0 {
		b.log.Debug("no subscribers for event", "event_type", eventType)
		_, _ = b.runAfter(ctx, event, nil, nil)
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(entries))
	for i, entry := range entries {
		wg.Add(1)
		go func(idx int, h HandlerFunc) {
			defer wg.Done()
			if _, err := h(ctx, processed); err != nil {
				errs[idx] = err
				b.log.Warn("subscriber failed", "subscriber_idx", idx, "event_type", eventType, "error", err.Error())
			}
		}(i, entry.handler)
	}
	wg.Wait()

	var firstErr error
	for _, e := range errs {
		if e != nil {
			firstErr = e
			break
		}
	}
	_, _ = b.runAfter(ctx, event, nil, firstErr)
	return nil
}

// Send dispatches a command to its single registered handler, fire-and-forget.
func (b *InMemoryBus) Send(ctx context.Context, command Message) error {
	messageType := GetMessageType(command)

	processed, err := b.runBefore(ctx, command)
	if err != nil {
		return err
	}
	if processed == nil {
		b.log.Debug("command aborted by middleware", "message_type", messageType)
		return nil
	}

	b.mu.RLock()
	handler, ok := b.handlers[messageType]
	b.mu.RUnlock()
	if !ok {
		b.log.Debug("no handler for command", "message_type", messageType)
		return &NoHandlerError{MessageType: messageType}
	}

	_, handlerErr := handler(ctx, processed)
	if handlerErr != nil {
		b.log.Warn("command handler failed", "message_type", messageType, "error", handlerErr.Error())
	}
	_, _ = b.runAfter(ctx, command, nil, handlerErr)
	return handlerErr
}

// QuerySync dispatches a query to its single handler and blocks for a
// response, bounded by the bus's queryTimeout (spec 4.6).
func (b *InMemoryBus) QuerySync(ctx context.Context, query Query) (any, error) {
	messageType := GetMessageType(query)

	processed, err := b.runBefore(ctx, query)
	if err != nil {
		return nil, err
	}
	if processed == nil {
		return nil, &NoHandlerError{MessageType: messageType}
	}

	b.mu.RLock()
	handler, ok := b.handlers[messageType]
	b.mu.RUnlock()
	if !ok {
		return nil, &NoHandlerError{MessageType: messageType}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	type result struct {
		value any
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		v, e := handler(timeoutCtx, processed)
		resultCh <- result{value: v, err: e}
	}()

	select {
	case <-timeoutCtx.Done():
		timeoutErr := &QueryTimeoutError{MessageType: messageType, TimeoutSecs: b.queryTimeout.Seconds()}
		_, _ = b.runAfter(ctx, query, nil, timeoutErr)
		return nil, timeoutErr
	case res := <-resultCh:
		finalResult, mwErr := b.runAfter(ctx, query, res.value, res.err)
		if mwErr != nil {
			return finalResult, mwErr
		}
		return finalResult, res.err
	}
}

// Subscribe registers handler for eventType and returns an idempotent
// unsubscribe function.
func (b *InMemoryBus) Subscribe(eventType string, handler HandlerFunc) func() {
	subID := fmt.Sprintf("sub_%d", atomic.AddUint64(&b.nextSubID, 1))

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: subID, handler: handler})
	b.mu.Unlock()
	b.log.Debug("subscribed", "event_type", eventType, "sub_id", subID)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.subscribers[eventType]
		for i, e := range entries {
			if e.id == subID {
				b.subscribers[eventType] = append(entries[:i], entries[i+1:]...)
				b.log.Debug("unsubscribed", "event_type", eventType, "sub_id", subID)
				return
			}
		}
	}
}

// RegisterHandler registers the single handler for messageType (command or
// query); a second registration for the same type is rejected.
func (b *InMemoryBus) RegisterHandler(messageType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[messageType]; exists {
		return &HandlerAlreadyRegisteredError{MessageType: messageType}
	}
	b.handlers[messageType] = handler
	b.log.Debug("handler registered", "message_type", messageType)
	return nil
}

// AddMiddleware appends mw to the chain, executed in registration order on
// Before and reverse order on After.
func (b *InMemoryBus) AddMiddleware(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// HasHandler reports whether a command/query handler is registered.
func (b *InMemoryBus) HasHandler(messageType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[messageType]
	return ok
}

// GetSubscribers returns the current subscriber handlers for eventType.
func (b *InMemoryBus) GetSubscribers(eventType string) []HandlerFunc {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := b.subscribers[eventType]
	out := make([]HandlerFunc, len(entries))
	for i, e := range entries {
		out[i] = e.handler
	}
	return out
}

// GetRegisteredTypes returns every message type with a handler or subscriber.
func (b *InMemoryBus) GetRegisteredTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]struct{})
	for t := range b.handlers {
		seen[t] = struct{}{}
	}
	for t := range b.subscribers {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// Clear removes every handler, subscriber, and middleware; intended for tests.
func (b *InMemoryBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string]HandlerFunc)
	b.subscribers = make(map[string][]subscriberEntry)
	b.middleware = nil
}

func (b *InMemoryBus) runBefore(ctx context.Context, msg Message) (Message, error) {
	b.mu.RLock()
	chain := append([]Middleware(nil), b.middleware...)
	b.mu.RUnlock()

	current := msg
	for _, mw := range chain {
		result, err := mw.Before(ctx, current)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		current = result
	}
	return current, nil
}

func (b *InMemoryBus) runAfter(ctx context.Context, msg Message, result any, err error) (any, error) {
	b.mu.RLock()
	chain := append([]Middleware(nil), b.middleware...)
	b.mu.RUnlock()

	current := result
	for i := len(chain) - 1; i >= 0; i-- {
		afterResult, afterErr := chain[i].After(ctx, msg, current, err)
		if afterErr != nil {
			err = afterErr
		}
		if afterResult != nil {
			current = afterResult
		}
	}
	return current, err
}

var _ CommBus = (*InMemoryBus)(nil)
