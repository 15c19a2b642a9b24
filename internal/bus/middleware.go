// Middleware implementations for CommBus: structured logging of all traffic
// and per-message-type circuit breaking.
//
// Grounded on commbus/middleware.go's LoggingMiddleware and
// CircuitBreakerMiddleware, adapted with log.Printf replaced by klog.Logger
// and GetMessageType's Message.Category() call dropped (this module's
// Message is a plain routing-key type, not a categorized envelope).
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
)

// LoggingMiddleware logs every message's dispatch and completion.
type LoggingMiddleware struct {
	log klog.Logger
}

// NewLoggingMiddleware creates a LoggingMiddleware backed by log.
func NewLoggingMiddleware(log klog.Logger) *LoggingMiddleware {
	if log == nil {
		log = klog.NewNop()
	}
	return &LoggingMiddleware{log: log}
}

func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.log.Debug("bus dispatch", "message_type", GetMessageType(message))
	return message, nil
}

func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)
	if err != nil {
		m.log.Warn("bus dispatch failed", "message_type", msgType, "error", err.Error())
	} else {
		m.log.Debug("bus dispatch completed", "message_type", msgType)
	}
	return result, nil
}

// circuitState is the per-message-type circuit breaker state machine.
type circuitState struct {
	failures    int
	lastFailure time.Time
	state       string // "closed", "open", "half-open"
}

// CircuitBreakerMiddleware protects message types against cascading failures:
// it opens after failureThreshold consecutive failures, blocks delivery
// while open, and probes with a single half-open attempt after resetTimeout.
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	excludedTypes    map[string]struct{}
	states           map[string]*circuitState
	log              klog.Logger
	mu               sync.Mutex
}

// NewCircuitBreakerMiddleware creates a CircuitBreakerMiddleware. A
// failureThreshold of 0 means the circuit never opens.
func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration, excludedTypes []string, log klog.Logger) *CircuitBreakerMiddleware {
	excluded := make(map[string]struct{}, len(excludedTypes))
	for _, t := range excludedTypes {
		excluded[t] = struct{}{}
	}
	if log == nil {
		log = klog.NewNop()
	}
	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		excludedTypes:    excluded,
		states:           make(map[string]*circuitState),
		log:              log,
	}
}

func (m *CircuitBreakerMiddleware) getState(msgType string) *circuitState {
	if _, exists := m.states[msgType]; !exists {
		m.states[msgType] = &circuitState{state: "closed"}
	}
	return m.states[msgType]
}

// Before blocks delivery for message types whose circuit is open, unless the
// reset timeout has elapsed, in which case it allows one half-open probe.
func (m *CircuitBreakerMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	msgType := GetMessageType(message)
	if _, excluded := m.excludedTypes[msgType]; excluded {
		return message, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)
	now := time.Now()

	if state.state == "open" {
		if now.Sub(state.lastFailure) >= m.resetTimeout {
			state.state = "half-open"
			m.log.Debug("circuit half-open", "message_type", msgType)
		} else {
			m.log.Debug("circuit open, blocking", "message_type", msgType)
			return nil, nil
		}
	}
	return message, nil
}

// After records the outcome and transitions the circuit accordingly.
func (m *CircuitBreakerMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)
	if _, excluded := m.excludedTypes[msgType]; excluded {
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)
	now := time.Now()

	if err != nil {
		state.failures++
		state.lastFailure = now

		if state.state == "half-open" {
			state.state = "open"
			m.log.Warn("circuit reopened", "message_type", msgType)
		} else if m.failureThreshold > 0 && state.failures >= m.failureThreshold {
			state.state = "open"
			m.log.Warn("circuit opened", "message_type", msgType, "failures", state.failures)
		}
	} else if state.state == "half-open" {
		state.state = "closed"
		state.failures = 0
		m.log.Info("circuit closed", "message_type", msgType)
	} else {
		state.failures = 0
	}

	return result, nil
}

// GetStates returns the current circuit state per message type.
func (m *CircuitBreakerMiddleware) GetStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.states))
	for k, v := range m.states {
		out[k] = v.state
	}
	return out
}

// Reset clears state for msgType, or every message type when msgType is nil.
func (m *CircuitBreakerMiddleware) Reset(msgType *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msgType != nil {
		delete(m.states, *msgType)
		return
	}
	m.states = make(map[string]*circuitState)
}

var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)
