// Package bus implements the Message Bus subsystem (spec 4.6): events
// (pub/sub, concurrent fan-out, best-effort delivery), commands (single
// handler, fire-and-forget) and queries (single handler, context-timeout
// request/response).
//
// Grounded on commbus/protocols.go's Message/Query/Handler/Middleware/
// CommBus interfaces and commbus/bus.go's InMemoryCommBus, adapted nearly
// verbatim with commbus's standalone BusLogger replaced by this module's
// klog.Logger so every subsystem shares one logging facade.
package bus

import "context"

// Message is any value that can cross the bus; its message type is the
// payload's own type name (spec 4.6).
type Message any

// Query is a Message expected to produce a response via QuerySync.
type Query any

// HandlerFunc processes one message/query and optionally returns a result.
type HandlerFunc func(ctx context.Context, msg Message) (any, error)

// Middleware wraps every Publish/Send/QuerySync call.
type Middleware interface {
	// Before runs before dispatch; returning nil message aborts delivery.
	Before(ctx context.Context, msg Message) (Message, error)
	// After runs after dispatch (even on error), in reverse registration order.
	After(ctx context.Context, msg Message, result any, err error) (any, error)
}

// CommBus is the contract every subsystem depends on for pub/sub, commands,
// and queries (spec 4.6).
type CommBus interface {
	Publish(ctx context.Context, event Message) error
	Send(ctx context.Context, command Message) error
	QuerySync(ctx context.Context, query Query) (any, error)

	Subscribe(eventType string, handler HandlerFunc) func()
	RegisterHandler(messageType string, handler HandlerFunc) error
	AddMiddleware(mw Middleware)

	HasHandler(messageType string) bool
	GetSubscribers(eventType string) []HandlerFunc
	GetRegisteredTypes() []string
	Clear()
}

// TypedMessage lets a message self-report its own type name for routing,
// rather than relying on Go's reflect.TypeOf (spec 4.6's message-type
// registry is a plain string keyspace, e.g. "AgentStarted").
type TypedMessage interface {
	MessageType() string
}

// GetMessageType resolves the routing key for msg: msg's own MessageType()
// if it implements TypedMessage, else its Go type name via reflection.
func GetMessageType(msg Message) string {
	if tm, ok := msg.(TypedMessage); ok {
		return tm.MessageType()
	}
	return typeName(msg)
}
