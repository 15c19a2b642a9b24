// Package kernelid provides strongly-typed opaque identifiers for the kernel.
//
// Each id type wraps an immutable string so that mixing a ProcessId with an
// EnvelopeId, say, is a compile-time error rather than a silent bug. IDs are
// copy-cheap value types carrying no ownership (spec 3.8).
package kernelid

import "github.com/google/uuid"

// ProcessId uniquely identifies one in-flight process for its lifetime.
type ProcessId string

// UserId is a stable tenant identifier; drives rate limiting and usage grouping.
type UserId string

// SessionId groups related processes (e.g. one conversation).
type SessionId string

// RequestId is an externally assigned per-request correlator.
type RequestId string

// EnvelopeId identifies the mutable envelope carried through a pipeline.
type EnvelopeId string

// InterruptId uniquely identifies one structured interrupt.
type InterruptId string

// NewProcessId mints a fresh random ProcessId.
func NewProcessId() ProcessId { return ProcessId(uuid.NewString()) }

// NewEnvelopeId mints a fresh random EnvelopeId.
func NewEnvelopeId() EnvelopeId { return EnvelopeId(uuid.NewString()) }

// NewInterruptId mints a fresh random InterruptId.
func NewInterruptId() InterruptId { return InterruptId(uuid.NewString()) }

// NewSessionId mints a fresh random SessionId.
func NewSessionId() SessionId { return SessionId(uuid.NewString()) }

// NewRequestId mints a fresh random RequestId.
func NewRequestId() RequestId { return RequestId(uuid.NewString()) }

// Valid reports whether the id is non-empty. IDs are never reused, but the
// kernel does not forbid caller-supplied ids (CreateProcess may be given one),
// so the only universal invariant we can check here is non-emptiness.
func (p ProcessId) Valid() bool   { return p != "" }
func (u UserId) Valid() bool      { return u != "" }
func (s SessionId) Valid() bool   { return s != "" }
func (r RequestId) Valid() bool   { return r != "" }
func (e EnvelopeId) Valid() bool  { return e != "" }
func (i InterruptId) Valid() bool { return i != "" }

func (p ProcessId) String() string   { return string(p) }
func (u UserId) String() string      { return string(u) }
func (s SessionId) String() string   { return string(s) }
func (r RequestId) String() string   { return string(r) }
func (e EnvelopeId) String() string  { return string(e) }
func (i InterruptId) String() string { return string(i) }
