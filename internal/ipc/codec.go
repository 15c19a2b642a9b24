package ipc

import "github.com/fxamacker/cbor/v2"

// Request is a FrameRequest's decoded payload: a method name (spec 6.2's
// "KernelService.CreateProcess"-style surface, flattened to a bare method
// name since the kernel exposes one dispatch table, not four distinct wire
// services) plus schema-agnostic named parameters.
type Request struct {
	Method string         `cbor:"method"`
	Params map[string]any `cbor:"params"`
}

// ErrorPayload is the structured body of a FrameError (spec 7: "errors are
// encoded as structured codes plus a human-readable message").
type ErrorPayload struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

// Response is a FrameResponse's decoded payload.
type Response struct {
	OK     bool          `cbor:"ok"`
	Result any           `cbor:"result,omitempty"`
	Error  *ErrorPayload `cbor:"error,omitempty"`
}

// EncodePayload serializes v with the wire codec (spec 6.1: "self-describing
// compact binary format with schema-agnostic maps, arrays, integers,
// strings, booleans, and nulls" — CBOR satisfies this directly).
func EncodePayload(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// DecodePayload deserializes data into v. Unknown fields are ignored per
// spec 6.1's decode tolerance, which is CBOR's default decode behavior.
func DecodePayload(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
