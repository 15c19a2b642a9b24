// Package ipc implements the kernel's IPC Boundary (spec 6.1): a
// length-prefixed binary framing over a stream transport, deliberately not
// gRPC/protobuf so the kernel has no code-generation or schema-compiler
// dependency at its outermost edge.
//
// Grounded on coreengine/grpc/server.go's net.Listen/goroutine-serve/
// graceful-shutdown shape, with the RPC layer itself replaced: instead of
// generated protobuf stubs, frames carry github.com/fxamacker/cbor/v2-coded
// payloads (the retrieved pack's other self-describing binary codec),
// dispatched to the same method names spec 6.2 names.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType is the 1-byte tag identifying a frame's purpose (spec 6.1).
type FrameType byte

const (
	FrameRequest     FrameType = 0x01
	FrameResponse    FrameType = 0x02
	FrameStreamChunk FrameType = 0x03
	FrameStreamEnd   FrameType = 0x04
	FrameError       FrameType = 0xFF
)

func (t FrameType) String() string {
	switch t {
	case FrameRequest:
		return "REQUEST"
	case FrameResponse:
		return "RESPONSE"
	case FrameStreamChunk:
		return "STREAM_CHUNK"
	case FrameStreamEnd:
		return "STREAM_END"
	case FrameError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// headerLen is the 4-byte length prefix plus the 1-byte type tag (spec 6.1).
const headerLen = 5

// Frame is one wire message: a type tag plus its encoded payload.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// ReadFrame reads one frame from r, rejecting payloads larger than
// maxFrameBytes with a *FrameTooLargeError (spec 6.1: "larger frames are rejected
// with ERROR and the connection is closed").
func ReadFrame(r io.Reader, maxFrameBytes uint32) (Frame, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[0:4])
	frameType := FrameType(header[4])

	if length > maxFrameBytes {
		return Frame{}, &FrameTooLargeError{Size: length, Max: maxFrameBytes}
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Type: frameType, Payload: payload}, nil
}

// WriteFrame writes f to w as a single length-prefixed frame.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > 0xFFFFFFFF {
		return &FrameTooLargeError{Size: uint32(len(f.Payload)), Max: 0xFFFFFFFF}
	}

	var header [headerLen]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(f.Payload)))
	header[4] = byte(f.Type)

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}
