package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jeeves-cluster-organization/agentkernel/internal/config"
	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
	"github.com/jeeves-cluster-organization/agentkernel/internal/recovery"
)

// Server is the IPC Boundary's TCP listener: it accepts connections up to
// ipc.max_connections (admission-controlled via a weighted semaphore),
// frames requests/responses per spec 6.1, and dispatches each Request to a
// Dispatcher.
//
// Grounded on coreengine/grpc/server.go's GracefulServer: net.Listen,
// goroutine-per-Serve, ctx-driven graceful shutdown. Unlike the teacher, the
// connection-admission cap is explicit (the teacher relies on gRPC's own
// internal connection handling) via golang.org/x/sync/semaphore.Weighted,
// the retrieved pack's concurrency-limiting primitive.
type Server struct {
	cfg        config.IPCConfig
	dispatcher *Dispatcher
	log        klog.Logger

	sem        *semaphore.Weighted
	maxConn    int

	listener   net.Listener
	shutdownMu sync.Mutex
	isShutdown bool
	wg         sync.WaitGroup
}

// NewServer constructs a Server bound to address on Start.
func NewServer(cfg config.IPCConfig, dispatcher *Dispatcher, log klog.Logger) *Server {
	if log == nil {
		log = klog.NewNop()
	}
	maxConn := cfg.MaxConnections
	if maxConn <= 0 {
		maxConn = config.DefaultIPCConfig().MaxConnections
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        log,
		sem:        semaphore.NewWeighted(int64(maxConn)),
		maxConn:    maxConn,
	}
}

// Start binds the listener and serves until ctx is cancelled or a fatal
// accept error occurs.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("ipc: failed to listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = lis
	s.log.Info("ipc_server_started", "address", s.cfg.Address, "max_connections", s.maxConn)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.acceptLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("ipc_graceful_shutdown_initiated", "reason", ctx.Err().Error())
		s.Stop()
		s.wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isShuttingDown() {
				return nil
			}
			return fmt.Errorf("ipc: accept failed: %w", err)
		}

		if !s.sem.TryAcquire(1) {
			s.log.Warn("ipc_connection_rejected", "reason", "at_capacity")
			_ = WriteFrame(conn, Frame{Type: FrameError, Payload: mustEncode(&ErrorPayload{
				Code:    "resource_exhausted",
				Message: (&ConnectionAdmissionError{MaxConnections: s.maxConn}).Error(),
			})})
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		recovery.SafeGo(s.log, "ipc_connection", func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.handleConn(ctx, conn)
		}, func(r any) {
			s.log.Error("ipc_connection_panic", "panic", r)
		})
	}
}

// Stop closes the listener, preventing new connections; in-flight
// connections drain naturally as their next read fails.
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *Server) isShuttingDown() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.isShutdown
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	maxFrameBytes := s.cfg.MaxFrameBytes
	if maxFrameBytes == 0 {
		maxFrameBytes = config.DefaultIPCConfig().MaxFrameBytes
	}
	ioTimeout := s.cfg.IOTimeout
	if ioTimeout <= 0 {
		ioTimeout = config.DefaultIPCConfig().IOTimeout
	}

	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))

		frame, err := ReadFrame(conn, maxFrameBytes)
		if err != nil {
			var tooLarge *FrameTooLargeError
			if errors.As(err, &tooLarge) {
				_ = WriteFrame(conn, Frame{Type: FrameError, Payload: mustEncode(&ErrorPayload{Code: "invalid_argument", Message: err.Error()})})
			}
			if !errors.Is(err, io.EOF) {
				s.log.Debug("ipc_connection_closed", "error", err.Error())
			}
			return
		}

		if frame.Type != FrameRequest {
			_ = WriteFrame(conn, Frame{Type: FrameError, Payload: mustEncode(&ErrorPayload{
				Code: "invalid_argument", Message: (&UnknownFrameTypeError{Type: frame.Type}).Error(),
			})})
			continue
		}

		var req Request
		if err := DecodePayload(frame.Payload, &req); err != nil {
			_ = WriteFrame(conn, Frame{Type: FrameError, Payload: mustEncode(&ErrorPayload{Code: "invalid_argument", Message: err.Error()})})
			continue
		}

		if req.Method == "SubscribeEvents" {
			s.handleSubscribeEvents(ctx, conn, req, ioTimeout)
			return
		}

		resp := s.dispatcher.Dispatch(ctx, req)
		payload, err := EncodePayload(resp)
		if err != nil {
			s.log.Error("ipc_response_encode_failed", "error", err.Error())
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
		if err := WriteFrame(conn, Frame{Type: FrameResponse, Payload: payload}); err != nil {
			s.log.Debug("ipc_write_failed", "error", err.Error())
			return
		}
	}
}

// handleSubscribeEvents services CommBusService.SubscribeEvents (spec 6.2),
// the one request/stream method: it subscribes to the requested topic and
// pushes STREAM_CHUNK frames until the server shuts down or the client
// disconnects, then sends STREAM_END. The connection is dedicated to the
// stream for the remainder of its life, mirroring server-streaming gRPC.
func (s *Server) handleSubscribeEvents(ctx context.Context, conn net.Conn, req Request, ioTimeout time.Duration) {
	p := newParams(req.Params)
	topic := p.str("topic")
	if topic == "" {
		_ = WriteFrame(conn, Frame{Type: FrameError, Payload: mustEncode(&ErrorPayload{
			Code: "invalid_argument", Message: "SubscribeEvents requires a topic",
		})})
		return
	}
	if s.dispatcher.Bus == nil {
		_ = WriteFrame(conn, Frame{Type: FrameError, Payload: mustEncode(&ErrorPayload{
			Code: "internal", Message: "message bus not configured",
		})})
		return
	}

	events, unsubscribe := s.dispatcher.StreamEvents(topic)
	defer unsubscribe()

	s.log.Debug("ipc_subscribe_started", "topic", topic)
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
			_ = WriteFrame(conn, Frame{Type: FrameStreamEnd})
			s.log.Debug("ipc_subscribe_ended", "topic", topic, "reason", ctx.Err().Error())
			return
		case event := <-events:
			payload, err := EncodePayload(event)
			if err != nil {
				s.log.Error("ipc_stream_encode_failed", "topic", topic, "error", err.Error())
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
			if err := WriteFrame(conn, Frame{Type: FrameStreamChunk, Payload: payload}); err != nil {
				s.log.Debug("ipc_stream_write_failed", "topic", topic, "error", err.Error())
				return
			}
		}
	}
}

func mustEncode(v any) []byte {
	b, err := EncodePayload(v)
	if err != nil {
		return nil
	}
	return b
}
