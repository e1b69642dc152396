package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/authz"
	"github.com/cloudx-io/escrowauction/engine"
)

const readTimeout = 30 * time.Second

// Server accepts one JSON request per connection and writes one JSON response.
type Server struct {
	engine     *engine.Engine
	verifier   *authz.Verifier
	logger     *zap.Logger
	maxWorkers int
}

func NewServer(e *engine.Engine, v *authz.Verifier, logger *zap.Logger, maxWorkers int) *Server {
	return &Server{engine: e, verifier: v, logger: logger, maxWorkers: maxWorkers}
}

func listen(cfg Config) (net.Listener, error) {
	if cfg.Network == "vsock" {
		ln, err := vsock.Listen(cfg.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create tcp listener: %w", err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is done. Connections beyond
// maxWorkers concurrent requests are closed immediately.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	semaphore := make(chan struct{}, s.maxWorkers)
	s.logger.Info("auctiond listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_workers", s.maxWorkers))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			s.logger.Error("failed to accept connection", zap.Error(err))
			continue
		}

		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			s.logger.Info("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.logger.Error("failed to close rejected connection", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered in handleConnection", zap.Any("panic", r))
		}
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close connection", zap.Error(err))
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		s.logger.Warn("failed to read request", zap.Error(err))
		return
	}

	response := s.Handle(ctx, raw)
	if err := json.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		return
	}
	s.logger.Debug("sent response", zap.String("type", response.Type), zap.Bool("success", response.Success))
}

// Handle decodes and serves a single request.
func (s *Server) Handle(ctx context.Context, data []byte) auctionapi.Response {
	start := time.Now()
	var req auctionapi.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return badRequest(fmt.Sprintf("Failed to decode request: %v", err))
	}
	s.logger.Debug("received request", zap.String("type", req.Type))

	var response auctionapi.Response
	switch req.Type {
	case auctionapi.RequestPing:
		response = auctionapi.Response{
			Type:    auctionapi.ResponsePong,
			Success: true,
			Message: "auctiond is healthy",
		}
	case auctionapi.RequestOperation:
		response = s.handleOperation(ctx, req.SignedOperation)
	case auctionapi.RequestAuctionQuery:
		response = s.handleQuery(ctx, req.AuctionID)
	default:
		response = badRequest(fmt.Sprintf("Unknown request type: %s", req.Type))
	}
	response.ProcessingTime = time.Since(start).Milliseconds()
	return response
}

func badRequest(msg string) auctionapi.Response {
	return auctionapi.Response{
		Type:      auctionapi.ResponseError,
		Success:   false,
		Message:   msg,
		ErrorCode: auctionapi.CodeBadRequest,
	}
}
