package rest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/abcfe/abcfe-wallet/api"
	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/keyring"
)

// Server is the background HTTP endpoint: UI channels over websocket plus
// the status and dapp routes.
type Server struct {
	port        int
	channelName string
	httpServer  *http.Server
	listener    net.Listener

	keyring *keyring.Keyring
	hub     *api.Hub
	dapp    *api.Dapp
	backend *api.Backend

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer API 서버 인스턴스 생성
func NewServer(port int, channelName string, kr *keyring.Keyring, hub *api.Hub, dapp *api.Dapp, backend *api.Backend) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		port:        port,
		channelName: channelName,
		keyring:     kr,
		hub:         hub,
		dapp:        dapp,
		backend:     backend,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Handler returns the router, for embedding in tests.
func (s *Server) Handler() http.Handler {
	return setupRouter(s)
}

// Start API 서버 시작
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      setupRouter(s),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("Background server listening on ", addr)
	logger.Info("UI channel available at ws://", addr, "/port/", s.channelName)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Background server error: ", err)
		}
	}()

	return nil
}

// Stop API 서버 종료
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("Shutting down background server...")
	s.cancel()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Context is cancelled when the server stops; channel loops run under it.
func (s *Server) Context() context.Context {
	return s.ctx
}
