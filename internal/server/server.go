package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrPortInUse = errors.New("address already in use")

func NewHTTPServer(handler http.Handler, tlsConfig *tls.Config) *http.Server {
	return &http.Server{
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Server runs the gateway over TLS on a fixed loopback address. Start and
// Stop are idempotent.
type Server struct {
	addr    string
	handler http.Handler
	cert    tls.Certificate
	log     *zap.Logger
	// onStop runs when the server shuts down, before in-flight requests drain.
	onStop func()

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

func New(addr string, handler http.Handler, cert tls.Certificate, onStop func(), log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{addr: addr, handler: handler, cert: cert, onStop: onStop, log: log.Named("server")}
}

// Start binds the listener and serves in the background. The server stops
// when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		if isAddrInUse(err) {
			host, port, _ := net.SplitHostPort(s.addr)
			s.log.Error(fmt.Sprintf("port %s is already in use on %s", port, host))
			return fmt.Errorf("%w: %s", ErrPortInUse, s.addr)
		}
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{s.cert},
		NextProtos:   []string{"http/1.1"},
	}
	srv := NewHTTPServer(s.handler, tlsConfig)
	if s.onStop != nil {
		srv.RegisterOnShutdown(s.onStop)
	}
	done := make(chan struct{})

	s.srv, s.ln, s.done = srv, ln, done
	go func() {
		defer close(done)
		if err := srv.Serve(tls.NewListener(ln, tlsConfig)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve", zap.Error(err))
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.Stop(shutdownCtx)
		case <-done:
		}
	}()

	s.log.Info("listening on https://" + ln.Addr().String())
	return nil
}

// Stop shuts the server down and waits for the serve loop to exit.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.ln, s.done = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	<-done
	s.log.Info("closed")
	return err
}

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Addr is the bound address while running, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
