package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HTTP serves /metrics and the /ws command endpoint
type HTTP struct {
	addr   string
	srv    *http.Server
	logger *zap.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewHTTP builds the HTTP listener. A nil ws omits the command endpoint.
func NewHTTP(addr string, gatherer prometheus.Gatherer, ws *WS, logger *zap.Logger) *HTTP {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 30 * time.Second,
	}
	if ws != nil {
		mux.Handle("/ws", ws)
		// Hijacked connections are not closed by Shutdown
		srv.RegisterOnShutdown(ws.CloseAll)
	}
	return &HTTP{
		addr:   addr,
		srv:    srv,
		logger: logger.Named("http"),
	}
}

// Handler returns the request multiplexer
func (h *HTTP) Handler() http.Handler {
	return h.srv.Handler
}

// Listen binds the listening socket
func (h *HTTP) Listen() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.ln = ln
	h.mu.Unlock()
	h.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, nil before Listen
func (h *HTTP) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

// Run listens (if not done yet) and serves until ctx ends
func (h *HTTP) Run(ctx context.Context) error {
	if h.Addr() == nil {
		if err := h.Listen(); err != nil {
			return err
		}
	}
	h.mu.Lock()
	ln := h.ln
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("http shutdown error", zap.Error(err))
		}
	}()

	err := h.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		h.logger.Info("http server stopped")
		return nil
	}
	return err
}
