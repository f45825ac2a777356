package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quic-go/quic-go/http3"
)

// HTTP3Server serves the same upload surface over HTTP/3. Optional: it only
// runs when the operator configures a QUIC address plus TLS material.
type HTTP3Server struct {
	srv    *http3.Server
	logger *slog.Logger
}

// NewHTTP3Server creates an HTTP/3 listener for handler on addr.
func NewHTTP3Server(addr string, handler http.Handler, logger *slog.Logger) *HTTP3Server {
	return &HTTP3Server{
		srv: &http3.Server{
			Addr:    addr,
			Handler: handler,
		},
		logger: logger,
	}
}

// ListenAndServe blocks serving QUIC until the server is closed.
func (h *HTTP3Server) ListenAndServe(certFile, keyFile string) error {
	h.logger.Info("http3 listener starting", "addr", h.srv.Addr)
	return h.srv.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown stops the listener.
func (h *HTTP3Server) Shutdown(ctx context.Context) error {
	_ = ctx
	return h.srv.Close()
}
