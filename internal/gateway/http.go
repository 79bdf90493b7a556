package gateway

import (
	"errors"
	"net/http"

	"github.com/squidbot/squidbot/internal/observability"
)

// startMetricsServer exposes /metrics and /healthz on addr. The
// listener goroutine exits when Stop shuts the server down.
func (s *Server) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	s.logger.Info("metrics server listening", "addr", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}
