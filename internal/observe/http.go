package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hongjun500/neurostream/pkg/logger"
)

// Routes lists the optional pieces of the observe surface. Nil fields
// leave their path unrouted.
type Routes struct {
	// Clients returns a JSON-encodable snapshot for /clients.
	Clients func() any
	// Stats returns a JSON-encodable snapshot for /stats.
	Stats func() any
	// Monitor serves the websocket feed on /ws.
	Monitor http.Handler
}

// NewRouter serves /healthz and /metrics plus whatever routes are set.
func NewRouter(routes Routes) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "ok")
	})
	r.Handle("/metrics", promhttp.Handler())
	if routes.Clients != nil {
		r.Get("/clients", snapshotHandler(routes.Clients))
	}
	if routes.Stats != nil {
		r.Get("/stats", snapshotHandler(routes.Stats))
	}
	if routes.Monitor != nil {
		r.Handle("/ws", routes.Monitor)
	}
	return r
}

func snapshotHandler(fn func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fn()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// StartHTTP serves handler on addr until ctx is done.
func StartHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.L().Sugar().Infow("observe_http_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
