package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nodpt/workflow-engine/internal/api/middleware"
)

// NewRouter builds the operational HTTP router.
func NewRouter(ops *OpsHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", ops.Health)
	r.Get("/streams/{key}", ops.StreamInfo)
	r.Get("/nodes/{nodeID}/memory", ops.NodeMemory)
	r.Delete("/nodes/{nodeID}/memory", ops.ClearNodeMemory)

	return r
}
