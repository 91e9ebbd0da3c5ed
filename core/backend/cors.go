package backend

import (
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/relabs-tech/tenantkit/core/logger"
)

// handleCORS answers preflight requests of browser clients. Without configured origins,
// every origin is allowed.
func (b *Backend) handleCORS(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	logger.Default().Debugln("  cors origins:", origins)
	b.router.Use(handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "If-None-Match", logger.RequestIDHeader}),
		handlers.ExposedHeaders([]string{"Etag", "X-Total-Count", logger.RequestIDHeader}),
		handlers.MaxAge(600),
		handlers.OptionStatusCode(http.StatusNoContent),
	))
}
