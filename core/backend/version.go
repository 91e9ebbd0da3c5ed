package backend

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/tenantkit/core/logger"
)

var (
	// Version is the version of the current build, set by the linker
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("  handle version route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"version": Version})
	}).Methods(http.MethodOptions, http.MethodGet)
}
