package backend

import (
	"net/http"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/logger"
)

// resourceStatistics represents information about the resources of one type
type resourceStatistics struct {
	Resource     string  `json:"resource"`
	Count        int64   `json:"count"`
	SizeMB       float64 `json:"size_mb"`
	AverageSizeB float64 `json:"average_size_b"`
	Assets       int64   `json:"assets"`
}

// statistics returns the stored resources per type of an app. It is restricted to callers
// who can manage the apps of the organization.
func (b *Backend) statistics(w http.ResponseWriter, r *http.Request) error {
	app, err := b.appFromRequest(r)
	if err != nil {
		return err
	}
	caller := core.CallerFromContext(r.Context())
	if caller.Anonymous() {
		return apierror.ErrNotLoggedIn
	}
	if !caller.CanManageApps(app.OrganizationID) {
		return apierror.ErrInsufficientRoles
	}

	// types are taken from the definition, so that unused types are reported with zero
	stats := map[string]*resourceStatistics{}
	for resourceType := range app.Definition.Resources {
		stats[resourceType] = &resourceStatistics{Resource: resourceType}
	}

	rows, err := b.db.QueryContext(r.Context(), `SELECT r.type, count(*), COALESCE(sum(pg_column_size(r.data)), 0),
(SELECT count(*) FROM `+b.db.Table("asset")+` a JOIN `+b.db.Table("resource")+` ar ON ar.id = a.resource_id
 WHERE ar.app_id = $1 AND ar.type = r.type)
FROM `+b.db.Table("resource")+` r WHERE r.app_id = $1 AND NOT r.seed GROUP BY r.type;`, app.ID)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4750: cannot read statistics")
		return apierror.Internal("Error 4750", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			resourceType string
			count, size  int64
			assets       int64
		)
		if err := rows.Scan(&resourceType, &count, &size, &assets); err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("Error 4751: Scan")
			return apierror.Internal("Error 4751", err)
		}
		s := stats[resourceType]
		if s == nil {
			s = &resourceStatistics{Resource: resourceType}
			stats[resourceType] = s
		}
		s.Count = count
		s.Assets = assets
		s.SizeMB = float64(size) / 1024. / 1024.
		if count != 0 {
			s.AverageSizeB = float64(size / count)
		}
	}
	if err := rows.Err(); err != nil {
		return apierror.Internal("Error 4751", err)
	}

	// sorted so that the Etag does not depend on map order
	response := []resourceStatistics{}
	for _, resourceType := range sortedKeys(stats) {
		response = append(response, *stats[resourceType])
	}
	writeJSON(w, r, http.StatusOK, response)
	return nil
}
