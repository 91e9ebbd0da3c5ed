package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"go.uber.org/multierr"

	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/assets"
	"github.com/relabs-tech/tenantkit/core/csql"
	"github.com/relabs-tech/tenantkit/core/logger"
	"github.com/relabs-tech/tenantkit/core/schema"
)

// storeAssets stores new assets bound to the resources with ids. Content goes to the
// asset driver if there is one, and to the asset table otherwise. It returns the keys of
// the uploaded content, also on error. The caller removes them if the transaction fails.
func (b *Backend) storeAssets(ctx context.Context, tx csql.Queryer, appID int64, bound []assets.Asset, ids []int64) ([]string, error) {
	var uploaded []string
	for _, a := range bound {
		var data []byte
		if b.driver == nil {
			data = a.Upload.Data
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO `+b.db.Table("asset")+` (id, app_id, resource_id, mime, filename, data)
VALUES ($1, $2, $3, $4, $5, $6);`, a.ID, appID, ids[a.Resource], a.Upload.Mime, a.Upload.Filename, data)
		if err != nil {
			return uploaded, err
		}
		if b.driver != nil {
			key := assets.Key(appID, a.ID)
			if err := b.driver.Upload(ctx, key, a.Upload.Mime, a.Upload.Data); err != nil {
				return uploaded, err
			}
			uploaded = append(uploaded, key)
		}
	}
	return uploaded, nil
}

// checkAssetReferences verifies that references to existing assets point to assets of the
// app which are unbound or bound to the referencing resource. Assets of a demo seed are
// shared with the ephemeral resources of its type. ids holds the ids of the referencing
// resources, zero for new resources.
func (b *Backend) checkAssetReferences(ctx context.Context, tx csql.Queryer, appID int64, resourceType string, refs []assets.Reference, ids []int64) ([]schema.ValidationError, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	assetIDs := make([]string, len(refs))
	for i, ref := range refs {
		assetIDs[i] = ref.ID
	}
	rows, err := tx.QueryContext(ctx, `SELECT a.id, COALESCE(a.resource_id, 0), COALESCE(r.seed AND r.type = $3, false)
FROM `+b.db.Table("asset")+` a LEFT JOIN `+b.db.Table("resource")+` r ON r.id = a.resource_id
WHERE a.app_id = $1 AND a.id = ANY($2);`, appID, pq.Array(assetIDs), resourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	owners := map[string]int64{}
	for rows.Next() {
		var (
			id     string
			owner  int64
			shared bool
		)
		if err := rows.Scan(&id, &owner, &shared); err != nil {
			return nil, err
		}
		if shared {
			owner = 0
		}
		owners[id] = owner
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var errs []schema.ValidationError
	for _, ref := range refs {
		owner, ok := owners[ref.ID]
		if !ok || (owner != 0 && owner != ids[ref.Resource]) {
			errs = append(errs, assets.MissingAsset(ref))
		}
	}
	return errs, nil
}

// deleteAssets deletes the assets of a resource which are no longer referenced and
// returns the keys of their external content
func (b *Backend) deleteAssets(ctx context.Context, tx csql.Queryer, appID, resourceID int64, assetIDs []string) ([]string, error) {
	if len(assetIDs) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `DELETE FROM `+b.db.Table("asset")+`
WHERE app_id = $1 AND resource_id = $2 AND id = ANY($3) RETURNING id;`, appID, resourceID, pq.Array(assetIDs))
	if err != nil {
		return nil, err
	}
	return b.assetKeys(appID, rows)
}

// assetKeysOfResources returns the keys of the external content of all assets bound to
// the resources. The rows themselves are removed by the database together with the
// resources.
func (b *Backend) assetKeysOfResources(ctx context.Context, tx csql.Queryer, appID int64, resourceIDs []int64) ([]string, error) {
	if b.driver == nil || len(resourceIDs) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM `+b.db.Table("asset")+`
WHERE app_id = $1 AND resource_id = ANY($2);`, appID, pq.Array(resourceIDs))
	if err != nil {
		return nil, err
	}
	return b.assetKeys(appID, rows)
}

type idRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func (b *Backend) assetKeys(appID int64, rows idRows) ([]string, error) {
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if b.driver != nil {
			keys = append(keys, assets.Key(appID, id))
		}
	}
	return keys, rows.Err()
}

// removeContent deletes external asset content after the transaction was committed.
// Failures are logged only, the database no longer references the content.
func (b *Backend) removeContent(ctx context.Context, keys []string) {
	if b.driver == nil || len(keys) == 0 {
		return
	}
	var err error
	for _, key := range keys {
		err = multierr.Append(err, b.driver.Delete(ctx, key))
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4730: cannot delete %d asset(s)", len(multierr.Errors(err)))
	}
}

func (b *Backend) asset(w http.ResponseWriter, r *http.Request) error {
	app, err := b.appFromRequest(r)
	if err != nil {
		return err
	}
	ctx := r.Context()
	assetID := mux.Vars(r)["assetId"]

	var (
		mime, filename string
		data           []byte
	)
	err = b.db.QueryRowContext(ctx, `SELECT mime, filename, data FROM `+b.db.Table("asset")+`
WHERE app_id = $1 AND id = $2;`, app.ID, assetID).Scan(&mime, &filename, &data)
	if err == csql.ErrNoRows {
		return apierror.ErrAssetNotFound
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4731: cannot read asset %s", assetID)
		return apierror.Internal("Error 4731", err)
	}
	if b.driver != nil {
		data, err = b.driver.Download(ctx, assets.Key(app.ID, assetID))
		if errors.Is(err, assets.ErrNotExist) {
			return apierror.ErrAssetNotFound
		}
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 4732: cannot download asset %s", assetID)
			return apierror.Internal("Error 4732", err)
		}
	}

	etag := bytesToEtag(data)
	w.Header().Set("Etag", etag)
	w.Header().Set("Cache-Control", "private, max-age=0")
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}
	w.Header().Set("Content-Type", mime)
	if filename != "" {
		w.Header().Set("Content-Disposition", "inline; filename*=UTF-8''"+url.PathEscape(filename))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	return nil
}
