package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/assets"
	"github.com/relabs-tech/tenantkit/core/csql"
	"github.com/relabs-tech/tenantkit/core/logger"
	"github.com/relabs-tech/tenantkit/core/schema"
)

// prepared is a validated resource ready to be stored
type prepared struct {
	// id is zero for new resources
	id   int64
	data map[string]any
	meta schema.Meta
}

// prepare validates resources and binds the uploads of payload. ids holds the ids of the
// resources for updates, nil for creates.
func (b *Backend) prepare(rr *resourceRequest, tx csql.Queryer, resources []map[string]any, payload *assets.Payload, ids []int64) ([]prepared, []assets.Asset, error) {
	errs, err := rr.effective.Validate(resources, payload.Array)
	if err != nil {
		return nil, nil, err
	}

	result := make([]prepared, len(resources))
	datas := make([]map[string]any, len(resources))
	for i, resource := range resources {
		var path []any
		if payload.Array {
			path = []any{i}
		}
		data, meta, splitErrs := schema.Split(resource, path, rr.now)
		errs = append(errs, splitErrs...)
		result[i] = prepared{data: data, meta: meta}
		if ids != nil {
			result[i].id = ids[i]
		}
		datas[i] = data
	}

	bound, refs, bindErrs := assets.Bind(rr.effective, datas, payload.Uploads, payload.Array)
	errs = append(errs, bindErrs...)

	owners := make([]int64, len(result))
	for i := range result {
		owners[i] = result[i].id
	}
	assetErrs, err := b.checkAssetReferences(rr.ctx, tx, rr.app.ID, rr.typ, refs, owners)
	if err != nil {
		return nil, nil, err
	}
	errs = append(errs, assetErrs...)

	referenceErrs, err := b.checkReferences(rr, tx, datas, payload.Array)
	if err != nil {
		return nil, nil, err
	}
	errs = append(errs, referenceErrs...)

	if len(errs) > 0 {
		return nil, nil, schema.ValidationFailed(rr.typ, errs)
	}
	return result, bound, nil
}

// checkReferences verifies that reference properties hold ids of existing resources of
// the referenced type, or null
func (b *Backend) checkReferences(rr *resourceRequest, tx csql.Queryer, datas []map[string]any, array bool) ([]schema.ValidationError, error) {
	properties := sortedKeys(rr.rd.References)
	var errs []schema.ValidationError
	for _, property := range properties {
		target := rr.rd.References[property].Resource
		var wanted []int64
		for _, data := range datas {
			if id, ok := referenceID(data[property]); ok {
				wanted = append(wanted, id)
			}
		}
		existing := map[int64]bool{}
		if len(wanted) > 0 {
			if err := b.existingResources(rr, tx, target, wanted, existing); err != nil {
				return nil, err
			}
		}
		for i, data := range datas {
			value := data[property]
			if value == nil {
				continue
			}
			path := []any{property}
			if array {
				path = []any{i, property}
			}
			id, ok := referenceID(value)
			switch {
			case !ok:
				errs = append(errs, schema.NewValidationError(path, "reference",
					fmt.Sprintf("must be the id of a resource of type %s", target), value, target))
			case !existing[id]:
				errs = append(errs, schema.NewValidationError(path, "reference",
					fmt.Sprintf("references a resource of type %s which does not exist", target), value, target))
			}
		}
	}
	return errs, nil
}

// existingResources adds the ids of the visible resources of type target to existing
func (b *Backend) existingResources(rr *resourceRequest, tx csql.Queryer, target string, ids []int64, existing map[int64]bool) error {
	rows, err := tx.QueryContext(rr.ctx, `SELECT id FROM `+b.db.Table("resource")+`
WHERE app_id = $1 AND type = $2 AND id = ANY($3) AND NOT seed AND (expires IS NULL OR expires > $4);`,
		rr.app.ID, target, pq.Array(ids), rr.now)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		existing[id] = true
	}
	return rows.Err()
}

// referenceID returns the id held by a reference value. Only integral numbers are ids.
func referenceID(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), v == float64(int64(v))
	case int64:
		return v, true
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	}
	return 0, false
}

func (b *Backend) create(w http.ResponseWriter, r *http.Request) error {
	rr, err := b.resolve(r)
	if err != nil {
		return err
	}
	if _, err := rr.authorize(core.ActionCreate); err != nil {
		return err
	}
	payload, err := assets.Decode(r, rr.effective)
	if err != nil {
		return err
	}
	if len(payload.Resources) == 0 {
		return apierror.ErrEmptyPayload
	}

	var (
		rows     []*resourceRow
		uploaded []string
	)
	err = b.db.WithTx(rr.ctx, func(tx *sql.Tx) error {
		items, bound, err := b.prepare(rr, tx, payload.Resources, payload, nil)
		if err != nil {
			return err
		}
		seed := false
		if rr.app.DemoMode {
			if seed, err = b.needsSeed(rr, tx); err != nil {
				return err
			}
		}

		ids := make([]int64, len(items))
		owners := make([]int64, len(items))
		for i, item := range items {
			if !item.meta.ExpiresSet && rr.rd.Expires != "" {
				expires, err := schema.ResolveExpires(rr.rd.Expires, rr.now)
				if err != nil {
					return apierror.Internal("Error 4720", err)
				}
				item.meta.Expires = &expires
			}
			if ids[i], err = b.insert(rr, tx, item, rr.app.DemoMode, false); err != nil {
				return err
			}
			owners[i] = ids[i]
			if seed && i == 0 {
				// the first resource of a demo app is kept as seed, which owns the assets
				if owners[i], err = b.insert(rr, tx, item, false, true); err != nil {
					return err
				}
			}
		}
		if uploaded, err = b.storeAssets(rr.ctx, tx, rr.app.ID, bound, owners); err != nil {
			return err
		}
		rows, err = b.selectByIDs(rr.ctx, tx, rr, nil, ids, false)
		return err
	})
	if err != nil {
		b.removeContent(rr.ctx, uploaded)
		return writeError(rr.ctx, "Error 4721", "cannot create resources", err)
	}

	b.notify(rr, core.ActionCreate, rows)
	if payload.Array {
		response := make([]map[string]any, len(rows))
		for i, row := range rows {
			response[i] = row.object()
		}
		writeJSON(w, r, http.StatusCreated, response)
		return nil
	}
	writeJSON(w, r, http.StatusCreated, rows[0].object())
	return nil
}

// needsSeed returns true if a demo app has no seed of the resource type yet
func (b *Backend) needsSeed(rr *resourceRequest, tx csql.Queryer) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(rr.ctx, `SELECT EXISTS(SELECT 1 FROM `+b.db.Table("resource")+`
WHERE app_id = $1 AND type = $2 AND seed);`, rr.app.ID, rr.typ).Scan(&exists)
	return !exists, err
}

func (b *Backend) insert(rr *resourceRequest, tx csql.Queryer, item prepared, ephemeral, seed bool) (int64, error) {
	data, err := json.Marshal(item.data)
	if err != nil {
		return 0, err
	}
	clonable := item.meta.Clonable != nil && *item.meta.Clonable
	var id int64
	err = tx.QueryRowContext(rr.ctx, `INSERT INTO `+b.db.Table("resource")+`
(app_id, type, data, author_id, created, updated, expires, clonable, seed, ephemeral)
VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8, $9) RETURNING id;`,
		rr.app.ID, rr.typ, string(data), nullUUID(rr.subject.MemberID()), rr.now, item.meta.Expires, clonable, seed, ephemeral).Scan(&id)
	return id, err
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

type updateMode int

const (
	updateOne updateMode = iota
	updateMany
	updatePatch
)

func (b *Backend) updateOne(w http.ResponseWriter, r *http.Request) error {
	return b.update(w, r, updateOne)
}

func (b *Backend) updateMany(w http.ResponseWriter, r *http.Request) error {
	return b.update(w, r, updateMany)
}

func (b *Backend) patch(w http.ResponseWriter, r *http.Request) error {
	return b.update(w, r, updatePatch)
}

// update replaces or patches resources. Bulk updates need the id in every resource, and
// fail unless all resources exist and are visible to the caller.
func (b *Backend) update(w http.ResponseWriter, r *http.Request, mode updateMode) error {
	rr, err := b.resolve(r)
	if err != nil {
		return err
	}
	decision, err := rr.authorize(core.ActionUpdate)
	if err != nil {
		return err
	}
	payload, err := assets.Decode(r, rr.effective)
	if err != nil {
		return err
	}

	var ids []int64
	if mode == updateMany {
		if !payload.Array {
			return apierror.BadRequest("Expected an array of resources")
		}
		for _, resource := range payload.Resources {
			id, ok := referenceID(resource[schema.PropertyID])
			if !ok {
				return apierror.ErrMissingID
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return apierror.ErrEmptyPayload
		}
	} else {
		if payload.Array {
			return apierror.BadRequest("Expected a single resource")
		}
		id, err := resourceID(r)
		if err != nil {
			return err
		}
		ids = []int64{id}
	}

	var (
		rows     []*resourceRow
		removed  []string
		uploaded []string
	)
	err = b.db.WithTx(rr.ctx, func(tx *sql.Tx) error {
		existing, err := b.selectByIDs(rr.ctx, tx, rr, decision.Predicate, ids, true)
		if err != nil {
			return err
		}
		byID := make(map[int64]*resourceRow, len(existing))
		for _, row := range existing {
			byID[row.ID] = row
		}
		for _, id := range ids {
			if byID[id] != nil {
				continue
			}
			if mode == updateMany {
				return apierror.ErrResourcesNotFound
			}
			return apierror.ErrResourceNotFound
		}

		resources := payload.Resources
		if mode == updatePatch {
			merged := maps.Clone(byID[ids[0]].Data)
			maps.Copy(merged, resources[0])
			resources = []map[string]any{merged}
		}
		items, bound, err := b.prepare(rr, tx, resources, payload, ids)
		if err != nil {
			return err
		}

		for _, item := range items {
			before := byID[item.id]
			if err := b.snapshot(rr, tx, before); err != nil {
				return err
			}
			if err := b.write(rr, tx, item); err != nil {
				return err
			}
			keys, err := b.deleteAssets(rr.ctx, tx, rr.app.ID, item.id, assets.Dereferenced(rr.effective, before.Data, item.data))
			if err != nil {
				return err
			}
			removed = append(removed, keys...)
		}
		if uploaded, err = b.storeAssets(rr.ctx, tx, rr.app.ID, bound, ids); err != nil {
			return err
		}
		// the caller must still see the updated resources, the predicate is not applied
		rows, err = b.selectByIDs(rr.ctx, tx, rr, nil, ids, false)
		return err
	})
	if err != nil {
		b.removeContent(rr.ctx, uploaded)
		return writeError(rr.ctx, "Error 4722", "cannot update resources", err)
	}
	b.removeContent(rr.ctx, removed)

	b.notify(rr, core.ActionUpdate, rows)
	if mode == updateMany {
		response := make([]map[string]any, len(rows))
		for i, row := range rows {
			response[i] = row.object()
		}
		writeJSON(w, r, http.StatusOK, response)
		return nil
	}
	if len(rows) == 0 {
		// the update made the resource expire
		return apierror.ErrResourceNotFound
	}
	writeJSON(w, r, http.StatusOK, rows[0].object())
	return nil
}

// snapshot stores the current state of row as version if the type keeps history
func (b *Backend) snapshot(rr *resourceRequest, tx csql.Queryer, row *resourceRow) error {
	if !rr.rd.HistoryEnabled() {
		return nil
	}
	var data any
	if rr.rd.History.Data {
		encoded, err := json.Marshal(row.Data)
		if err != nil {
			return err
		}
		data = string(encoded)
	}
	_, err := tx.ExecContext(rr.ctx, `INSERT INTO `+b.db.Table("resource_version")+`
(resource_id, app_member_id, created, data) VALUES ($1, $2, $3, $4);`,
		row.ID, nullUUID(rr.subject.MemberID()), rr.now, data)
	return err
}

func (b *Backend) write(rr *resourceRequest, tx csql.Queryer, item prepared) error {
	data, err := json.Marshal(item.data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(rr.ctx, `UPDATE `+b.db.Table("resource")+` SET
data = $1, editor_id = $2, updated = $3,
expires = CASE WHEN $4::boolean THEN $5::timestamptz ELSE expires END,
clonable = COALESCE($6::boolean, clonable)
WHERE id = $7;`,
		string(data), nullUUID(rr.subject.MemberID()), rr.now, item.meta.ExpiresSet, item.meta.Expires, item.meta.Clonable, item.id)
	return err
}

// writeError passes API errors through and logs everything else as internal error
func writeError(ctx context.Context, code, message string, err error) error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	logger.FromContext(ctx).WithError(err).Errorf("%s: %s", code, message)
	return apierror.Internal(code, err)
}

// notify hands the change to the notifier. The resources are already committed.
func (b *Backend) notify(rr *resourceRequest, action core.Action, rows []*resourceRow) {
	if len(rows) == 0 {
		return
	}
	event := core.Event{AppID: rr.app.ID, Type: rr.typ, Action: action}
	seen := map[uuid.UUID]bool{}
	for _, row := range rows {
		event.ResourceIDs = append(event.ResourceIDs, row.ID)
		if row.AuthorID.Valid && !seen[row.AuthorID.UUID] {
			seen[row.AuthorID.UUID] = true
			event.AuthorIDs = append(event.AuthorIDs, row.AuthorID.UUID)
		}
	}
	if ad := rr.rd.Action(action); ad != nil && ad.Hooks != nil && ad.Hooks.Notification != nil {
		hook := ad.Hooks.Notification
		event.Recipients = hook.To
		event.Subscribable = subscribable(hook, action)
	}
	b.notifier.Notify(rr.ctx, event)
}

func subscribable(hook *schema.NotificationHook, action core.Action) bool {
	return hook != nil && (hook.Subscribe == "all" || hook.Subscribe == string(action))
}
