package backend

import (
	"bytes"
	"database/sql"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/csql"
	"github.com/relabs-tech/tenantkit/core/metrics"
	"github.com/relabs-tech/tenantkit/core/query"
	"github.com/relabs-tech/tenantkit/core/schema"
)

// deletion is the set of resources of one type removed by a delete request
type deletion struct {
	typ     string
	ids     []int64
	authors []uuid.UUID
}

func (b *Backend) deleteOne(w http.ResponseWriter, r *http.Request) error {
	rr, err := b.resolve(r)
	if err != nil {
		return err
	}
	decision, err := rr.authorize(core.ActionDelete)
	if err != nil {
		return err
	}
	id, err := resourceID(r)
	if err != nil {
		return err
	}
	deletions, err := b.delete(rr, decision.Predicate, []int64{id}, true)
	if err != nil {
		return err
	}
	b.notifyDeletions(rr, deletions)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// deleteMany deletes the visible resources with the ids passed in the query parameter
// ids. Resources which do not exist are ignored.
func (b *Backend) deleteMany(w http.ResponseWriter, r *http.Request) error {
	rr, err := b.resolve(r)
	if err != nil {
		return err
	}
	decision, err := rr.authorize(core.ActionDelete)
	if err != nil {
		return err
	}
	ids, err := deleteIDs(r)
	if err != nil {
		return err
	}
	deletions, err := b.delete(rr, decision.Predicate, ids, false)
	if err != nil {
		return err
	}
	b.notifyDeletions(rr, deletions)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// deleteIDs reads the ids of a bulk delete, either a JSON array in the body or the
// comma separated query parameter "ids"
func deleteIDs(r *http.Request) ([]int64, error) {
	var ids []int64
	if r.Body != nil && r.ContentLength != 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, apierror.BadRequest("Cannot read body")
		}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &ids); err != nil {
				return nil, apierror.BadRequest("Body must be an array of resource ids")
			}
		}
	}
	for _, value := range r.URL.Query()["ids"] {
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, apierror.BadRequest("Invalid resource id %s", s)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, apierror.BadRequest("Missing resource ids")
	}
	return ids, nil
}

// delete removes the resources and follows the references pointing at them. Referencing
// resources block the deletion, are updated or deleted themselves, depending on the
// cascade rule of the reference. All changes happen in one transaction.
func (b *Backend) delete(rr *resourceRequest, predicate query.Node, ids []int64, strict bool) ([]deletion, error) {
	var (
		deletions []deletion
		keys      []string
	)
	err := b.db.WithTx(rr.ctx, func(tx *sql.Tx) error {
		rows, err := b.selectByIDs(rr.ctx, tx, rr, predicate, ids, true)
		if err != nil {
			return err
		}
		if strict && len(rows) != len(ids) {
			return apierror.ErrResourceNotFound
		}
		if len(rows) == 0 {
			return nil
		}
		first := deletion{typ: rr.typ}
		for _, row := range rows {
			first.ids = append(first.ids, row.ID)
		}

		scheduled := map[string]map[int64]bool{rr.typ: toSet(first.ids)}
		queue := []deletion{first}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			referencers := schema.References(rr.app.Definition, current.typ)
			for _, referencer := range sortedKeys(referencers) {
				properties := referencers[referencer]
				for _, property := range sortedKeys(properties) {
					found, target, err := b.referencing(rr, tx, referencer, property, current.ids, scheduled[referencer])
					if err != nil {
						return err
					}
					if len(found) == 0 {
						continue
					}
					switch properties[property].Cascade() {
					case schema.CascadeUpdate:
						if err := b.clearReference(rr, tx, property, found); err != nil {
							return err
						}
						metrics.CascadedResources.WithLabelValues(schema.CascadeUpdate).Add(float64(len(found)))
					case schema.CascadeDelete:
						if scheduled[referencer] == nil {
							scheduled[referencer] = map[int64]bool{}
						}
						for _, id := range found {
							scheduled[referencer][id] = true
						}
						queue = append(queue, deletion{typ: referencer, ids: found})
						metrics.CascadedResources.WithLabelValues(schema.CascadeDelete).Add(float64(len(found)))
					default:
						return apierror.BadRequest("Cannot delete resource %d. There is a resource of type %s that references it.",
							target, referencer).WithData(map[string]any{"referencer": referencer, "id": found[0]})
					}
				}
			}

			removed, err := b.removeResources(rr, tx, current)
			if err != nil {
				return err
			}
			deletions = append(deletions, removed)
		}

		for _, d := range deletions {
			found, err := b.assetKeysOfResources(rr.ctx, tx, rr.app.ID, d.ids)
			if err != nil {
				return err
			}
			keys = append(keys, found...)
		}
		return b.purge(rr, tx, deletions)
	})
	if err != nil {
		return nil, writeError(rr.ctx, "Error 4723", "cannot delete resources", err)
	}
	b.removeContent(rr.ctx, keys)
	return deletions, nil
}

// referencing returns the ids of resources of type referencer whose property holds one of
// ids, excluding those already scheduled for deletion. target is the referenced id of the
// first one.
func (b *Backend) referencing(rr *resourceRequest, tx csql.Queryer, referencer, property string, ids []int64, scheduled map[int64]bool) (found []int64, target int64, err error) {
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = strconv.FormatInt(id, 10)
	}
	rows, err := tx.QueryContext(rr.ctx, `SELECT id, (data->>$3)::bigint FROM `+b.db.Table("resource")+`
WHERE app_id = $1 AND type = $2 AND NOT seed AND (data->>$3) = ANY($4) ORDER BY id FOR UPDATE;`,
		rr.app.ID, referencer, property, pq.Array(values))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, referenced int64
		if err := rows.Scan(&id, &referenced); err != nil {
			return nil, 0, err
		}
		if scheduled[id] {
			continue
		}
		if len(found) == 0 {
			target = referenced
		}
		found = append(found, id)
	}
	return found, target, rows.Err()
}

func (b *Backend) clearReference(rr *resourceRequest, tx csql.Queryer, property string, ids []int64) error {
	_, err := tx.ExecContext(rr.ctx, `UPDATE `+b.db.Table("resource")+`
SET data = jsonb_set(data, ARRAY[$1::text], 'null'::jsonb), editor_id = $2, updated = $3
WHERE id = ANY($4);`, property, nullUUID(rr.subject.MemberID()), rr.now, pq.Array(ids))
	return err
}

// removeResources loads the authors of the resources, the rows are deleted by purge
func (b *Backend) removeResources(rr *resourceRequest, tx csql.Queryer, d deletion) (deletion, error) {
	rows, err := tx.QueryContext(rr.ctx, `SELECT DISTINCT author_id FROM `+b.db.Table("resource")+`
WHERE id = ANY($1) AND author_id IS NOT NULL;`, pq.Array(d.ids))
	if err != nil {
		return d, err
	}
	defer rows.Close()
	for rows.Next() {
		var author uuid.UUID
		if err := rows.Scan(&author); err != nil {
			return d, err
		}
		d.authors = append(d.authors, author)
	}
	return d, rows.Err()
}

// purge deletes all rows in one statement
func (b *Backend) purge(rr *resourceRequest, tx csql.Queryer, deletions []deletion) error {
	var ids []int64
	for _, d := range deletions {
		ids = append(ids, d.ids...)
	}
	_, err := tx.ExecContext(rr.ctx, `DELETE FROM `+b.db.Table("resource")+` WHERE app_id = $1 AND id = ANY($2);`,
		rr.app.ID, pq.Array(ids))
	return err
}

func (b *Backend) notifyDeletions(rr *resourceRequest, deletions []deletion) {
	for _, d := range deletions {
		event := core.Event{
			AppID:       rr.app.ID,
			Type:        d.typ,
			Action:      core.ActionDelete,
			ResourceIDs: d.ids,
			AuthorIDs:   d.authors,
		}
		if rd := rr.app.Definition.Resources[d.typ]; rd != nil {
			if ad := rd.Action(core.ActionDelete); ad != nil && ad.Hooks != nil && ad.Hooks.Notification != nil {
				event.Recipients = ad.Hooks.Notification.To
				event.Subscribable = subscribable(ad.Hooks.Notification, core.ActionDelete)
			}
		}
		b.notifier.Notify(rr.ctx, event)
	}
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
