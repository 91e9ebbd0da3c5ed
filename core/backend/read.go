package backend

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/access"
	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/logger"
	"github.com/relabs-tech/tenantkit/core/query"
	"github.com/relabs-tech/tenantkit/core/schema"
)

// authorizeRead authorizes action, or the named view when the request has a view parameter
func (rr *resourceRequest) authorizeRead(r *http.Request, action core.Action) (*access.Decision, *schema.ViewDefinition, error) {
	name := r.URL.Query().Get("view")
	if name == "" {
		decision, err := rr.authorize(action)
		return decision, nil, err
	}
	view, err := schema.View(rr.rd, rr.typ, name)
	if err != nil {
		return nil, nil, err
	}
	decision, err := rr.subject.Authorize(rr.ctx, schema.ViewRoles(rr.app.Definition, rr.rd, view))
	return decision, view, err
}

func (b *Backend) query(w http.ResponseWriter, r *http.Request) error {
	rr, err := b.resolve(r)
	if err != nil {
		return err
	}
	decision, view, err := rr.authorizeRead(r, core.ActionQuery)
	if err != nil {
		return err
	}
	plan, err := query.Parse(r.URL.Query())
	if err != nil {
		return err
	}
	team, err := rr.subject.TeamFilter(rr.ctx, plan.Team)
	if err != nil {
		return apierror.Internal("Error 4710", err)
	}
	rows, err := b.selectResources(rr.ctx, b.db, rr, query.AndOf(decision.Predicate, team, plan.Filter), plan, false)
	if err != nil {
		logger.FromContext(rr.ctx).WithError(err).Errorf("Error 4711: cannot query resources")
		return apierror.Internal("Error 4711", err)
	}
	response := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if view != nil {
			response = append(response, remap(row.object(), view.Remap))
			continue
		}
		response = append(response, query.Select(row.object(), plan.Select))
	}
	writeJSON(w, r, http.StatusOK, response)
	return nil
}

func (b *Backend) count(w http.ResponseWriter, r *http.Request) error {
	rr, err := b.resolve(r)
	if err != nil {
		return err
	}
	decision, err := rr.authorize(core.ActionCount)
	if err != nil {
		return err
	}
	plan, err := query.Parse(r.URL.Query())
	if err != nil {
		return err
	}
	team, err := rr.subject.TeamFilter(rr.ctx, plan.Team)
	if err != nil {
		return apierror.Internal("Error 4712", err)
	}
	count, err := b.countResources(rr.ctx, rr, query.AndOf(decision.Predicate, team, plan.Filter))
	if err != nil {
		logger.FromContext(rr.ctx).WithError(err).Errorf("Error 4713: cannot count resources")
		return apierror.Internal("Error 4713", err)
	}
	writeJSON(w, r, http.StatusOK, count)
	return nil
}

// readOne returns the visible resource of the request's id or ErrResourceNotFound
func (b *Backend) readOne(r *http.Request, rr *resourceRequest, predicate query.Node) (*resourceRow, error) {
	id, err := resourceID(r)
	if err != nil {
		return nil, err
	}
	rows, err := b.selectByIDs(rr.ctx, b.db, rr, predicate, []int64{id}, false)
	if err != nil {
		logger.FromContext(rr.ctx).WithError(err).Errorf("Error 4714: cannot read resource %d", id)
		return nil, apierror.Internal("Error 4714", err)
	}
	if len(rows) == 0 {
		return nil, apierror.ErrResourceNotFound
	}
	return rows[0], nil
}

func (b *Backend) get(w http.ResponseWriter, r *http.Request) error {
	rr, err := b.resolve(r)
	if err != nil {
		return err
	}
	decision, view, err := rr.authorizeRead(r, core.ActionGet)
	if err != nil {
		return err
	}
	row, err := b.readOne(r, rr, decision.Predicate)
	if err != nil {
		return err
	}
	if view != nil {
		writeJSON(w, r, http.StatusOK, remap(row.object(), view.Remap))
		return nil
	}
	writeJSON(w, r, http.StatusOK, row.object())
	return nil
}

// resourceVersion is a snapshot of a resource taken before an update
type resourceVersion struct {
	ID      uuid.UUID      `json:"id"`
	Created time.Time      `json:"created"`
	Data    any            `json:"data"`
	Author  map[string]any `json:"author,omitempty"`
}

func (b *Backend) history(w http.ResponseWriter, r *http.Request) error {
	rr, err := b.resolve(r)
	if err != nil {
		return err
	}
	decision, err := rr.authorize(core.ActionHistory)
	if err != nil {
		return err
	}
	if !rr.rd.HistoryEnabled() {
		return apierror.BadRequest("Resource %s has no history", rr.typ)
	}
	row, err := b.readOne(r, rr, decision.Predicate)
	if err != nil {
		return err
	}

	rlog := logger.FromContext(rr.ctx)
	rows, err := b.db.QueryContext(rr.ctx, `SELECT v.id, v.created, v.data, v.app_member_id,
(SELECT m.name FROM `+b.db.Table("app_member")+` m WHERE m.id = v.app_member_id)
FROM `+b.db.Table("resource_version")+` v WHERE v.resource_id = $1 ORDER BY v.created DESC, v.id;`, row.ID)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4715: cannot read history of %d", row.ID)
		return apierror.Internal("Error 4715", err)
	}
	defer rows.Close()
	versions := []resourceVersion{}
	for rows.Next() {
		var (
			v          resourceVersion
			versionRow resourceRow
			data       []byte
		)
		if err := rows.Scan(&v.ID, &versionRow.Created, &data, &versionRow.AuthorID, &versionRow.AuthorName); err != nil {
			rlog.WithError(err).Errorf("Error 4716: cannot scan history of %d", row.ID)
			return apierror.Internal("Error 4716", err)
		}
		v.Created = versionRow.Created.UTC()
		if data != nil {
			if err := json.Unmarshal(data, &v.Data); err != nil {
				return apierror.Internal("Error 4717", err)
			}
		}
		if versionRow.AuthorID.Valid {
			v.Author = member(versionRow.AuthorID, versionRow.AuthorName)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return apierror.Internal("Error 4716", err)
	}
	writeJSON(w, r, http.StatusOK, versions)
	return nil
}

// remap builds the view of a resource. Every output key takes the value at a dotted path
// into the resource, missing values are null.
func remap(resource map[string]any, mapping map[string]string) map[string]any {
	result := make(map[string]any, len(mapping))
	for key, path := range mapping {
		result[key] = lookup(resource, path)
	}
	return result
}

func lookup(value any, path string) any {
	if path == "" {
		return value
	}
	for _, segment := range strings.Split(path, ".") {
		switch v := value.(type) {
		case map[string]any:
			value = v[segment]
		case []any:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			value = v[i]
		default:
			return nil
		}
	}
	return value
}
