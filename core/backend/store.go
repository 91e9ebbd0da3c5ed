package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/tenantkit/core/csql"
	"github.com/relabs-tech/tenantkit/core/query"
	"github.com/relabs-tech/tenantkit/core/schema"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS %[1]s.resource (
id BIGSERIAL PRIMARY KEY,
app_id BIGINT NOT NULL REFERENCES %[1]s.app(id) ON DELETE CASCADE,
type VARCHAR NOT NULL,
data JSONB NOT NULL,
author_id UUID REFERENCES %[1]s.app_member(id) ON DELETE SET NULL,
editor_id UUID REFERENCES %[1]s.app_member(id) ON DELETE SET NULL,
created TIMESTAMPTZ NOT NULL DEFAULT now(),
updated TIMESTAMPTZ NOT NULL DEFAULT now(),
expires TIMESTAMPTZ,
clonable BOOLEAN NOT NULL DEFAULT FALSE,
seed BOOLEAN NOT NULL DEFAULT FALSE,
ephemeral BOOLEAN NOT NULL DEFAULT FALSE
);`,
	`CREATE INDEX IF NOT EXISTS resource_app_id_type_idx ON %[1]s.resource(app_id, type);`,
	`CREATE TABLE IF NOT EXISTS %[1]s.resource_version (
id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
resource_id BIGINT NOT NULL REFERENCES %[1]s.resource(id) ON DELETE CASCADE,
app_member_id UUID REFERENCES %[1]s.app_member(id) ON DELETE SET NULL,
created TIMESTAMPTZ NOT NULL DEFAULT now(),
data JSONB
);`,
	`CREATE INDEX IF NOT EXISTS resource_version_resource_id_idx ON %[1]s.resource_version(resource_id, created DESC);`,
	`CREATE TABLE IF NOT EXISTS %[1]s.asset (
id VARCHAR PRIMARY KEY,
app_id BIGINT NOT NULL REFERENCES %[1]s.app(id) ON DELETE CASCADE,
resource_id BIGINT REFERENCES %[1]s.resource(id) ON DELETE CASCADE,
mime VARCHAR NOT NULL,
filename VARCHAR NOT NULL DEFAULT '',
data BYTEA,
created TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	`CREATE INDEX IF NOT EXISTS asset_resource_id_idx ON %[1]s.asset(resource_id);`,
}

// resourceRow is a resource as stored
type resourceRow struct {
	ID         int64
	Data       map[string]any
	AuthorID   uuid.NullUUID
	AuthorName sql.NullString
	EditorID   uuid.NullUUID
	EditorName sql.NullString
	Created    time.Time
	Updated    time.Time
	Expires    sql.NullTime
	Clonable   bool
	Ephemeral  bool
}

// resourceColumns returns the select list matching resourceRow.scan for the resource
// table aliased as r
func (b *Backend) resourceColumns() string {
	member := b.db.Table("app_member")
	return fmt.Sprintf(`r.id, r.data, r.author_id, (SELECT m.name FROM %[1]s m WHERE m.id = r.author_id),
r.editor_id, (SELECT m.name FROM %[1]s m WHERE m.id = r.editor_id), r.created, r.updated, r.expires, r.clonable, r.ephemeral`, member)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(s scanner) (*resourceRow, error) {
	var (
		row  resourceRow
		data []byte
	)
	err := s.Scan(&row.ID, &data, &row.AuthorID, &row.AuthorName, &row.EditorID, &row.EditorName,
		&row.Created, &row.Updated, &row.Expires, &row.Clonable, &row.Ephemeral)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &row.Data); err != nil {
		return nil, fmt.Errorf("cannot unmarshal data of resource %d: %w", row.ID, err)
	}
	return &row, nil
}

func member(id uuid.NullUUID, name sql.NullString) map[string]any {
	return map[string]any{"id": id.UUID.String(), "name": name.String}
}

// object returns the resource as seen by API consumers: the user data plus the
// built-in properties
func (row *resourceRow) object() map[string]any {
	o := make(map[string]any, len(row.Data)+8)
	for k, v := range row.Data {
		o[k] = v
	}
	o[schema.PropertyID] = row.ID
	o[schema.PropertyCreated] = row.Created.UTC()
	o[schema.PropertyUpdated] = row.Updated.UTC()
	if row.AuthorID.Valid {
		o[schema.PropertyAuthor] = member(row.AuthorID, row.AuthorName)
	}
	if row.EditorID.Valid {
		o[schema.PropertyEditor] = member(row.EditorID, row.EditorName)
	}
	if row.Expires.Valid {
		o[schema.PropertyExpires] = row.Expires.Time.UTC()
	}
	if row.Clonable {
		o[schema.PropertyClonable] = true
	}
	if row.Ephemeral {
		o[schema.PropertyEphemeral] = true
	}
	return o
}

// visible renders the condition shared by all reads and writes of existing resources:
// the app and type, unexpired, not a demo seed, and admitted by predicate
func (rr *resourceRequest) visible(args *query.Args, predicate query.Node) string {
	return "r.app_id = " + args.Add(rr.app.ID) +
		" AND r.type = " + args.Add(rr.typ) +
		" AND NOT r.seed" +
		" AND (r.expires IS NULL OR r.expires > " + args.Add(rr.now) + ")" +
		" AND " + query.Where(predicate, args)
}

// selectResources returns the visible resources matching condition
func (b *Backend) selectResources(ctx context.Context, q csql.Queryer, rr *resourceRequest, predicate query.Node, plan *query.Plan, forUpdate bool) ([]*resourceRow, error) {
	args := &query.Args{}
	sqlQuery := "SELECT " + b.resourceColumns() + " FROM " + b.db.Table("resource") + " r WHERE " +
		rr.visible(args, predicate)
	if plan != nil {
		sqlQuery += " ORDER BY " + query.OrderBy(plan.OrderBy, args)
		if plan.Top != nil {
			sqlQuery += " LIMIT " + args.Add(*plan.Top)
		}
		if plan.Skip > 0 {
			sqlQuery += " OFFSET " + args.Add(plan.Skip)
		}
	} else {
		sqlQuery += " ORDER BY r.id"
	}
	if forUpdate {
		sqlQuery += " FOR UPDATE OF r"
	}
	rows, err := q.QueryContext(ctx, sqlQuery+";", args.Values...)
	if err != nil {
		return nil, fmt.Errorf("cannot execute query `%s`: %w", sqlQuery, err)
	}
	defer rows.Close()
	var resources []*resourceRow
	for rows.Next() {
		row, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, row)
	}
	return resources, rows.Err()
}

// selectByIDs returns the visible resources with ids
func (b *Backend) selectByIDs(ctx context.Context, q csql.Queryer, rr *resourceRequest, predicate query.Node, ids []int64, forUpdate bool) ([]*resourceRow, error) {
	return b.selectResources(ctx, q, rr, query.AndOf(query.IDIn{IDs: ids}, predicate), nil, forUpdate)
}

// countResources counts the visible resources
func (b *Backend) countResources(ctx context.Context, rr *resourceRequest, predicate query.Node) (int64, error) {
	args := &query.Args{}
	sqlQuery := "SELECT count(*) FROM " + b.db.Table("resource") + " r WHERE " + rr.visible(args, predicate) + ";"
	var count int64
	if err := b.db.QueryRowContext(ctx, sqlQuery, args.Values...).Scan(&count); err != nil {
		return 0, fmt.Errorf("cannot execute query `%s`: %w", sqlQuery, err)
	}
	return count, nil
}
