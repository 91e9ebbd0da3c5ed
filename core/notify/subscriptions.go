package notify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/csql"
)

var subscriptionMigrations = []string{
	`CREATE TABLE IF NOT EXISTS %[1]s.resource_subscription (
id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
app_id BIGINT NOT NULL,
type VARCHAR NOT NULL,
resource_id BIGINT,
member_id UUID NOT NULL,
action VARCHAR NOT NULL,
created TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS resource_subscription_unique_idx
ON %[1]s.resource_subscription(app_id, type, COALESCE(resource_id, 0), member_id, action);`,
}

// Subscription is the interest of a member in changes of a resource type, or of a single
// resource if ResourceID is set
type Subscription struct {
	AppID      int64       `json:"appId"`
	Type       string      `json:"type"`
	ResourceID *int64      `json:"resourceId,omitempty"`
	MemberID   uuid.UUID   `json:"memberId"`
	Action     core.Action `json:"action"`
}

// Subscriptions stores subscriptions in Postgres
type Subscriptions struct {
	db    *csql.DB
	table string
}

// NewSubscriptions creates the subscription table if necessary
func NewSubscriptions(ctx context.Context, db *csql.DB) (*Subscriptions, error) {
	if err := db.Migrate(ctx, subscriptionMigrations...); err != nil {
		return nil, err
	}
	return &Subscriptions{db: db, table: db.Table("resource_subscription")}, nil
}

// SubscribableActions are the actions users can subscribe to
var SubscribableActions = []core.Action{core.ActionCreate, core.ActionUpdate, core.ActionDelete}

// Subscribe stores s. Subscribing twice is not an error.
func (s *Subscriptions) Subscribe(ctx context.Context, sub Subscription) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO `+s.table+` (app_id, type, resource_id, member_id, action)
VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING;`,
		sub.AppID, sub.Type, nullableID(sub.ResourceID), sub.MemberID, sub.Action)
	return err
}

// Unsubscribe removes s
func (s *Subscriptions) Unsubscribe(ctx context.Context, sub Subscription) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+`
WHERE app_id = $1 AND type = $2 AND resource_id IS NOT DISTINCT FROM $3 AND member_id = $4 AND action = $5;`,
		sub.AppID, sub.Type, nullableID(sub.ResourceID), sub.MemberID, sub.Action)
	return err
}

// List returns the subscriptions of a member for a resource type, including those for single
// resources
func (s *Subscriptions) List(ctx context.Context, appID int64, resourceType string, memberID uuid.UUID) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT resource_id, action FROM `+s.table+`
WHERE app_id = $1 AND type = $2 AND member_id = $3 ORDER BY resource_id NULLS FIRST, action;`,
		appID, resourceType, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subscriptions := []Subscription{}
	for rows.Next() {
		sub := Subscription{AppID: appID, Type: resourceType, MemberID: memberID}
		var resourceID sql.NullInt64
		if err := rows.Scan(&resourceID, &sub.Action); err != nil {
			return nil, err
		}
		if resourceID.Valid {
			sub.ResourceID = &resourceID.Int64
		}
		subscriptions = append(subscriptions, sub)
	}
	return subscriptions, rows.Err()
}

// Subscribers returns the members subscribed to action on the resource type or on any of
// the resources
func (s *Subscriptions) Subscribers(ctx context.Context, appID int64, resourceType string, action core.Action, resourceIDs []int64) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT member_id FROM `+s.table+`
WHERE app_id = $1 AND type = $2 AND action = $3 AND (resource_id IS NULL OR resource_id = ANY($4));`,
		appID, resourceType, action, pq.Array(resourceIDs))
	if err != nil {
		return nil, fmt.Errorf("cannot read subscribers: %w", err)
	}
	defer rows.Close()
	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// Forget removes the subscriptions to single resources
func (s *Subscriptions) Forget(ctx context.Context, appID int64, resourceType string, resourceIDs []int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+`
WHERE app_id = $1 AND type = $2 AND resource_id = ANY($3);`,
		appID, resourceType, pq.Array(resourceIDs))
	return err
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
