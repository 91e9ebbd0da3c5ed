/*Package registry provides the apps, members and teams the resource engine depends on.

Apps carry their definition as JSON document. Nothing is cached, every lookup reads
the current state from the database so changes to definitions and memberships take
effect with the next request.
*/
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/csql"
	"github.com/relabs-tech/tenantkit/core/schema"
)

// team roles
const (
	TeamRoleMember  = "member"
	TeamRoleManager = "manager"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS %[1]s.app (
id BIGSERIAL PRIMARY KEY,
organization_id VARCHAR NOT NULL,
definition JSONB NOT NULL,
demo_mode BOOLEAN NOT NULL DEFAULT FALSE,
template BOOLEAN NOT NULL DEFAULT FALSE,
created TIMESTAMPTZ NOT NULL DEFAULT now(),
updated TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	`CREATE TABLE IF NOT EXISTS %[1]s.app_member (
id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
app_id BIGINT NOT NULL REFERENCES %[1]s.app(id) ON DELETE CASCADE,
user_id UUID NOT NULL,
name VARCHAR NOT NULL DEFAULT '',
role VARCHAR NOT NULL,
UNIQUE(app_id, user_id)
);`,
	`CREATE TABLE IF NOT EXISTS %[1]s.team (
id BIGSERIAL PRIMARY KEY,
app_id BIGINT NOT NULL REFERENCES %[1]s.app(id) ON DELETE CASCADE,
name VARCHAR NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS %[1]s.team_member (
team_id BIGINT NOT NULL REFERENCES %[1]s.team(id) ON DELETE CASCADE,
app_member_id UUID NOT NULL REFERENCES %[1]s.app_member(id) ON DELETE CASCADE,
role VARCHAR NOT NULL CHECK (role IN ('member', 'manager')),
PRIMARY KEY(team_id, app_member_id)
);`,
	`CREATE INDEX IF NOT EXISTS team_member_app_member_id_idx ON %[1]s.team_member(app_member_id);`,
}

// App is an app of an organization
type App struct {
	ID             int64                 `json:"id"`
	OrganizationID string                `json:"organizationId"`
	Definition     *schema.AppDefinition `json:"definition"`
	DemoMode       bool                  `json:"demoMode"`
	Template       bool                  `json:"template"`
	Created        time.Time             `json:"$created"`
	Updated        time.Time             `json:"$updated"`
}

// Member is the membership of a user in an app
type Member struct {
	ID     uuid.UUID `json:"id"`
	AppID  int64     `json:"appId"`
	UserID uuid.UUID `json:"userId"`
	Name   string    `json:"name"`
	Role   string    `json:"role"`
}

// TeamRole is the role of a member in a team
type TeamRole struct {
	TeamID int64  `json:"teamId"`
	Role   string `json:"role"`
}

// Registry provides apps, members and teams stored in a SQL database
type Registry struct {
	db *csql.DB
}

// New creates a new registry for the specified database and creates its tables
func New(db *csql.DB) Registry {
	if err := db.Migrate(context.Background(), migrations...); err != nil {
		panic(err)
	}
	return Registry{db: db}
}

// App returns the app with id
func (r Registry) App(ctx context.Context, id int64) (*App, error) {
	var (
		app        App
		definition []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, organization_id, definition, demo_mode, template, created, updated FROM `+r.db.Table("app")+` WHERE id=$1;`,
		id).Scan(&app.ID, &app.OrganizationID, &definition, &app.DemoMode, &app.Template, &app.Created, &app.Updated)
	if err == csql.ErrNoRows {
		return nil, apierror.ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read app %d: %w", id, err)
	}
	if app.Definition, err = schema.Parse(definition); err != nil {
		return nil, fmt.Errorf("invalid definition of app %d: %w", id, err)
	}
	return &app, nil
}

// CreateApp creates a new app. The app's ID, Created and Updated are set.
func (r Registry) CreateApp(ctx context.Context, app *App) error {
	definition, err := json.Marshal(app.Definition)
	if err != nil {
		return err
	}
	return r.db.QueryRowContext(ctx,
		`INSERT INTO `+r.db.Table("app")+`(organization_id, definition, demo_mode, template)
VALUES($1,$2,$3,$4) RETURNING id, created, updated;`,
		app.OrganizationID, string(definition), app.DemoMode, app.Template).Scan(&app.ID, &app.Created, &app.Updated)
}

// ImportApp creates or replaces the app with id with a raw JSON or YAML definition
func (r Registry) ImportApp(ctx context.Context, id int64, organizationID string, rawDefinition []byte, demoMode bool) error {
	def, err := schema.Parse(rawDefinition)
	if err != nil {
		return err
	}
	definition, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+r.db.Table("app")+`(id, organization_id, definition, demo_mode)
VALUES($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET organization_id=$2, definition=$3, demo_mode=$4, updated=now();`,
			id, organizationID, string(definition), demoMode)
		if err != nil {
			return err
		}
		// keep the sequence ahead of explicitly chosen ids
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), GREATEST((SELECT max(id) FROM %[1]s), 1));`,
			r.db.Table("app")))
		return err
	})
}

// AddMember adds a user with role to the app
func (r Registry) AddMember(ctx context.Context, appID int64, userID uuid.UUID, name, role string) (*Member, error) {
	m := Member{AppID: appID, UserID: userID, Name: name, Role: role}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO `+r.db.Table("app_member")+`(app_id, user_id, name, role) VALUES($1,$2,$3,$4)
ON CONFLICT (app_id, user_id) DO UPDATE SET name=$3, role=$4 RETURNING id;`,
		appID, userID, name, role).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("cannot add member to app %d: %w", appID, err)
	}
	return &m, nil
}

// Member returns the membership of the user in the app, or nil if the user is no member
func (r Registry) Member(ctx context.Context, appID int64, userID uuid.UUID) (*Member, error) {
	m := Member{AppID: appID, UserID: userID}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, role FROM `+r.db.Table("app_member")+` WHERE app_id=$1 AND user_id=$2;`,
		appID, userID).Scan(&m.ID, &m.Name, &m.Role)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read member: %w", err)
	}
	return &m, nil
}

// MembersWithRoles returns the ids of all members of the app with any of the roles
func (r Registry) MembersWithRoles(ctx context.Context, appID int64, roles []string) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM `+r.db.Table("app_member")+` WHERE app_id=$1 AND role = ANY($2) ORDER BY id;`,
		appID, pq.Array(roles))
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

// CreateTeam creates a team in the app and returns its id
func (r Registry) CreateTeam(ctx context.Context, appID int64, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO `+r.db.Table("team")+`(app_id, name) VALUES($1,$2) RETURNING id;`,
		appID, name).Scan(&id)
	return id, err
}

// AddTeamMember adds a member with role member or manager to a team
func (r Registry) AddTeamMember(ctx context.Context, teamID int64, memberID uuid.UUID, role string) error {
	if role != TeamRoleMember && role != TeamRoleManager {
		return fmt.Errorf("invalid team role %s", role)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO `+r.db.Table("team_member")+`(team_id, app_member_id, role) VALUES($1,$2,$3)
ON CONFLICT (team_id, app_member_id) DO UPDATE SET role=$3;`,
		teamID, memberID, role)
	return err
}

// TeamRoles returns the teams of the app the member belongs to
func (r Registry) TeamRoles(ctx context.Context, appID int64, memberID uuid.UUID) ([]TeamRole, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tm.team_id, tm.role FROM `+r.db.Table("team_member")+` tm
JOIN `+r.db.Table("team")+` t ON t.id = tm.team_id
WHERE t.app_id=$1 AND tm.app_member_id=$2 ORDER BY tm.team_id;`,
		appID, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []TeamRole
	for rows.Next() {
		var tr TeamRole
		if err := rows.Scan(&tr.TeamID, &tr.Role); err != nil {
			return nil, err
		}
		roles = append(roles, tr)
	}
	return roles, rows.Err()
}

// TeamMembers returns the ids of all members of the teams
func (r Registry) TeamMembers(ctx context.Context, teamIDs []int64) ([]uuid.UUID, error) {
	if len(teamIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT app_member_id FROM `+r.db.Table("team_member")+` WHERE team_id = ANY($1) ORDER BY app_member_id;`,
		pq.Array(teamIDs))
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsAppNotFound returns true if err reports a missing app
func IsAppNotFound(err error) bool {
	return errors.Is(err, apierror.ErrAppNotFound)
}
