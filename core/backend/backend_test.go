package backend

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/client"
	"github.com/relabs-tech/tenantkit/core/csql"
	"github.com/relabs-tech/tenantkit/core/registry"
	"github.com/relabs-tech/tenantkit/core/schema"
	"github.com/relabs-tech/tenantkit/test"
)

// TestService holds the backend under test
type TestService struct {
	db       *csql.DB
	backend  *Backend
	registry registry.Registry
	client   client.Client
	events   *recorder
	clock    *clock
}

var testService TestService

// clock is the adjustable time source of the backend
type clock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

// advance moves the clock forward until the test ends
func (c *clock) advance(t *testing.T, d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
	t.Cleanup(func() {
		c.mu.Lock()
		c.offset -= d
		c.mu.Unlock()
	})
}

// recorder is a notifier which remembers all events
type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Notify(_ context.Context, event core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// of returns the events of an app
func (r *recorder) of(appID int64) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []core.Event
	for _, e := range r.events {
		if e.AppID == appID {
			events = append(events, e)
		}
	}
	return events
}

func TestMain(m *testing.M) {
	db, infra := test.Postgres("_backend_unit_test_")

	router := mux.NewRouter()
	testService.db = db
	testService.events = &recorder{}
	testService.clock = &clock{}
	testService.backend = New(&Builder{
		DB:       db,
		Router:   router,
		Notifier: testService.events,
		Clock:    testService.clock.Now,
	})
	testService.registry = testService.backend.Registry
	testService.client = client.NewWithRouter(router)

	code := m.Run()
	db.Close()
	infra.Terminate()
	os.Exit(code)
}

// createApp creates an app of organization acme with definition, which can be JSON or YAML
func createApp(t *testing.T, definition string) *registry.App {
	t.Helper()
	def, err := schema.Parse([]byte(definition))
	require.NoError(t, err)
	app := &registry.App{OrganizationID: "acme", Definition: def}
	require.NoError(t, testService.registry.CreateApp(context.Background(), app))
	return app
}

// addMember adds a new user with role to app and returns the user as caller
func addMember(t *testing.T, app *registry.App, name, role string) *core.Caller {
	t.Helper()
	caller := &core.Caller{UserID: uuid.New(), Name: name}
	_, err := testService.registry.AddMember(context.Background(), app.ID, caller.UserID, name, role)
	require.NoError(t, err)
	return caller
}

// as returns a client acting as caller, nil is anonymous
func as(caller *core.Caller) client.Client {
	return testService.client.WithCaller(caller)
}

// id returns the id of a decoded resource
func id(t *testing.T, resource map[string]any) int64 {
	t.Helper()
	v, ok := resource["id"].(float64)
	require.True(t, ok, "resource has no id: %v", resource)
	return int64(v)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
