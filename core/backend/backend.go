package backend

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/access"
	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/assets"
	"github.com/relabs-tech/tenantkit/core/csql"
	"github.com/relabs-tech/tenantkit/core/logger"
	"github.com/relabs-tech/tenantkit/core/metrics"
	"github.com/relabs-tech/tenantkit/core/notify"
	"github.com/relabs-tech/tenantkit/core/registry"
	"github.com/relabs-tech/tenantkit/core/schema"
)

// labels of routes which are no resource actions
const (
	actionSubscriptions core.Action = "subscriptions"
	actionAsset         core.Action = "asset"
	actionStatistics    core.Action = "statistics"
)

// Backend is the resource backend of all apps
type Backend struct {
	db            *csql.DB
	router        *mux.Router
	driver        assets.Driver
	notifier      core.Notifier
	subscriptions *notify.Subscriptions
	now           func() time.Time
	// Registry holds apps, members and teams
	Registry registry.Registry
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// AssetDriver stores asset content. Without driver, content is stored in the database.
	// This is optional.
	AssetDriver assets.Driver
	// Notifier receives committed resource changes. This is optional.
	Notifier core.Notifier
	// Subscriptions stores push subscriptions. It is created if missing.
	Subscriptions *notify.Subscriptions
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// AllowedOrigins are the origins of browser clients. Defaults to all origins.
	AllowedOrigins []string
}

// New realizes the actual backend. It creates the sql relations (if they
// do not exist) and adds actual routes to router
func New(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	b := &Backend{
		db:            bb.DB,
		router:        bb.Router,
		driver:        bb.AssetDriver,
		notifier:      bb.Notifier,
		subscriptions: bb.Subscriptions,
		now:           bb.Clock,
		Registry:      registry.New(bb.DB),
	}
	if b.notifier == nil {
		b.notifier = core.NotifierFunc(func(context.Context, core.Event) {})
	}
	if b.now == nil {
		b.now = time.Now
	}
	ctx := context.Background()
	if err := b.db.Migrate(ctx, migrations...); err != nil {
		panic(err)
	}
	if b.subscriptions == nil {
		subscriptions, err := notify.NewSubscriptions(ctx, b.db)
		if err != nil {
			panic(err)
		}
		b.subscriptions = subscriptions
	}

	b.handleCORS(bb.AllowedOrigins)
	b.handleRoutes(b.router)
	return b
}

// handleRoutes adds all resource routes. Routes with fixed segments are registered
// before the routes with ids.
func (b *Backend) handleRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("backend: handleRoutes")

	const (
		app        = "/apps/{appId:[0-9]+}"
		collection = app + "/resources/{type}"
		single     = collection + "/{id:[0-9]+}"
	)

	b.route(router, collection+"/$count", core.ActionCount, b.count, http.MethodGet)
	b.route(router, collection+"/subscriptions", actionSubscriptions, b.typeSubscriptions, http.MethodGet, http.MethodPost, http.MethodDelete)
	b.route(router, single+"/history", core.ActionHistory, b.history, http.MethodGet)
	b.route(router, single+"/subscriptions", actionSubscriptions, b.resourceSubscriptions, http.MethodGet, http.MethodPost, http.MethodDelete)
	b.route(router, single, core.ActionGet, b.get, http.MethodGet)
	b.route(router, single, core.ActionUpdate, b.updateOne, http.MethodPut)
	b.route(router, single, core.ActionUpdate, b.patch, http.MethodPatch)
	b.route(router, single, core.ActionDelete, b.deleteOne, http.MethodDelete)
	b.route(router, collection, core.ActionQuery, b.query, http.MethodGet)
	b.route(router, collection, core.ActionCreate, b.create, http.MethodPost)
	b.route(router, collection, core.ActionUpdate, b.updateMany, http.MethodPut)
	b.route(router, collection, core.ActionDelete, b.deleteMany, http.MethodDelete)
	b.route(router, app+"/assets/{assetId}", actionAsset, b.asset, http.MethodGet)
	b.route(router, app+"/statistics", actionStatistics, b.statistics, http.MethodGet)
	b.handleVersion(router)

	for _, path := range []string{collection, single, collection + "/$count"} {
		rlog.Debugln("  handle route:", path)
	}
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// route registers h with compression, logging and metrics. Errors returned by h are
// rendered with apierror.Write.
func (b *Backend) route(router *mux.Router, path string, label core.Action, h handlerFunc, methods ...string) {
	router.Handle(path, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		start := time.Now()
		result := "ok"
		if err := h(w, r); err != nil {
			result = "error"
			apierror.Write(w, r, err)
		}
		metrics.ResourceOperations.WithLabelValues(string(label), result).Inc()
		metrics.ResourceLatency.WithLabelValues(string(label)).Observe(time.Since(start).Seconds())
	}))).Methods(append(methods, http.MethodOptions)...)
}

// resourceRequest is the state of a single request to the resources of one type. It is
// built once per request and passed explicitly.
type resourceRequest struct {
	ctx       context.Context
	app       *registry.App
	subject   *access.Subject
	typ       string
	rd        *schema.ResourceDefinition
	effective *schema.Effective
	now       time.Time
}

func (b *Backend) appFromRequest(r *http.Request) (*registry.App, error) {
	appID, err := strconv.ParseInt(mux.Vars(r)["appId"], 10, 64)
	if err != nil {
		return nil, apierror.ErrAppNotFound
	}
	return b.Registry.App(r.Context(), appID)
}

// resolve loads the app, the resource definition and the caller's membership
func (b *Backend) resolve(r *http.Request) (*resourceRequest, error) {
	app, err := b.appFromRequest(r)
	if err != nil {
		return nil, err
	}
	resourceType := mux.Vars(r)["type"]
	rd, err := schema.Resolve(app.Definition, resourceType)
	if err != nil {
		return nil, err
	}
	ctx, _ := logger.WithResource(r.Context(), app.ID, resourceType)
	subject, err := access.NewSubject(ctx, app, core.CallerFromContext(ctx), b.Registry)
	if err != nil {
		return nil, err
	}
	return &resourceRequest{
		ctx:       ctx,
		app:       app,
		subject:   subject,
		typ:       resourceType,
		rd:        rd,
		effective: schema.NewEffective(resourceType, rd),
		now:       b.now().UTC(),
	}, nil
}

func (rr *resourceRequest) authorize(action core.Action) (*access.Decision, error) {
	return rr.subject.Authorize(rr.ctx, schema.Roles(rr.app.Definition, rr.rd, action))
}

// resourceID returns the id path parameter
func resourceID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, apierror.ErrResourceNotFound
	}
	return id, nil
}
