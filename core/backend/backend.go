// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/resquery/core/access"
	"github.com/relabs-tech/resquery/core/fields"
	"github.com/relabs-tech/resquery/core/logger"
	"github.com/relabs-tech/resquery/core/query"
	"github.com/relabs-tech/resquery/core/schema"
)

// FieldPublisher distributes field definition updates to all service
// instances
type FieldPublisher interface {
	Publish(ctx context.Context, resource string, descriptors []fields.Descriptor) error
}

// Backend is the REST surface of a query engine
type Backend struct {
	engine               *query.Engine
	router               *mux.Router
	authorizationEnabled bool
	publisher            FieldPublisher
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Engine answers the queries. This is mandatory.
	Engine *query.Engine
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// AuthorizationEnabled restricts the administrative routes to the admin role.
	// Enable authorization in the engine to enforce the permits of resources.
	AuthorizationEnabled bool
	// Jwt installs a bearer token middleware. This is optional.
	Jwt *access.JwtMiddlewareBuilder
	// FieldPublisher distributes field updates. If nil, updates are applied to
	// Engine directly. This is optional.
	FieldPublisher FieldPublisher
}

// New realizes the actual backend. It adds the middlewares and all routes
// to the router of bb.
func New(bb *Builder) *Backend {
	if bb.Engine == nil {
		panic("Engine is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	b := &Backend{
		engine:               bb.Engine,
		router:               bb.Router,
		authorizationEnabled: bb.AuthorizationEnabled,
		publisher:            bb.FieldPublisher,
	}

	logger.AddRequestID(b.router)
	b.handleCORS()
	if bb.Jwt != nil {
		b.router.Use(access.NewJwtMiddleware(bb.Jwt))
	}
	b.handleCompression()
	b.handleRoutes(b.router)
	return b
}

// Router returns the router of the backend
func (b *Backend) Router() *mux.Router {
	return b.router
}

func (b *Backend) handleRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("backend: HandleRoutes")

	b.handleVersion(router)
	b.handleStatistics(router)

	rlog.Debugln("  handle metrics route: /metrics GET")
	router.Handle("/metrics", promhttp.HandlerFor(b.engine.Registry(), promhttp.HandlerOpts{})).
		Methods(http.MethodOptions, http.MethodGet)

	for _, resource := range b.engine.Resources() {
		rlog.Debugf("  queryable resource: %s", resource)
	}

	rlog.Debugln("  handle route: /{resource}/filter-fields GET")
	router.HandleFunc("/{resource}/filter-fields", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.filterFields(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	rlog.Debugln("  handle route: /{resource}/fields GET, PUT")
	router.HandleFunc("/{resource}/fields", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.getFields(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/{resource}/fields", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.putFields(w, r)
	}).Methods(http.MethodOptions, http.MethodPut)

	rlog.Debugln("  handle route: /{resource}/query GET, POST")
	router.HandleFunc("/{resource}/query", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.query(w, r)
	}).Methods(http.MethodOptions, http.MethodGet, http.MethodPost)

	rlog.Debugln("  handle route: /{resource}/plan GET, POST")
	router.HandleFunc("/{resource}/plan", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.plan(w, r)
	}).Methods(http.MethodOptions, http.MethodGet, http.MethodPost)
}

// isAdmin returns true if the request may use administrative routes
func (b *Backend) isAdmin(r *http.Request) bool {
	return !b.authorizationEnabled || access.AuthorizationFromContext(r.Context()).HasRole("admin")
}

// writeError maps err to a status code. Unexpected errors are logged with
// code and reported as "Error <code>".
func writeError(w http.ResponseWriter, r *http.Request, err error, code string) {
	var validationErr *schema.ValidationError
	switch {
	case errors.Is(err, query.ErrUnknownResource):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, query.ErrNotAuthorized):
		if access.AuthorizationFromContext(r.Context()) == nil {
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
		http.Error(w, "not authorized", http.StatusForbidden)
	case errors.Is(err, query.ErrCoreResource), errors.As(err, &validationErr), query.IsBadRequest(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled):
		logger.FromContext(r.Context()).WithError(err).Infoln("request cancelled")
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		logger.FromContext(r.Context()).WithError(err).Errorf("Error %s: %s %s", code, r.Method, r.URL)
		http.Error(w, "Error "+code, http.StatusInternalServerError)
	}
}

// writeJSON writes value as JSON. If the request carries a matching
// If-None-Match header, it responds with http.StatusNotModified.
func writeJSON(w http.ResponseWriter, r *http.Request, value interface{}) {
	jsonData, err := json.Marshal(value)
	if err != nil {
		writeError(w, r, err, "4731")
		return
	}
	etag := bytesToEtag(jsonData)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}

func bytesToEtag(data []byte) string {
	return fmt.Sprintf("\"%x\"", md5.Sum(data))
}

func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(s, " \"")
		t := strings.Trim(etag, " \"")
		if s == t {
			return true
		}
	}
	return false
}
