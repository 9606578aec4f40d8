// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package query plans and executes resource queries.

An Engine knows a set of resources, each with its field definitions. A
query request names a resource, an optional filter tree, an optional sort
descriptor and the pagination parameters. The engine compiles the request
into a storage pipeline:

  scope match    records of the resource which are not archived
  filter match   the compiled filter tree, omitted if it matches everything
  sort stages    see package sorting
  skip           the cursor offset
  limit          page size plus one, to detect a next page

and executes it with a store.Executor. Returned records are projected to
the fields the caller may read, and filters on fields the caller may not
read are rejected.

Field definitions can be replaced at runtime with UpdateFields. The
compiled schema is swapped atomically, queries in flight keep the schema
they started with.
*/
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/casbin/casbin/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relabs-tech/resquery/core"
	"github.com/relabs-tech/resquery/core/access"
	"github.com/relabs-tech/resquery/core/datexpr"
	"github.com/relabs-tech/resquery/core/fields"
	"github.com/relabs-tech/resquery/core/filter"
	"github.com/relabs-tech/resquery/core/logger"
	"github.com/relabs-tech/resquery/core/pagination"
	"github.com/relabs-tech/resquery/core/pipeline"
	"github.com/relabs-tech/resquery/core/sorting"
	"github.com/relabs-tech/resquery/core/store"
)

// ErrUnknownResource is returned for requests on resources the engine does
// not know
var ErrUnknownResource = errors.New("unknown resource")

// ErrNotAuthorized is returned if the caller may not list a resource
var ErrNotAuthorized = errors.New("not authorized")

// ErrCoreResource is returned when the fields of a core resource are updated
var ErrCoreResource = errors.New("core resource")

// FieldStore persists field definitions of resources
type FieldStore interface {
	LoadFields(ctx context.Context) (map[string][]fields.Descriptor, error)
	SaveFields(ctx context.Context, resource string, descriptors []fields.Descriptor) error
}

// Builder is a builder helper for the Engine
type Builder struct {
	// Resources are the queryable resources
	Resources []ResourceDefinition
	// Executor executes the compiled pipelines. Required.
	Executor store.Executor
	// Settings are the query settings, zero values select the defaults
	Settings Settings
	// Resolver resolves date expressions, the zero value uses the local clock
	Resolver datexpr.Resolver
	// FieldStore persists field updates. Persisted definitions replace the
	// configured ones on startup. Optional.
	FieldStore FieldStore
	// Registry receives the engine metrics. If nil, a new registry is created.
	Registry *prometheus.Registry
	// Enforcer restricts readable fields with casbin policies. Optional.
	Enforcer *casbin.Enforcer
	// AuthorizationEnabled enforces the permits of the resources
	AuthorizationEnabled bool
	// Sorter compiles sort descriptors. If nil, the default strategies are used.
	Sorter *sorting.Compiler
}

// Engine plans and executes queries. This type is go-routine safe.
type Engine struct {
	settings             Settings
	resources            map[string]*ResourceDefinition
	schemas              *fields.Cache
	executor             store.Executor
	resolver             datexpr.Resolver
	fieldStore           FieldStore
	registry             *prometheus.Registry
	metrics              *metrics
	enforcer             *casbin.Enforcer
	authorizationEnabled bool
	sorter               *sorting.Compiler
}

// Request is a query request
type Request struct {
	Resource string              `json:"resource"`
	Filter   *filter.Node        `json:"filter,omitempty"`
	Sort     *sorting.Descriptor `json:"sort,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
	Cursor   string              `json:"cursor,omitempty"`
}

// Plan is a compiled query
type Plan struct {
	Resource   string
	Collection string
	Stages     []pipeline.Stage
	Limit      int
	Offset     int
}

// Describe returns a JSON-friendly description of the plan
func (p *Plan) Describe() map[string]interface{} {
	return map[string]interface{}{
		"resource":   p.Resource,
		"collection": p.Collection,
		"limit":      p.Limit,
		"offset":     p.Offset,
		"pipeline":   pipeline.Describe(p.Stages),
	}
}

// Result is a page of query results
type Result struct {
	Records     []pipeline.Document `json:"records"`
	Limit       int                 `json:"limit"`
	HasNextPage bool                `json:"has_next_page"`
	NextCursor  string              `json:"next_cursor,omitempty"`
}

// New creates a new engine. The field definitions of all resources are
// compiled, invalid definitions fail the creation.
func New(ctx context.Context, b *Builder) (*Engine, error) {
	if b.Executor == nil {
		return nil, errors.New("no executor")
	}
	e := &Engine{
		settings:             b.Settings.WithDefaults(),
		resources:            make(map[string]*ResourceDefinition),
		schemas:              fields.NewCache(),
		executor:             b.Executor,
		resolver:             b.Resolver,
		fieldStore:           b.FieldStore,
		registry:             b.Registry,
		enforcer:             b.Enforcer,
		authorizationEnabled: b.AuthorizationEnabled,
		sorter:               b.Sorter,
	}
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}
	if e.sorter == nil {
		e.sorter = sorting.NewCompiler()
	}
	e.metrics = newMetrics(e.registry)

	var persisted map[string][]fields.Descriptor
	if e.fieldStore != nil {
		var err error
		persisted, err = e.fieldStore.LoadFields(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot load field definitions: %w", err)
		}
	}

	for i := range b.Resources {
		def := b.Resources[i]
		if def.Resource == "" {
			return nil, errors.New("resource without name")
		}
		if _, ok := e.resources[def.Resource]; ok {
			return nil, fmt.Errorf("duplicate resource %s", def.Resource)
		}
		descriptors := def.Fields
		if p, ok := persisted[def.Resource]; ok {
			descriptors = p
		}
		if _, err := e.schemas.Update(def.Resource, descriptors); err != nil {
			return nil, fmt.Errorf("resource %s: %w", def.Resource, err)
		}
		e.resources[def.Resource] = &def
	}
	return e, nil
}

// Settings returns the effective settings of the engine
func (e *Engine) Settings() Settings {
	return e.settings
}

// Registry returns the prometheus registry holding the engine metrics
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// Resources returns the sorted names of all resources
func (e *Engine) Resources() []string {
	result := make([]string, 0, len(e.resources))
	for name := range e.resources {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Resource returns the definition of resource
func (e *Engine) Resource(resource string) (*ResourceDefinition, error) {
	def, ok := e.resources[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	return def, nil
}

// FilterFields returns the filter fields of resource
func (e *Engine) FilterFields(resource string) (fields.FilterFields, error) {
	compiled, err := e.compiled(resource)
	if err != nil {
		return nil, err
	}
	return compiled.FilterFields, nil
}

// Fields returns the current field definitions of resource
func (e *Engine) Fields(resource string) ([]fields.Descriptor, error) {
	compiled, err := e.compiled(resource)
	if err != nil {
		return nil, err
	}
	return compiled.Registry.Descriptors(), nil
}

// UpdateFields replaces the field definitions of resource. Invalid
// definitions are rejected and the previous definitions stay in effect.
// Valid definitions are persisted to the field store, if any. The fields of
// core resources are fixed.
func (e *Engine) UpdateFields(ctx context.Context, resource string, descriptors []fields.Descriptor) error {
	def, err := e.Resource(resource)
	if err != nil {
		return err
	}
	if def.Core {
		return fmt.Errorf("%w: the fields of %s cannot be changed", ErrCoreResource, resource)
	}
	rlog := logger.FromContext(ctx)
	if _, err := e.schemas.Update(resource, descriptors); err != nil {
		e.metrics.schemaUpdates.WithLabelValues(resource, "invalid").Inc()
		return err
	}
	if e.fieldStore != nil {
		if err := e.fieldStore.SaveFields(ctx, resource, descriptors); err != nil {
			e.metrics.schemaUpdates.WithLabelValues(resource, "error").Inc()
			return fmt.Errorf("cannot persist field definitions of %s: %w", resource, err)
		}
	}
	e.metrics.schemaUpdates.WithLabelValues(resource, "ok").Inc()
	rlog.Infof("updated %d field definitions of %s", len(descriptors), resource)
	return nil
}

func (e *Engine) compiled(resource string) (*fields.Compiled, error) {
	if _, err := e.Resource(resource); err != nil {
		return nil, err
	}
	compiled := e.schemas.Read(resource)
	if compiled == nil {
		return nil, fmt.Errorf("%w: %s has no fields", ErrUnknownResource, resource)
	}
	return compiled, nil
}

// Plan compiles request into a storage pipeline without executing it
func (e *Engine) Plan(ctx context.Context, request Request) (*Plan, error) {
	def, err := e.Resource(request.Resource)
	if err != nil {
		return nil, err
	}

	limit := request.Limit
	if limit == 0 {
		limit = e.settings.DefaultPageSize
	}
	if err := pagination.CheckPageSize(limit, e.settings.MaxPaginationLimit); err != nil {
		var exceeded *pagination.LimitExceededError
		if errors.As(err, &exceeded) {
			e.metrics.rejectedLimits.WithLabelValues(def.Resource).Inc()
		}
		return nil, err
	}

	cursor, err := pagination.DecodeCursor(request.Cursor)
	if err != nil {
		return nil, err
	}

	compiled, err := e.compiled(def.Resource)
	if err != nil {
		return nil, err
	}

	capability := e.capability(access.AuthorizationFromContext(ctx), def)
	expr, err := filter.Compile(ctx, request.Filter, filter.Options{
		Schema:      compiled,
		Resolver:    e.resolver,
		DataPath:    def.dataPath(),
		StrictDates: e.settings.StrictDates,
		Readable: func(field string) bool {
			return capability(core.ActionRead, nil, def.fieldPath(field))
		},
	})
	if err != nil {
		return nil, err
	}

	kind := def.kind()
	stages := []pipeline.Stage{pipeline.Match{Expr: e.scope(def, kind)}}
	if _, all := expr.(pipeline.All); !all {
		stages = append(stages, pipeline.Match{Expr: expr})
	}
	stages = append(stages, e.sortStages(def, compiled, request.Sort, kind)...)
	if cursor.Offset > 0 {
		stages = append(stages, pipeline.Skip{N: cursor.Offset})
	}
	stages = append(stages, pipeline.Limit{N: limit + 1})

	return &Plan{
		Resource:   def.Resource,
		Collection: def.collection(),
		Stages:     stages,
		Limit:      limit,
		Offset:     cursor.Offset,
	}, nil
}

// scope matches the non-archived documents of the resource
func (e *Engine) scope(def *ResourceDefinition, kind sorting.Kind) pipeline.Expr {
	notArchived := pipeline.Comparison{Path: kind.ArchivedField, Op: pipeline.OpNe, Value: true}
	if def.IsSystem() {
		return notArchived
	}
	return pipeline.And{Children: []pipeline.Expr{
		pipeline.Comparison{Path: "resource", Op: pipeline.OpEq, Value: def.Resource},
		notArchived,
	}}
}

// sortStages compiles the sort descriptor. Fields of the resource are
// sorted within the data object unless they are virtual.
func (e *Engine) sortStages(def *ResourceDefinition, compiled *fields.Compiled, descriptor *sorting.Descriptor, kind sorting.Kind) []pipeline.Stage {
	if descriptor == nil {
		return nil
	}
	d := *descriptor
	if _, ok := compiled.Registry.Type(d.Field); ok && !e.sorter.IsVirtual(d.Field) && def.dataPath() != "" {
		d.Field = def.dataPath() + "." + d.Field
	}
	return e.sorter.Compile(&d, kind)
}

// Query plans and executes request. The records of the result are projected
// to the fields readable by the authorization of ctx.
func (e *Engine) Query(ctx context.Context, request Request) (result *Result, err error) {
	start := time.Now()
	rlog := logger.FromContext(ctx)
	defer func() {
		if _, known := e.resources[request.Resource]; !known {
			return
		}
		e.metrics.queries.WithLabelValues(request.Resource, outcome(err)).Inc()
		e.metrics.duration.WithLabelValues(request.Resource).Observe(time.Since(start).Seconds())
	}()

	if err = e.Authorize(ctx, request.Resource); err != nil {
		return nil, err
	}
	def, _ := e.Resource(request.Resource)
	auth := access.AuthorizationFromContext(ctx)

	plan, err := e.Plan(ctx, request)
	if err != nil {
		return nil, err
	}
	rlog.Debugf("query %s: %v", plan.Resource, plan.Describe())

	docs, err := e.executor.Execute(ctx, plan.Collection, plan.Stages)
	if err != nil {
		return nil, fmt.Errorf("cannot execute query on %s: %w", plan.Resource, err)
	}

	result = &Result{Limit: plan.Limit}
	if len(docs) > plan.Limit {
		docs = docs[:plan.Limit]
		result.HasNextPage = true
		last := docs[len(docs)-1]
		id, _ := uuid.Parse(fmt.Sprint(last[def.kind().IDField]))
		result.NextCursor = pagination.Cursor{Offset: plan.Offset + plan.Limit, ID: id}.Encode()
	}
	capability := e.capability(auth, def)
	if def.IsSystem() {
		keep := []string{def.kind().IDField}
		// computed sort values are not stored fields
		if request.Sort != nil && request.Sort.Field != sorting.FieldName && e.sorter.IsVirtual(request.Sort.Field) {
			keep = append(keep, request.Sort.Field)
		}
		result.Records = access.ProjectAllFields(docs, capability, keep...)
	} else {
		result.Records = access.ProjectAll(docs, capability)
	}
	return result, nil
}

// Authorize returns ErrNotAuthorized unless the caller of ctx may list
// the records of resource
func (e *Engine) Authorize(ctx context.Context, resource string) error {
	def, err := e.Resource(resource)
	if err != nil {
		return err
	}
	if e.authorizationEnabled && !access.AuthorizationFromContext(ctx).IsAuthorized(core.ActionList, def.Permits) {
		return fmt.Errorf("%w: %s %s", ErrNotAuthorized, core.ActionList, def.Resource)
	}
	return nil
}

// capability returns the field capability of auth for the resource
func (e *Engine) capability(auth *access.Authorization, def *ResourceDefinition) access.Capability {
	var capabilities []access.Capability
	if e.authorizationEnabled {
		capabilities = append(capabilities, auth.Capability(def.Permits))
	}
	if e.enforcer != nil {
		subjects := []string{"public"}
		if auth != nil {
			subjects = append(subjects, auth.Roles...)
			if auth.Identity != "" {
				subjects = append(subjects, auth.Identity)
			}
		}
		capabilities = append(capabilities, access.EnforcerCapability(e.enforcer, subjects, def.Resource))
	}
	if len(capabilities) == 0 {
		return access.AllowAll
	}
	return access.Combine(capabilities...)
}

// outcome classifies a query error for the metrics
func outcome(err error) string {
	var (
		filterError *filter.Error
		sortError   *sorting.Error
		exceeded    *pagination.LimitExceededError
		unresolved  *datexpr.UnresolvedDateError
		schemaError *fields.SchemaError
		unsupported *store.UnsupportedStageError
	)
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrNotAuthorized):
		return outcomeUnauthorized
	case errors.As(err, &unsupported):
		return outcomeError
	case errors.As(err, &filterError), errors.As(err, &sortError), errors.As(err, &exceeded),
		errors.As(err, &unresolved), errors.As(err, &schemaError),
		errors.Is(err, filter.ErrTooDeep), errors.Is(err, pagination.ErrInvalidPageSize),
		errors.Is(err, pagination.ErrInvalidCursor), errors.Is(err, ErrUnknownResource):
		return outcomeInvalid
	default:
		return outcomeError
	}
}

// IsBadRequest returns true if err is caused by an invalid request
func IsBadRequest(err error) bool {
	return err != nil && !errors.Is(err, ErrUnknownResource) && outcome(err) == outcomeInvalid
}
