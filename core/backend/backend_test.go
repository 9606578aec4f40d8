package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/resquery/core/access"
	"github.com/relabs-tech/resquery/core/fields"
	"github.com/relabs-tech/resquery/core/pagination"
	"github.com/relabs-tech/resquery/core/pipeline"
	"github.com/relabs-tech/resquery/core/query"
	"github.com/relabs-tech/resquery/core/store"
)

var configurationJSON = `{
	"max_pagination_limit": 50,
	"default_page_size": 2,
	"resources": [
	  {
		"resource": "patient",
		"description": "patients of the clinic",
		"fields": [
		  {"name": "name", "type": "string"},
		  {"name": "age", "type": "number"},
		  {"name": "diagnosis", "type": "string"}
		],
		"permits": [
		  {"role": "doctor", "operations": ["read", "list"]},
		  {"role": "clerk", "operations": ["read", "list"], "fields": ["data.name"]}
		]
	  },
	  {
		"resource": "form",
		"collection": "forms",
		"core": true,
		"fields": [{"name": "name", "type": "string"}],
		"permits": [{"role": "public", "operations": ["read", "list"]}]
	  }
	]
}`

var jwtSecret = []byte("secret")

type testPublisher struct {
	resource    string
	descriptors []fields.Descriptor
}

func (p *testPublisher) Publish(ctx context.Context, resource string, descriptors []fields.Descriptor) error {
	if _, err := fields.Compile(descriptors); err != nil {
		return err
	}
	p.resource, p.descriptors = resource, descriptors
	return nil
}

type testService struct {
	backend *Backend
	engine  *query.Engine
	router  *mux.Router
}

func newTestService(t *testing.T, authorization bool, publisher FieldPublisher) *testService {
	t.Helper()
	config, err := ParseConfiguration([]byte(configurationJSON))
	require.NoError(t, err)

	memory := store.NewMemory()
	for i, patient := range []map[string]interface{}{
		{"name": "Alice", "age": 30.0, "diagnosis": "flu"},
		{"name": "Bob", "age": 17.0, "diagnosis": "cold"},
		{"name": "Carol", "age": 64.0, "diagnosis": "fracture"},
	} {
		memory.Insert(query.RecordsCollection, pipeline.Document{
			"id": uuid.NewString(), "resource": "patient", "data": patient, "order": float64(i),
		})
	}
	memory.Insert("forms", pipeline.Document{"id": uuid.NewString(), "name": "Intake"})

	engine, err := query.New(context.Background(), &query.Builder{
		Resources:            config.Resources,
		Executor:             memory,
		Settings:             config.Settings(query.Settings{}),
		AuthorizationEnabled: authorization,
	})
	require.NoError(t, err)

	router := mux.NewRouter()
	b := New(&Builder{
		Engine:               engine,
		Router:               router,
		AuthorizationEnabled: authorization,
		Jwt:                  &access.JwtMiddlewareBuilder{Secret: jwtSecret},
		FieldPublisher:       publisher,
	})
	return &testService{backend: b, engine: engine, router: router}
}

type request struct {
	method string
	path   string
	body   string
	roles  []string
	header map[string]string
}

func (s *testService) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	if req.method == "" {
		req.method = http.MethodGet
	}
	r := httptest.NewRequest(req.method, req.path, strings.NewReader(req.body))
	if req.roles != nil {
		token, err := access.NewToken(jwtSecret, "", "tester@example.com", req.roles, 0)
		require.NoError(t, err)
		r.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range req.header {
		r.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func records(t *testing.T, w *httptest.ResponseRecorder) []map[string]interface{} {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func names(records []map[string]interface{}) []string {
	var result []string
	for _, r := range records {
		data, _ := r["data"].(map[string]interface{})
		name, _ := data["name"].(string)
		result = append(result, name)
	}
	return result
}

func filterParameter(filter string) string {
	return "filter=" + url.QueryEscape(filter)
}

func TestQuery_Get(t *testing.T) {
	s := newTestService(t, false, nil)

	w := s.do(t, request{path: "/patient/query?" + filterParameter(`{"field":"age_gte","value":18}`) + "&sort=name&direction=asc"})
	assert.Equal(t, []string{"Alice", "Carol"}, names(records(t, w)))
	assert.Equal(t, "2", w.Header().Get("Pagination-Limit"))
	assert.Empty(t, w.Header().Get("Pagination-Next-Cursor"))
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	w = s.do(t, request{path: "/patient/query?sort=" + url.QueryEscape(`{"age":"desc"}`) + "&limit=1"})
	assert.Equal(t, []string{"Carol"}, names(records(t, w)))
	cursor := w.Header().Get("Pagination-Next-Cursor")
	require.NotEmpty(t, cursor)
	decoded, err := pagination.DecodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.Offset)

	w = s.do(t, request{path: "/patient/query?sort=age&direction=desc&limit=1&cursor=" + url.QueryEscape(cursor)})
	assert.Equal(t, []string{"Alice"}, names(records(t, w)))

	// system resources keep their fields at the top level
	w = s.do(t, request{path: "/form/query?" + filterParameter(`{"field":"name","value":"Intake"}`)})
	assert.Len(t, records(t, w), 1)
}

func TestQuery_Post(t *testing.T) {
	s := newTestService(t, false, nil)

	body := `{
		"filter": {"logic": "or", "filters": [
			{"field": "age_lt", "value": 18},
			{"field": "q", "value": "fract"}
		]},
		"sort": {"field": "name", "direction": "desc"},
		"limit": 5
	}`
	w := s.do(t, request{method: http.MethodPost, path: "/patient/query", body: body})
	assert.Equal(t, []string{"Carol", "Bob"}, names(records(t, w)))
	assert.Equal(t, "5", w.Header().Get("Pagination-Limit"))

	// an empty body selects everything with the default page size
	w = s.do(t, request{method: http.MethodPost, path: "/patient/query"})
	assert.Len(t, records(t, w), 2)
	assert.NotEmpty(t, w.Header().Get("Pagination-Next-Cursor"))
}

func TestQuery_Errors(t *testing.T) {
	s := newTestService(t, false, nil)

	tests := []struct {
		name   string
		req    request
		status int
	}{
		{"unknown resource", request{path: "/doctor/query"}, http.StatusNotFound},
		{"malformed filter", request{path: "/patient/query?filter=%7Bnope"}, http.StatusBadRequest},
		{"unknown filter key", request{path: "/patient/query?" + filterParameter(`{"field":"height_gt","value":3}`)}, http.StatusBadRequest},
		{"limit above ceiling", request{path: "/patient/query?limit=51"}, http.StatusBadRequest},
		{"negative limit", request{path: "/patient/query?limit=-1"}, http.StatusBadRequest},
		{"limit not a number", request{path: "/patient/query?limit=ten"}, http.StatusBadRequest},
		{"invalid cursor", request{path: "/patient/query?cursor=garbage"}, http.StatusBadRequest},
		{"unknown parameter", request{path: "/patient/query?page=2"}, http.StatusBadRequest},
		{"malformed body", request{method: http.MethodPost, path: "/patient/query", body: "[1,2"}, http.StatusBadRequest},
		{"malformed sort", request{method: http.MethodPost, path: "/patient/query", body: `{"sort": {"a":"asc","b":"desc"}}`}, http.StatusBadRequest},
		{"unknown resource plan", request{path: "/doctor/plan"}, http.StatusNotFound},
		{"unknown resource filter fields", request{path: "/doctor/filter-fields"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestFilterFields(t *testing.T) {
	s := newTestService(t, false, nil)

	w := s.do(t, request{path: "/patient/filter-fields"})
	require.Equal(t, http.StatusOK, w.Code)
	var filterFields map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &filterFields))
	for _, key := range []string{"name", "age", "age_lt", "age_lte", "age_gt", "age_gte", "diagnosis", "q", "ids"} {
		assert.Contains(t, filterFields, key)
	}
	assert.NotContains(t, filterFields, "name_lt")

	// etags allow conditional requests
	etag := w.Header().Get("Etag")
	require.NotEmpty(t, etag)
	w = s.do(t, request{path: "/patient/filter-fields", header: map[string]string{"If-None-Match": etag}})
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestPlan(t *testing.T) {
	s := newTestService(t, false, nil)

	w := s.do(t, request{
		method: http.MethodPost,
		path:   "/patient/plan",
		body:   `{"filter": {"field": "age_lt", "value": 65}, "sort": {"age": "desc"}, "limit": 20}`,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var plan map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	assert.Equal(t, "records", plan["collection"])
	assert.Equal(t, 20.0, plan["limit"])
	stages, ok := plan["pipeline"].([]interface{})
	require.True(t, ok)
	assert.Len(t, stages, 4)
}

func TestAuthorization(t *testing.T) {
	s := newTestService(t, true, nil)

	w := s.do(t, request{path: "/patient/query"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, request{path: "/patient/query", roles: []string{"visitor"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, request{path: "/patient/query", header: map[string]string{"Authorization": "Bearer invalid"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, request{path: "/patient/query?limit=5", roles: []string{"doctor"}})
	for _, record := range records(t, w) {
		assert.Contains(t, record["data"], "diagnosis")
	}

	w = s.do(t, request{path: "/patient/query?limit=5", roles: []string{"clerk"}})
	clerkRecords := records(t, w)
	assert.Len(t, clerkRecords, 3)
	for _, record := range clerkRecords {
		assert.Equal(t, []interface{}{"name"}, keys(record["data"]))
	}

	// fields the clerk cannot read cannot be filtered either
	w = s.do(t, request{path: "/patient/query?" + filterParameter(`{"field":"diagnosis","value":"flu"}`), roles: []string{"clerk"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, request{path: "/patient/query?" + filterParameter(`{"field":"diagnosis","value":"flu"}`), roles: []string{"doctor"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, records(t, w), 1)

	w = s.do(t, request{path: "/patient/plan", roles: []string{"visitor"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, request{path: "/patient/filter-fields"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// public permits need no token
	w = s.do(t, request{path: "/form/query"})
	assert.Len(t, records(t, w), 1)

	// administrative routes need the admin role
	w = s.do(t, request{path: "/resquery/statistics", roles: []string{"doctor"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(t, request{path: "/resquery/statistics", roles: []string{"admin"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func keys(value interface{}) []interface{} {
	m, _ := value.(map[string]interface{})
	var result []interface{}
	for key := range m {
		result = append(result, key)
	}
	return result
}

func TestFields(t *testing.T) {
	s := newTestService(t, true, nil)
	admin := []string{"admin"}

	w := s.do(t, request{path: "/patient/fields", roles: admin})
	require.Equal(t, http.StatusOK, w.Code)
	var descriptors []fields.Descriptor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &descriptors))
	assert.Len(t, descriptors, 3)

	update := `[{"name": "name", "type": "string"}, {"name": "born", "type": "date"}]`
	w = s.do(t, request{method: http.MethodPut, path: "/patient/fields", body: update, roles: []string{"doctor"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, request{method: http.MethodPut, path: "/patient/fields", body: update, roles: admin})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "born_gte")

	filterFields, err := s.engine.FilterFields("patient")
	require.NoError(t, err)
	assert.NotContains(t, filterFields, "age")

	invalid := []struct {
		path   string
		body   string
		status int
	}{
		{"/patient/fields", `[{"name": "x", "type": "colour"}]`, http.StatusBadRequest},
		{"/patient/fields", `{"name": "x"}`, http.StatusBadRequest},
		{"/form/fields", update, http.StatusBadRequest},
		{"/doctor/fields", update, http.StatusNotFound},
	}
	for _, tt := range invalid {
		w = s.do(t, request{method: http.MethodPut, path: tt.path, body: tt.body, roles: admin})
		assert.Equal(t, tt.status, w.Code, tt.body)
	}
}

func TestFields_Publisher(t *testing.T) {
	publisher := &testPublisher{}
	s := newTestService(t, false, publisher)

	w := s.do(t, request{method: http.MethodPut, path: "/patient/fields", body: `[{"name": "born", "type": "date"}]`})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "patient", publisher.resource)
	assert.Equal(t, []fields.Descriptor{{Name: "born", Type: fields.Date}}, publisher.descriptors)

	// published updates are applied by the consumers, not by the request
	filterFields, err := s.engine.FilterFields("patient")
	require.NoError(t, err)
	assert.NotContains(t, filterFields, "born_gte")

	w = s.do(t, request{method: http.MethodPut, path: "/patient/fields", body: `[{"name": "x", "type": "colour"}]`})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// core resources are rejected before publishing
	publisher.resource = ""
	w = s.do(t, request{method: http.MethodPut, path: "/form/fields", body: `[{"name": "born", "type": "date"}]`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, publisher.resource)
}

func TestVersion(t *testing.T) {
	s := newTestService(t, false, nil)
	var version struct {
		Version string `json:"version"`
	}
	w := s.do(t, request{path: "/resquery/version"})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &version))
	assert.Equal(t, "unset", version.Version)

	Version = "another version"
	defer func() { Version = "unset" }()
	w = s.do(t, request{path: "/resquery/version"})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &version))
	assert.Equal(t, "another version", version.Version)
}

func TestStatistics(t *testing.T) {
	s := newTestService(t, false, nil)
	w := s.do(t, request{path: "/resquery/statistics"})
	require.Equal(t, http.StatusOK, w.Code)

	var statistics statisticsDetails
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statistics))
	assert.Equal(t, 50, statistics.Settings.MaxPaginationLimit)
	require.Len(t, statistics.Resources, 2)
	assert.Equal(t, resourceStatistics{
		Resource: "form", Collection: "forms", System: true, Core: true, Fields: 1, FilterFields: 3,
	}, statistics.Resources[0])
	assert.Equal(t, "patient", statistics.Resources[1].Resource)
	assert.Equal(t, "records", statistics.Resources[1].Collection)
}

func TestMetrics(t *testing.T) {
	s := newTestService(t, false, nil)
	s.do(t, request{path: "/patient/query"})
	s.do(t, request{path: "/patient/query?limit=1000"})

	w := s.do(t, request{path: "/metrics"})
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `resquery_queries_total{outcome="ok",resource="patient"} 1`)
	assert.Contains(t, body, `resquery_queries_total{outcome="invalid",resource="patient"} 1`)
	assert.Contains(t, body, `resquery_rejected_page_sizes_total{resource="patient"} 1`)
}

func TestCORS(t *testing.T) {
	s := newTestService(t, false, nil)
	w := s.do(t, request{method: http.MethodOptions, path: "/patient/query"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Pagination-Next-Cursor")
}

func TestWriteError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/patient/query", nil)
	w := httptest.NewRecorder()
	writeError(w, r, errors.New("database is down"), "4799")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error 4799\n", w.Body.String())

	w = httptest.NewRecorder()
	writeError(w, r, context.Canceled, "4799")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNew_Panics(t *testing.T) {
	assert.Panics(t, func() { New(&Builder{Router: mux.NewRouter()}) })
}
