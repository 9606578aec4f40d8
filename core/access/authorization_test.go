package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/resquery/core"
	"github.com/relabs-tech/resquery/core/pipeline"
)

func TestAuthorization_Admin(t *testing.T) {
	auth := &Authorization{Roles: []string{"admin"}}
	if !auth.IsAuthorized(core.ActionList, nil) {
		t.Fatal("admin not authorized")
	}
	assert.True(t, auth.Capability(nil)(core.ActionRead, nil, "data.secret"))

	// explicit admin permits restrict the admin
	permits := []Permit{{Role: "admin", Operations: []core.Action{core.ActionList}}}
	assert.True(t, auth.IsAuthorized(core.ActionList, permits))
	assert.False(t, auth.IsAuthorized(core.ActionRead, permits))
}

func TestAuthorization_Public(t *testing.T) {
	auth := &Authorization{Roles: []string{"someone"}}
	permits := []Permit{{Role: "public", Operations: []core.Action{core.ActionRead}}}

	if auth.IsAuthorized(core.ActionList, permits) {
		t.Fatal("public should not list")
	}
	if !auth.IsAuthorized(core.ActionRead, permits) {
		t.Fatal("public not authorized for read")
	}

	// now try without any authorization, this should also work
	auth = nil
	if auth.IsAuthorized(core.ActionList, permits) {
		t.Fatal("public should not list")
	}
	if !auth.IsAuthorized(core.ActionRead, permits) {
		t.Fatal("public not authorized for read")
	}
}

func TestAuthorization_Everybody(t *testing.T) {
	auth := &Authorization{Roles: []string{"someone"}}
	permits := []Permit{{Role: "everybody", Operations: []core.Action{core.ActionRead}}}

	if !auth.IsAuthorized(core.ActionRead, permits) {
		t.Fatal("everybody not authorized for read")
	}

	// now try without any authorization, this should not work
	auth = nil
	if auth.IsAuthorized(core.ActionRead, permits) {
		t.Fatal("public should not be authorized for read")
	}
}

func TestAuthorization_FieldCapability(t *testing.T) {
	permits := []Permit{
		{Role: "doctor", Operations: []core.Action{core.ActionRead, core.ActionList}, Fields: []string{"data.*"}},
		{Role: "clerk", Operations: []core.Action{core.ActionRead, core.ActionList}, Fields: []string{"data.name", "data.age"}},
	}
	tests := []struct {
		roles    []string
		field    string
		expected bool
	}{
		{[]string{"doctor"}, "data.diagnosis", true},
		{[]string{"clerk"}, "data.name", true},
		{[]string{"clerk"}, "data.diagnosis", false},
		{[]string{"clerk", "doctor"}, "data.diagnosis", true},
		{[]string{"visitor"}, "data.name", false},
		{[]string{"admin"}, "data.diagnosis", true},
	}
	for _, tt := range tests {
		auth := &Authorization{Roles: tt.roles}
		assert.Equal(t, tt.expected, auth.Capability(permits)(core.ActionRead, nil, tt.field), "%v %s", tt.roles, tt.field)
	}
}

func TestAuthorization_Context(t *testing.T) {
	assert.Nil(t, AuthorizationFromContext(context.Background()))
	auth := &Authorization{Roles: []string{"a"}}
	ctx := auth.ContextWithAuthorization(context.Background())
	assert.Same(t, auth, AuthorizationFromContext(ctx))
	assert.True(t, AuthorizationFromContext(ctx).HasRole("a"))
	assert.False(t, AuthorizationFromContext(ctx).HasRole("b"))
}

func TestProject(t *testing.T) {
	record := pipeline.Document{
		"id":   "1",
		"data": map[string]interface{}{"name": "Alice", "age": 20.0, "diagnosis": "flu"},
	}
	noDiagnosis := func(_ core.Action, _ pipeline.Document, field string) bool {
		return field != "data.diagnosis"
	}

	projected := Project(record, noDiagnosis)
	assert.Equal(t, map[string]interface{}{"name": "Alice", "age": 20.0}, projected["data"])
	assert.Equal(t, "1", projected["id"])

	// the input is untouched
	assert.Len(t, record["data"], 3)

	// idempotence
	assert.Equal(t, projected, Project(projected, noDiagnosis))

	// no fabricated keys
	for key := range projected["data"].(map[string]interface{}) {
		assert.Contains(t, record["data"], key)
	}

	assert.Equal(t, map[string]interface{}{}, Project(record, DenyAll)["data"])
	assert.Equal(t, record["data"], Project(record, AllowAll)["data"])
	assert.Equal(t, record["data"], Project(record, nil)["data"])
	assert.Nil(t, Project(nil, AllowAll))

	withoutData := pipeline.Document{"id": "2"}
	assert.Equal(t, withoutData, Project(withoutData, DenyAll))
}

func TestProject_Idempotence(t *testing.T) {
	records := []pipeline.Document{
		{"id": "1", "data": map[string]interface{}{"a": 1, "b": 2, "c": 3}},
		{"id": "2", "data": map[string]interface{}{}},
		{"id": "3"},
		{"id": "4", "data": pipeline.Document{"a": "x", "secret": "y"}},
	}
	capabilities := []Capability{
		AllowAll,
		DenyAll,
		func(_ core.Action, _ pipeline.Document, field string) bool { return field == "data.a" },
		func(_ core.Action, record pipeline.Document, field string) bool { return record["id"] == "1" },
		(&Authorization{Roles: []string{"r"}}).Capability([]Permit{{Role: "r", Operations: []core.Action{core.ActionRead}, Fields: []string{"data.[ab]"}}}),
	}
	for _, capability := range capabilities {
		once := ProjectAll(records, capability)
		twice := ProjectAll(once, capability)
		assert.Equal(t, once, twice)
		for i := range records {
			assert.Equal(t, Project(records[i], capability), once[i])
		}
	}
}

func TestProjectFields(t *testing.T) {
	staff := pipeline.Document{"id": "s1", "name": "Bob", "salary": 99000.0}
	clerk := (&Authorization{Roles: []string{"clerk"}}).Capability([]Permit{
		{Role: "clerk", Operations: []core.Action{core.ActionRead, core.ActionList}, Fields: []string{"name"}},
	})

	projected := ProjectFields(staff, clerk, "id")
	assert.Equal(t, pipeline.Document{"id": "s1", "name": "Bob"}, projected)
	assert.Equal(t, projected, ProjectFields(projected, clerk, "id"))
	assert.Len(t, staff, 3)

	assert.Equal(t, pipeline.Document{"id": "s1"}, ProjectFields(staff, DenyAll, "id"))
	assert.Equal(t, pipeline.Document{}, ProjectFields(staff, DenyAll))
	assert.Equal(t, staff, ProjectFields(staff, nil))
	assert.Nil(t, ProjectFields(nil, AllowAll))

	all := ProjectAllFields([]pipeline.Document{staff, {"id": "s2", "salary": 1.0}}, clerk, "id")
	assert.Equal(t, []pipeline.Document{{"id": "s1", "name": "Bob"}, {"id": "s2"}}, all)
}

func TestAuthorization_SharedRoles(t *testing.T) {
	roles := make([]string, 1, 4)
	roles[0] = "clerk"
	auth := &Authorization{Roles: roles}
	permits := []Permit{
		{Role: "clerk", Operations: []core.Action{core.ActionList}},
		{Role: "public", Operations: []core.Action{core.ActionRead}},
	}
	assert.True(t, auth.IsAuthorized(core.ActionRead, permits))
	assert.True(t, auth.IsAuthorized(core.ActionList, permits))
	assert.Equal(t, []string{"clerk"}, auth.Roles)
	assert.Equal(t, "", roles[:2][1], "the backing array of the roles must not be written")
}

func TestEnforcerCapability(t *testing.T) {
	enforcer, err := NewEnforcer([]Policy{
		{Subject: "doctor", Resource: "patient", Field: "data.*", Action: "read"},
		{Subject: "clerk", Resource: "patient", Field: "data.name", Action: "read"},
		{Subject: "auditor", Resource: "*", Field: "data.*", Action: "read"},
	})
	require.NoError(t, err)

	record := pipeline.Document{"data": map[string]interface{}{"name": "Bob", "diagnosis": "flu"}}

	doctor := Project(record, EnforcerCapability(enforcer, []string{"doctor"}, "patient"))
	assert.Equal(t, record["data"], doctor["data"])

	clerk := Project(record, EnforcerCapability(enforcer, []string{"clerk"}, "patient"))
	assert.Equal(t, map[string]interface{}{"name": "Bob"}, clerk["data"])

	auditor := Project(record, EnforcerCapability(enforcer, []string{"auditor"}, "invoice"))
	assert.Equal(t, record["data"], auditor["data"])

	nobody := Project(record, EnforcerCapability(enforcer, []string{"visitor"}, "patient"))
	assert.Equal(t, map[string]interface{}{}, nobody["data"])

	combined := Combine(EnforcerCapability(enforcer, []string{"doctor"}, "patient"),
		func(_ core.Action, _ pipeline.Document, field string) bool { return field != "data.diagnosis" })
	assert.Equal(t, map[string]interface{}{"name": "Bob"}, Project(record, combined)["data"])
}

func TestJwtMiddleware(t *testing.T) {
	secret := []byte("secret")
	router := mux.NewRouter()
	router.Use(NewJwtMiddleware(&JwtMiddlewareBuilder{Secret: secret, Issuer: "resquery"}))

	var auth *Authorization
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		auth = AuthorizationFromContext(r.Context())
	})

	call := func(token string) int {
		auth = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call(""))
	assert.Nil(t, auth)

	token, err := NewToken(secret, "resquery", "alice", []string{"doctor"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, call(token))
	require.NotNil(t, auth)
	assert.Equal(t, "alice", auth.Identity)
	assert.True(t, auth.HasRole("doctor"))

	// cached path
	token, err = NewToken(secret, "resquery", "bob", []string{"clerk"}, 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, call(token))
	assert.Equal(t, http.StatusOK, call(token))
	assert.Equal(t, "bob", auth.Identity)

	wrongSecret, _ := NewToken([]byte("other"), "resquery", "eve", []string{"admin"}, time.Hour)
	assert.Equal(t, http.StatusUnauthorized, call(wrongSecret))

	wrongIssuer, _ := NewToken(secret, "someone", "eve", []string{"admin"}, time.Hour)
	assert.Equal(t, http.StatusUnauthorized, call(wrongIssuer))

	expired, _ := NewToken(secret, "resquery", "eve", []string{"admin"}, -time.Hour)
	assert.Equal(t, http.StatusUnauthorized, call(expired))

	assert.Equal(t, http.StatusUnauthorized, call("garbage"))
}
