package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/resquery/core"
	"github.com/relabs-tech/resquery/core/access"
	"github.com/relabs-tech/resquery/core/fields"
	"github.com/relabs-tech/resquery/core/query"
	"github.com/relabs-tech/resquery/core/schema"
)

const configurationYAML = `
max_pagination_limit: 50
default_page_size: 2
resources:
  - resource: patient
    description: patients of the clinic
    fields:
      - {name: name, type: string}
      - {name: age, type: number}
      - {name: diagnosis, type: string}
    permits:
      - role: doctor
        operations: [read, list]
      - role: clerk
        operations: [read, list]
        fields: [data.name]
  - resource: form
    collection: forms
    core: true
    fields:
      - name: name
        type: string
    permits:
      - {role: public, operations: [read, list]}
`

func TestParseConfiguration(t *testing.T) {
	fromJSON, err := ParseConfiguration([]byte(configurationJSON))
	require.NoError(t, err)
	fromYAML, err := ParseConfiguration([]byte(configurationYAML))
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromYAML)

	require.Len(t, fromYAML.Resources, 2)
	patient := fromYAML.Resources[0]
	assert.Equal(t, "patient", patient.Resource)
	assert.False(t, patient.IsSystem())
	assert.Equal(t, fields.Descriptor{Name: "age", Type: fields.Number}, patient.Fields[1])
	assert.Equal(t, []core.Action{core.ActionRead, core.ActionList}, patient.Permits[1].Operations)
	assert.Equal(t, []string{"data.name"}, patient.Permits[1].Fields)

	form := fromYAML.Resources[1]
	assert.True(t, form.IsSystem())
	assert.True(t, form.Core)
}

func TestParseConfiguration_Invalid(t *testing.T) {
	documents := map[string]string{
		"json unknown type": `{"resources": [{"resource": "a", "fields": [{"name": "x", "type": "colour"}]}]}`,
		"json no resources": `{"max_pagination_limit": 10}`,
		"yaml unknown key":  "resources: []\ncolour: red\n",
		"yaml empty":        "",
		"yaml bad action":   "resources:\n  - resource: a\n    fields: []\n    permits: [{role: r, operations: [write]}]\n",
	}
	for name, document := range documents {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfiguration([]byte(document))
			var validationErr *schema.ValidationError
			assert.True(t, errors.As(err, &validationErr), "%v", err)
		})
	}

	_, err := ParseConfiguration([]byte("resources: [unclosed"))
	assert.Error(t, err)
	_, err = ParseConfiguration([]byte(`{"resources": [`))
	assert.Error(t, err)
}

func TestConfiguration_Enforcer(t *testing.T) {
	config, err := ParseConfiguration([]byte(configurationYAML))
	require.NoError(t, err)
	enforcer, err := config.Enforcer()
	require.NoError(t, err)
	assert.Nil(t, enforcer)

	config, err = ParseConfiguration([]byte(configurationYAML + `
policies:
  - {subject: nurse, resource: patient, field: "data.*", action: read}
  - {subject: public, resource: "*", field: data.name, action: read}
`))
	require.NoError(t, err)
	require.Len(t, config.Policies, 2)
	enforcer, err = config.Enforcer()
	require.NoError(t, err)
	require.NotNil(t, enforcer)

	nurse := access.EnforcerCapability(enforcer, []string{"nurse"}, "patient")
	assert.True(t, nurse(core.ActionRead, nil, "data.diagnosis"))
	public := access.EnforcerCapability(enforcer, []string{"public"}, "form")
	assert.True(t, public(core.ActionRead, nil, "data.name"))
	assert.False(t, public(core.ActionRead, nil, "data.age"))

	_, err = ParseConfiguration([]byte("resources: []\npolicies: [{subject: nurse, resource: patient, field: name, action: write}]\n"))
	var validationErr *schema.ValidationError
	assert.True(t, errors.As(err, &validationErr), "%v", err)
}

func TestConfiguration_Settings(t *testing.T) {
	config := Configuration{MaxPaginationLimit: 20}
	settings := config.Settings(query.Settings{DefaultPageSize: 50, StrictDates: true})
	assert.Equal(t, query.Settings{MaxPaginationLimit: 20, DefaultPageSize: 20, StrictDates: true}, settings)

	config = Configuration{DefaultPageSize: 5, StrictDates: true}
	settings = config.Settings(query.Settings{})
	assert.Equal(t, query.Settings{MaxPaginationLimit: 100, DefaultPageSize: 5, StrictDates: true}, settings)
}
