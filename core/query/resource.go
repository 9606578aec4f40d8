// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package query

import (
	"github.com/relabs-tech/resquery/core/access"
	"github.com/relabs-tech/resquery/core/fields"
	"github.com/relabs-tech/resquery/core/sorting"
)

// RecordsCollection is the collection holding the records of all user
// resources
const RecordsCollection = "records"

// ResourceDefinition defines a queryable resource.
//
// A resource without Collection is a user resource: its records live in
// RecordsCollection, are scoped by their "resource" property and carry
// their field values in the "data" object. A resource with Collection is a
// system resource whose documents keep their fields at the top level. The
// field definitions of core resources cannot be updated at runtime.
type ResourceDefinition struct {
	Resource    string              `json:"resource" yaml:"resource"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Collection  string              `json:"collection,omitempty" yaml:"collection,omitempty"`
	Core        bool                `json:"core,omitempty" yaml:"core,omitempty"`
	Fields      []fields.Descriptor `json:"fields" yaml:"fields"`
	Permits     []access.Permit     `json:"permits,omitempty" yaml:"permits,omitempty"`
	Kind        sorting.Kind        `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// IsSystem returns true if the resource lives in its own collection
func (r *ResourceDefinition) IsSystem() bool {
	return r.Collection != ""
}

// collection returns the collection queried for the resource
func (r *ResourceDefinition) collection() string {
	if r.IsSystem() {
		return r.Collection
	}
	return RecordsCollection
}

// dataPath returns the path of the object holding the field values
func (r *ResourceDefinition) dataPath() string {
	if r.IsSystem() {
		return ""
	}
	return access.DataKey
}

// fieldPath returns the path of field as addressed by capabilities
func (r *ResourceDefinition) fieldPath(field string) string {
	if r.IsSystem() {
		return field
	}
	return access.DataKey + "." + field
}

// kind returns the sort kind of the resource. The name of user records is
// a field of their data object.
func (r *ResourceDefinition) kind() sorting.Kind {
	kind := r.Kind
	if kind.NameField == "" && !r.IsSystem() {
		kind.NameField = access.DataKey + "." + sorting.DefaultKind.NameField
	}
	return kind.WithDefaults()
}
