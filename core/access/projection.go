// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"github.com/relabs-tech/resquery/core"
	"github.com/relabs-tech/resquery/core/pipeline"
)

// DataKey is the key of the field data map of a record
const DataKey = "data"

// Capability answers whether the caller may perform action on field of
// record. Fields of records are addressed as "data.<key>", top level fields
// of system documents as "<key>". A nil capability allows everything.
type Capability func(action core.Action, record pipeline.Document, field string) bool

// AllowAll is the capability which allows every action on every field
func AllowAll(core.Action, pipeline.Document, string) bool { return true }

// DenyAll is the capability which allows nothing
func DenyAll(core.Action, pipeline.Document, string) bool { return false }

// Project returns a copy of record whose data map only contains the keys
// readable according to capability. Unreadable keys are omitted. The input
// record is not modified and no keys are added.
func Project(record pipeline.Document, capability Capability) pipeline.Document {
	if record == nil {
		return nil
	}
	result := record.Clone()
	data, ok := record.Object(DataKey)
	if !ok {
		return result
	}
	projected := make(map[string]interface{}, len(data))
	for key, value := range data {
		if capability == nil || capability(core.ActionRead, record, DataKey+"."+key) {
			projected[key] = value
		}
	}
	result[DataKey] = projected
	return result
}

// ProjectAll projects every record with Project
func ProjectAll(records []pipeline.Document, capability Capability) []pipeline.Document {
	result := make([]pipeline.Document, len(records))
	for i, record := range records {
		result[i] = Project(record, capability)
	}
	return result
}

// ProjectFields returns a copy of record which only contains the top level
// keys readable according to capability. The keys in keep are always
// retained. The input record is not modified.
func ProjectFields(record pipeline.Document, capability Capability, keep ...string) pipeline.Document {
	if record == nil {
		return nil
	}
	result := make(pipeline.Document, len(record))
	for key, value := range record {
		if capability == nil || contains(keep, key) || capability(core.ActionRead, record, key) {
			result[key] = value
		}
	}
	return result
}

// ProjectAllFields projects every record with ProjectFields
func ProjectAllFields(records []pipeline.Document, capability Capability, keep ...string) []pipeline.Document {
	result := make([]pipeline.Document, len(records))
	for i, record := range records {
		result[i] = ProjectFields(record, capability, keep...)
	}
	return result
}

func contains(list []string, s string) bool {
	for _, element := range list {
		if element == s {
			return true
		}
	}
	return false
}
