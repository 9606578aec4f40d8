// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/resquery/core/logger"
	"github.com/relabs-tech/resquery/core/query"
)

// resourceStatistics represents information about a queryable resource
type resourceStatistics struct {
	Resource     string `json:"resource"`
	Description  string `json:"description,omitempty"`
	Collection   string `json:"collection"`
	System       bool   `json:"system"`
	Core         bool   `json:"core"`
	Fields       int    `json:"fields"`
	FilterFields int    `json:"filter_fields"`
}

// statisticsDetails represents information about the backend resources
type statisticsDetails struct {
	Settings  query.Settings       `json:"settings"`
	Resources []resourceStatistics `json:"resources"`
}

func (b *Backend) handleStatistics(router *mux.Router) {
	logger.Default().Debugln("  handle statistics route: /resquery/statistics GET")
	router.HandleFunc("/resquery/statistics", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.statisticsWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) statisticsWithAuth(w http.ResponseWriter, r *http.Request) {
	if !b.isAdmin(r) {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}
	s := statisticsDetails{
		Settings:  b.engine.Settings(),
		Resources: []resourceStatistics{}, // do not return null in json, but empty array
	}
	// Resources are sorted so that the ETag is unchanged regardless of the configuration order
	for _, resource := range b.engine.Resources() {
		def, err := b.engine.Resource(resource)
		if err != nil {
			writeError(w, r, err, "4028")
			return
		}
		descriptors, err := b.engine.Fields(resource)
		if err != nil {
			writeError(w, r, err, "4029")
			return
		}
		filterFields, err := b.engine.FilterFields(resource)
		if err != nil {
			writeError(w, r, err, "4030")
			return
		}
		collection := def.Collection
		if collection == "" {
			collection = query.RecordsCollection
		}
		s.Resources = append(s.Resources, resourceStatistics{
			Resource:     resource,
			Description:  def.Description,
			Collection:   collection,
			System:       def.IsSystem(),
			Core:         def.Core,
			Fields:       len(descriptors),
			FilterFields: len(filterFields),
		})
	}
	writeJSON(w, r, s)
}
