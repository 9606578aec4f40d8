// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/resquery/core/fields"
	"github.com/relabs-tech/resquery/core/filter"
	"github.com/relabs-tech/resquery/core/query"
	"github.com/relabs-tech/resquery/core/sorting"
)

// queryBody is the body of POST query and plan requests
type queryBody struct {
	Filter json.RawMessage `json:"filter,omitempty"`
	Sort   json.RawMessage `json:"sort,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Cursor string          `json:"cursor,omitempty"`
}

func isEmpty(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// parseRequest reads a query request from the query parameters of a GET
// request or from the body of a POST request. Parse errors are returned
// as the errors of package filter and sorting, like the engine does.
func parseRequest(r *http.Request) (query.Request, error) {
	request := query.Request{Resource: mux.Vars(r)["resource"]}
	var body queryBody

	if r.Method == http.MethodPost {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return request, err
		}
		if !isEmpty(data) {
			if err := json.Unmarshal(data, &body); err != nil {
				return request, &filter.Error{Reason: "invalid request body", Err: err}
			}
		}
	} else {
		for key, values := range r.URL.Query() {
			value := values[0]
			switch key {
			case "filter":
				body.Filter = json.RawMessage(value)
			case "sort":
				if strings.HasPrefix(strings.TrimSpace(value), "{") {
					body.Sort = json.RawMessage(value)
					continue
				}
				sortJSON, _ := json.Marshal(sorting.Descriptor{Field: value, Direction: r.URL.Query().Get("direction")})
				body.Sort = sortJSON
			case "direction":
			case "limit":
				limit, err := strconv.Atoi(value)
				if err != nil {
					return request, &filter.Error{Reason: "parameter 'limit': " + err.Error()}
				}
				body.Limit = limit
			case "cursor":
				body.Cursor = value
			default:
				return request, &filter.Error{Reason: "parameter '" + key + "': unknown query parameter"}
			}
		}
	}

	if !isEmpty(body.Filter) {
		node, err := filter.Parse(body.Filter)
		if err != nil {
			return request, err
		}
		request.Filter = node
	}
	if !isEmpty(body.Sort) {
		descriptor, err := sorting.Parse(body.Sort)
		if err != nil {
			return request, err
		}
		request.Sort = descriptor
	}
	request.Limit = body.Limit
	request.Cursor = body.Cursor
	return request, nil
}

func (b *Backend) query(w http.ResponseWriter, r *http.Request) {
	request, err := parseRequest(r)
	if err != nil {
		writeError(w, r, err, "4761")
		return
	}
	result, err := b.engine.Query(r.Context(), request)
	if err != nil {
		writeError(w, r, err, "4762")
		return
	}

	w.Header().Set("Pagination-Limit", strconv.Itoa(result.Limit))
	if result.HasNextPage {
		w.Header().Set("Pagination-Next-Cursor", result.NextCursor)
	}
	writeJSON(w, r, result.Records)
}

func (b *Backend) plan(w http.ResponseWriter, r *http.Request) {
	request, err := parseRequest(r)
	if err != nil {
		writeError(w, r, err, "4763")
		return
	}
	if err := b.engine.Authorize(r.Context(), request.Resource); err != nil {
		writeError(w, r, err, "4764")
		return
	}
	plan, err := b.engine.Plan(r.Context(), request)
	if err != nil {
		writeError(w, r, err, "4765")
		return
	}
	writeJSON(w, r, plan.Describe())
}

func (b *Backend) filterFields(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]
	if err := b.engine.Authorize(r.Context(), resource); err != nil {
		writeError(w, r, err, "4766")
		return
	}
	filterFields, err := b.engine.FilterFields(resource)
	if err != nil {
		writeError(w, r, err, "4767")
		return
	}
	writeJSON(w, r, filterFields)
}

func (b *Backend) getFields(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]
	if err := b.engine.Authorize(r.Context(), resource); err != nil {
		writeError(w, r, err, "4768")
		return
	}
	descriptors, err := b.engine.Fields(resource)
	if err != nil {
		writeError(w, r, err, "4769")
		return
	}
	writeJSON(w, r, descriptors)
}

// putFields replaces the field definitions of a resource. With a publisher
// the update is distributed and answered with http.StatusAccepted.
func (b *Backend) putFields(w http.ResponseWriter, r *http.Request) {
	if !b.isAdmin(r) {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}
	resource := mux.Vars(r)["resource"]
	def, err := b.engine.Resource(resource)
	if err != nil {
		writeError(w, r, err, "4770")
		return
	}
	if def.Core {
		writeError(w, r, fmt.Errorf("%w: the fields of %s cannot be changed", query.ErrCoreResource, resource), "4770")
		return
	}

	var descriptors []fields.Descriptor
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, err, "4771")
		return
	}
	if err := json.Unmarshal(data, &descriptors); err != nil {
		http.Error(w, "invalid field definitions: "+err.Error(), http.StatusBadRequest)
		return
	}

	if b.publisher != nil {
		if err := b.publisher.Publish(r.Context(), resource, descriptors); err != nil {
			writeError(w, r, err, "4772")
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := b.engine.UpdateFields(r.Context(), resource, descriptors); err != nil {
		writeError(w, r, err, "4773")
		return
	}
	filterFields, err := b.engine.FilterFields(resource)
	if err != nil {
		writeError(w, r, err, "4774")
		return
	}
	writeJSON(w, r, filterFields)
}
