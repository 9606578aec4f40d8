/*
Package backend implements the REST surface of the query engine

Configuration

The configuration is JSON or YAML. It consists of optional query settings and
the list of queryable resources.

Example:
  {
	"max_pagination_limit": 100,
	"resources": [
	  {
		"resource": "patient",
		"fields": [
		  {"name": "name", "type": "string"},
		  {"name": "born", "type": "date"},
		  {"name": "tags", "type": "string", "multivalued": true}
		],
		"permits": [
		  {"role": "doctor", "operations": ["read", "list"]},
		  {"role": "clerk", "operations": ["list"], "fields": ["data.name"]}
		]
	  },
	  {
		"resource": "form",
		"collection": "forms",
		"core": true,
		"fields": [{"name": "name", "type": "string"}]
	  }
	]
  }

A resource without collection is a user resource. Its records live in the
shared collection "records", distinguished by the "resource" property, with
their fields below "data". A resource with collection is a system resource
with its fields at the top level of its documents. The fields of core
resources cannot be changed at runtime.

This configuration creates the following REST routes for every resource:
	GET /{resource}/filter-fields
	GET /{resource}/fields
	PUT /{resource}/fields
	GET /{resource}/query
	POST /{resource}/query
	GET /{resource}/plan
	POST /{resource}/plan

plus the administrative routes
	GET /resquery/version
	GET /resquery/statistics
	GET /metrics

Queries

GET requests take the query parameters "filter" (a JSON filter tree), "sort"
(a JSON sort descriptor or a field name, combined with "direction"), "limit"
and "cursor". POST requests take the same as JSON body:

	{
	  "filter": {"logic": "and", "filters": [{"field": "born_gte", "value": "-18y"}]},
	  "sort": {"field": "name", "direction": "asc"},
	  "limit": 20
	}

A query responds with the list of records and the headers:
	Pagination-Limit: the applied page size
	Pagination-Next-Cursor: the cursor of the next page, if there is one

The plan routes return the storage pipeline of a request without executing it.

Errors

Invalid filters, sort descriptors, page sizes and cursors result in
http.StatusBadRequest, unknown resources in http.StatusNotFound. Requests
without permit for a resource receive http.StatusUnauthorized when they are
not authenticated, http.StatusForbidden otherwise.

Field updates

PUT /{resource}/fields replaces the field definitions of a resource. It
requires the admin role when authorization is enabled. If the backend has a
FieldPublisher, the update is distributed to all instances and answered with
http.StatusAccepted.
*/
package backend
