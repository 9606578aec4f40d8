// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to the query API

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests. With NewWithURL the same
client talks to a remote service.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/resquery/core/access"
	"github.com/relabs-tech/resquery/core/fields"
	"github.com/relabs-tech/resquery/core/filter"
	"github.com/relabs-tech/resquery/core/sorting"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router: router,
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends token as bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminAuthorization returns a new client with admin authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken()))
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole("admin")
}

// WithRole returns a new client with role authorization
// (this works only directly against the mux router, for a normal client
//
//	use WithToken()))
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		Roles: []string{role},
	}
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = c.auth.ContextWithAuthorization(ctx)
	}
	return ctx
}

// StatusError is returned for unexpected status codes
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: handler returned wrong status code %d. Error: %s", e.Method, e.Path, e.Status, e.Body)
}

// do executes a request and decodes the response into result. Every status
// other than the expected ones is returned as *StatusError.
//
// body can also be a []byte, result can also be raw *[]byte.
// body and result can be nil.
func (c Client) do(method, path string, headers map[string]string, body interface{}, result interface{}, expected ...int) (int, http.Header, error) {
	var reader io.Reader
	if body != nil {
		j, ok := body.([]byte)
		if !ok {
			var err error
			if j, err = json.Marshal(body); err != nil {
				return http.StatusBadRequest, nil, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
		reader = bytes.NewBuffer(j)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range headers {
		r.Header.Add(key, value)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	var res *http.Response
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		if c.token != "" {
			r.Header.Add("Authorization", "Bearer "+c.token)
		}
		res, err = c.httpClient.Do(r)
		if err != nil {
			return http.StatusInternalServerError, nil, err
		}
		defer res.Body.Close()
		resBody, _ = io.ReadAll(res.Body)
	}

	status := res.StatusCode
	accepted := false
	for _, e := range expected {
		accepted = accepted || status == e
	}
	if !accepted {
		return status, res.Header, &StatusError{Method: method, Path: path, Status: status, Body: strings.TrimSpace(string(resBody))}
	}

	if len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, res.Header, err
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.do(http.MethodGet, path, nil, nil, result, http.StatusOK, http.StatusNoContent)
	return status, err
}

// RawGetWithHeader is like RawGet with additional request headers. It returns the
// response header.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	return c.do(http.MethodGet, path, header, nil, result, http.StatusOK, http.StatusNoContent, http.StatusNotModified)
}

// RawPost posts body to path. Expects http.StatusOK or http.StatusCreated as response,
// otherwise it will flag an error. Returns the actual http status code and the
// response header.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, http.Header, error) {
	return c.do(http.MethodPost, path, nil, body, result, http.StatusOK, http.StatusCreated)
}

// RawPut puts body to path. Expects http.StatusOK, http.StatusAccepted or
// http.StatusNoContent as response, otherwise it will flag an error.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	status, _, err := c.do(http.MethodPut, path, nil, body, result, http.StatusOK, http.StatusAccepted, http.StatusNoContent)
	return status, err
}

// Resource returns a client for one queryable resource
func (c Client) Resource(resource string) Resource {
	return Resource{client: c, resource: resource}
}

// Resource is a client for one queryable resource
type Resource struct {
	client   Client
	resource string
	filter   *filter.Node
	sort     *sorting.Descriptor
	limit    int
}

// WithFilter returns a new resource client which queries with filter
func (r Resource) WithFilter(node filter.Node) Resource {
	r.filter = &node
	return r
}

// WithSort returns a new resource client which sorts by field in direction
func (r Resource) WithSort(field, direction string) Resource {
	r.sort = &sorting.Descriptor{Field: field, Direction: direction}
	return r
}

// WithLimit returns a new resource client which requests pages of limit records
func (r Resource) WithLimit(limit int) Resource {
	r.limit = limit
	return r
}

// QueryPath returns the path of the GET query request for the first page
func (r Resource) QueryPath() string {
	return r.queryPath("")
}

func (r Resource) queryPath(cursor string) string {
	parameters := url.Values{}
	if r.filter != nil {
		j, _ := json.Marshal(r.filter)
		parameters.Set("filter", string(j))
	}
	if r.sort != nil {
		parameters.Set("sort", r.sort.Field)
		if r.sort.Direction != "" {
			parameters.Set("direction", r.sort.Direction)
		}
	}
	if r.limit != 0 {
		parameters.Set("limit", strconv.Itoa(r.limit))
	}
	if cursor != "" {
		parameters.Set("cursor", cursor)
	}
	path := "/" + r.resource + "/query"
	if len(parameters) > 0 {
		path += "?" + parameters.Encode()
	}
	return path
}

// FilterFields reads the filter fields of the resource
func (r Resource) FilterFields() (fields.FilterFields, error) {
	var result fields.FilterFields
	_, err := r.client.RawGet("/"+r.resource+"/filter-fields", &result)
	return result, err
}

// Fields reads the field definitions of the resource
func (r Resource) Fields() ([]fields.Descriptor, error) {
	var result []fields.Descriptor
	_, err := r.client.RawGet("/"+r.resource+"/fields", &result)
	return result, err
}

// UpdateFields replaces the field definitions of the resource
func (r Resource) UpdateFields(descriptors []fields.Descriptor) (int, error) {
	return r.client.RawPut("/"+r.resource+"/fields", descriptors, nil)
}

// Plan reads the storage pipeline of the query without executing it
func (r Resource) Plan(result interface{}) (int, error) {
	return r.client.RawGet(strings.Replace(r.QueryPath(), "/query", "/plan", 1), result)
}

// FirstPage returns the first page of the query. Pages are requested with
// Get, the following page with Next.
func (r Resource) FirstPage() Page {
	return Page{r: r, first: true}
}

// Page is one page of query results
type Page struct {
	r          Resource
	first      bool
	cursor     string
	nextCursor string
	limit      int
}

// HasData returns true if the page may have data (by definition true for the first page)
func (p Page) HasData() bool {
	return p.first || p.cursor != ""
}

// Limit returns the applied page size (only available after you have called Get on the page)
func (p Page) Limit() int {
	return p.limit
}

// Get gets one page of the query
func (p *Page) Get(result interface{}) (int, error) {
	status, header, err := p.r.client.RawGetWithHeader(p.r.queryPath(p.cursor), nil, result)
	if err != nil {
		return status, err
	}
	p.nextCursor = header.Get("Pagination-Next-Cursor")
	if limit, err := strconv.Atoi(header.Get("Pagination-Limit")); err == nil {
		p.limit = limit
	}
	return status, nil
}

// Next returns the next page. The next page has no data if the current page
// was the last one.
func (p Page) Next() Page {
	return Page{r: p.r, cursor: p.nextCursor}
}
