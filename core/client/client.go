/*
Package client provides easy and fast in-process access to the resource API

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice for unit tests. Created with NewWithURL, the same client talks
to a remote server.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/tenantkit/core"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	caller     *core.Caller
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithCaller() adds a caller to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := maps.Clone(c.defaultHeaders)
	if headers == nil {
		headers = map[string]string{}
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends token as bearer authorization
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithCaller returns a new client which issues its requests as caller
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithCaller(caller *core.Caller) Client {
	c.caller = caller
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the base context of requests
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.caller != nil {
		ctx = c.caller.ContextWithCaller(ctx)
	}
	return ctx
}

// Response is the raw response of a request
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into result. result can also be raw *[]byte.
func (r *Response) Decode(result any) error {
	if len(r.Body) == 0 || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = r.Body
		return nil
	}
	return json.Unmarshal(r.Body, result)
}

// Message returns the message of an error response
func (r *Response) Message() string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return strings.TrimSpace(string(r.Body))
	}
	return body.Message
}

// Do executes a request. body can be nil, a []byte, an io.Reader or any value which is
// marshalled as JSON.
func (c Client) Do(method, path string, header map[string]string, body any) (*Response, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case io.Reader:
		reader = b
	default:
		j, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s to %s: %w", method, path, err)
		}
		reader = bytes.NewReader(j)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: rec.Body.Bytes()}, nil
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: resBody}, nil
}

// expect executes a request and flags an error if the status is not one of expected
func (c Client) expect(method, path string, header map[string]string, body, result any, expected ...int) (int, http.Header, error) {
	res, err := c.Do(method, path, header, body)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	ok := false
	for _, status := range expected {
		ok = ok || res.StatusCode == status
	}
	if !ok {
		return res.StatusCode, res.Header, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			res.StatusCode, expected[0], strings.TrimSpace(string(res.Body)))
	}
	if res.StatusCode == http.StatusNoContent || res.StatusCode == http.StatusNotModified {
		return res.StatusCode, res.Header, nil
	}
	return res.StatusCode, res.Header, res.Decode(result)
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]any or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result any) (int, error) {
	status, _, err := c.expect(http.MethodGet, path, nil, nil, result, http.StatusOK)
	return status, err
}

// RawGetWithHeader gets the resource from path. Expects http.StatusOK or
// http.StatusNotModified as response, otherwise it will flag an error. Returns the actual
// http status code and the header.
func (c Client) RawGetWithHeader(path string, header map[string]string, result any) (int, http.Header, error) {
	return c.expect(http.MethodGet, path, header, nil, result, http.StatusOK, http.StatusNotModified)
}

// RawPost posts a resource to path. Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body any, result any) (int, error) {
	return c.RawPostWithHeader(path, nil, body, result)
}

// RawPostWithHeader posts a resource to path with additional headers
func (c Client) RawPostWithHeader(path string, header map[string]string, body any, result any) (int, error) {
	status, _, err := c.expect(http.MethodPost, path, header, body, result, http.StatusCreated)
	return status, err
}

// RawPut puts a resource to path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawPut(path string, body any, result any) (int, error) {
	status, _, err := c.expect(http.MethodPut, path, nil, body, result, http.StatusOK)
	return status, err
}

// RawPatch patches a resource at path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawPatch(path string, body any, result any) (int, error) {
	status, _, err := c.expect(http.MethodPatch, path, nil, body, result, http.StatusOK)
	return status, err
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent as response, otherwise it will
// flag an error.
//
// Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	return c.RawDeleteWithBody(path, nil)
}

// RawDeleteWithBody is RawDelete with a request body
func (c Client) RawDeleteWithBody(path string, body any) (int, error) {
	status, _, err := c.expect(http.MethodDelete, path, nil, body, nil, http.StatusNoContent)
	return status, err
}

// File is a file of a multipart request
type File struct {
	Field    string
	Filename string
	Mime     string
	Data     []byte
}

// PostMultipart posts a multipart form with the fields and files to path. Expects
// http.StatusCreated as response, otherwise it will flag an error.
func (c Client) PostMultipart(path string, fields map[string]string, files []File, result any) (int, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return http.StatusBadRequest, err
		}
	}
	for _, file := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, file.Field, file.Filename))
		if file.Mime != "" {
			h.Set("Content-Type", file.Mime)
		}
		fw, err := w.CreatePart(h)
		if err != nil {
			return http.StatusBadRequest, err
		}
		if _, err = fw.Write(file.Data); err != nil {
			return http.StatusBadRequest, err
		}
	}
	w.Close()
	header := map[string]string{"Content-Type": w.FormDataContentType()}
	status, _, err := c.expect(http.MethodPost, path, header, b.Bytes(), result, http.StatusCreated)
	return status, err
}

// Resources represents the resources of one type of an app
type Resources struct {
	client     Client
	appID      int64
	typ        string
	parameters []string
}

// Resources returns a client for the resources of type resourceType in app appID
func (c Client) Resources(appID int64, resourceType string) Resources {
	return Resources{client: c, appID: appID, typ: resourceType}
}

// WithParameter returns a new resources client with a URL parameter added.
func (r Resources) WithParameter(key string, value string) Resources {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	// we want a true copy to avoid side effects
	r.parameters = append(append([]string{}, r.parameters...), parameter)
	return r
}

// Path returns the path of the resources, plus optional query strings
func (r Resources) Path() string {
	path := "/apps/" + strconv.FormatInt(r.appID, 10) + "/resources/" + url.PathEscape(r.typ)
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

func (r Resources) subPath(sub string) string {
	path, query, _ := strings.Cut(r.Path(), "?")
	path += sub
	if query != "" {
		path += "?" + query
	}
	return path
}

// Create creates one resource, or several if body is an array.
//
// The operation corresponds to a POST request.
//
// Expects http.StatusCreated as response.
func (r Resources) Create(body any, result any) (int, error) {
	return r.client.RawPost(r.Path(), body, result)
}

// List queries the resources, honoring the query parameters
func (r Resources) List(result any) (int, error) {
	return r.client.RawGet(r.Path(), result)
}

// Count counts the resources, honoring the $filter parameter
func (r Resources) Count() (int64, error) {
	var count int64
	_, err := r.client.RawGet(r.subPath("/$count"), &count)
	return count, err
}

// UpdateMany replaces all resources of body, each must contain its id
func (r Resources) UpdateMany(body any, result any) (int, error) {
	return r.client.RawPut(r.Path(), body, result)
}

// DeleteMany deletes the resources with ids
func (r Resources) DeleteMany(ids ...int64) (int, error) {
	return r.client.RawDeleteWithBody(r.Path(), ids)
}

// Item represents a single resource
type Item struct {
	resources Resources
	id        int64
}

// Item gets a single resource
func (r Resources) Item(id int64) Item {
	return Item{resources: r, id: id}
}

// Path returns the path of the item, plus optional query strings
func (i Item) Path() string {
	return i.resources.subPath("/" + strconv.FormatInt(i.id, 10))
}

// Read reads the resource. Expects http.StatusOK as response.
func (i Item) Read(result any) (int, error) {
	return i.resources.client.RawGet(i.Path(), result)
}

// History reads the versions of the resource, latest first
func (i Item) History(result any) (int, error) {
	return i.resources.client.RawGet(i.resources.subPath("/"+strconv.FormatInt(i.id, 10)+"/history"), result)
}

// Update replaces the resource
func (i Item) Update(body any, result any) (int, error) {
	return i.resources.client.RawPut(i.Path(), body, result)
}

// Patch merges body into the resource
func (i Item) Patch(body any, result any) (int, error) {
	return i.resources.client.RawPatch(i.Path(), body, result)
}

// Delete deletes the resource. Expects http.StatusNoContent as response.
func (i Item) Delete() (int, error) {
	return i.resources.client.RawDelete(i.Path())
}
