package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)


// REST access to the store
// GET <db><path>.json, PUT, POST (generated child key), DELETE


func DefaultApiSettings() *ApiSettings {
	return &ApiSettings{
		HttpTimeout: 30 * time.Second,
		HttpConnectTimeout: 5 * time.Second,
		HttpTlsTimeout: 5 * time.Second,
	}
}


type ApiSettings struct {
	// total time for one request. Not applied to the event stream.
	HttpTimeout time.Duration
	HttpConnectTimeout time.Duration
	HttpTlsTimeout time.Duration
}


type Api struct {
	ctx context.Context
	cancel context.CancelFunc

	databaseUrl string
	authToken string

	settings *ApiSettings

	client *http.Client
	streamClient *http.Client
}

func NewApiWithDefaults(ctx context.Context, databaseUrl string, authToken string) *Api {
	return NewApi(ctx, databaseUrl, authToken, DefaultApiSettings())
}

func NewApi(ctx context.Context, databaseUrl string, authToken string, settings *ApiSettings) *Api {
	cancelCtx, cancel := context.WithCancel(ctx)

	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: settings.HttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext: dialer.DialContext,
		TLSHandshakeTimeout: settings.HttpTlsTimeout,
	}

	return &Api{
		ctx: cancelCtx,
		cancel: cancel,
		databaseUrl: strings.TrimRight(databaseUrl, "/"),
		authToken: authToken,
		settings: settings,
		client: &http.Client{
			Transport: transport,
			Timeout: settings.HttpTimeout,
		},
		streamClient: &http.Client{
			Transport: transport,
		},
	}
}

func (self *Api) DatabaseUrl() string {
	return self.databaseUrl
}

func (self *Api) AuthToken() string {
	return self.authToken
}

// the REST url for a path, e.g. `/Members/1` -> `<db>/Members/1.json?auth=<token>`
func (self *Api) Url(path string) string {
	escapedSegments := []string{}
	for _, segment := range SplitPath(path) {
		escapedSegments = append(escapedSegments, url.PathEscape(segment))
	}
	u := fmt.Sprintf("%s/%s.json", self.databaseUrl, strings.Join(escapedSegments, "/"))
	if self.authToken != "" {
		u = fmt.Sprintf("%s?auth=%s", u, url.QueryEscape(self.authToken))
	}
	return u
}

// the subtree at `path`. A missing subtree is JSON `null`.
func (self *Api) Get(ctx context.Context, path string) (json.RawMessage, error) {
	requestCtx, cancel := self.requestContext(ctx)
	defer cancel()

	var result json.RawMessage
	_, err := request(requestCtx, self.client, "GET", self.Url(path), nil, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replaces the subtree at `path`
func (self *Api) Put(ctx context.Context, path string, value json.RawMessage) error {
	if IsNull(value) {
		return fmt.Errorf("%w: put %s", ErrNullValue, path)
	}
	requestCtx, cancel := self.requestContext(ctx)
	defer cancel()

	var result json.RawMessage
	_, err := request(requestCtx, self.client, "PUT", self.Url(path), value, &result)
	return err
}


// the body of a POST response
type PostResult struct {
	Name string `json:"name"`
}

// adds `value` under a child key generated by the store, and returns that key
func (self *Api) Post(ctx context.Context, path string, value json.RawMessage) (string, error) {
	if IsNull(value) {
		return "", fmt.Errorf("%w: post %s", ErrNullValue, path)
	}
	requestCtx, cancel := self.requestContext(ctx)
	defer cancel()

	result, err := request(requestCtx, self.client, "POST", self.Url(path), value, &PostResult{})
	if err != nil {
		return "", err
	}
	if result.Name == "" {
		return "", fmt.Errorf("%w: post %s returned no name", ErrDecode, path)
	}
	return result.Name, nil
}

// removes the subtree at `path`
func (self *Api) Delete(ctx context.Context, path string) error {
	requestCtx, cancel := self.requestContext(ctx)
	defer cancel()

	var result json.RawMessage
	_, err := request(requestCtx, self.client, "DELETE", self.Url(path), nil, &result)
	return err
}

// opens the event stream rooted at `path`. The caller owns the response body.
func (self *Api) Stream(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", self.Url(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "text/event-stream")

	r, err := self.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRemoteUnavailable, err)
	}
	if http.StatusOK != r.StatusCode {
		defer r.Body.Close()
		responseBodyBytes, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
		return nil, fmt.Errorf("%w: stream %s (%d) %s", ErrRemoteUnavailable, path, r.StatusCode, strings.TrimSpace(string(responseBodyBytes)))
	}
	return r, nil
}

func (self *Api) Close() {
	self.cancel()
}

// requests are bound to both the caller context and the api lifetime
func (self *Api) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	requestCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(self.ctx, cancel)
	return requestCtx, func() {
		stop()
		cancel()
	}
}


func request[R any](ctx context.Context, client *http.Client, method string, url string, requestBodyBytes []byte, result R) (R, error) {
	var body io.Reader
	if requestBodyBytes != nil {
		body = bytes.NewReader(requestBodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		var empty R
		return empty, err
	}

	if requestBodyBytes != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	r, err := client.Do(req)
	if err != nil {
		var empty R
		return empty, fmt.Errorf("%w: %s", ErrRemoteUnavailable, err)
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		var empty R
		return empty, fmt.Errorf("%w: %s (%d) %s", ErrRemoteUnavailable, method, r.StatusCode, errorMessage)
	}

	if err != nil {
		var empty R
		return empty, fmt.Errorf("%w: %s", ErrRemoteUnavailable, err)
	}

	if len(bytes.TrimSpace(responseBodyBytes)) == 0 {
		return result, nil
	}

	err = json.Unmarshal(responseBodyBytes, result)
	if err != nil {
		var empty R
		return empty, fmt.Errorf("%w: %s", ErrDecode, err)
	}

	return result, nil
}
