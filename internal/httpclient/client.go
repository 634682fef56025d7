package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/hashicorp/go-retryablehttp"
)

// Request is an outgoing call to a collaborator service.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is the raw answer of a collaborator service.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Client sends requests to collaborator services.
type Client interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

type Options struct {
	Timeout time.Duration
	// RetryMax is the number of transport-level retries. Zero disables
	// retries, which request-path lookups rely on.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

type client struct {
	http   *retryablehttp.Client
	logger *logger.Logger
}

// NewClient builds a go-retryablehttp backed Client.
func NewClient(opts Options, log *logger.Logger) Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	rc.Logger = log.GetRetryableHTTPLogger()
	// Hand non-2xx responses back to the caller instead of a generic
	// "giving up" error once retries are exhausted.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &client{http: rc, logger: log}
}

func (c *client) Send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to build request").
			Mark(ierr.ErrInternal)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Request to %s failed", req.URL).
			WithReportableDetails(map[string]interface{}{
				"method": req.Method,
				"url":    req.URL,
			}).
			Mark(ierr.ErrHTTPClient)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read response body").
			Mark(ierr.ErrHTTPClient)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       respBody,
	}, nil
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError maps a non-2xx response to a marked error. 404 becomes
// ErrNotFound so callers can surface NotFound unchanged.
func StatusError(resp *Response, resource, id string) error {
	details := map[string]interface{}{
		"status_code": resp.StatusCode,
		"resource":    resource,
		"id":          id,
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ierr.NewErrorf("%s %s not found", resource, id).
			WithHintf("%s %s does not exist", resource, id).
			WithReportableDetails(details).
			Mark(ierr.ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return ierr.NewErrorf("%s request for %s rejected with status %d", resource, id, resp.StatusCode).
			WithHint(string(resp.Body)).
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	default:
		return ierr.NewError(fmt.Sprintf("%s service returned status %d", resource, resp.StatusCode)).
			WithHintf("The %s service is unavailable", resource).
			WithReportableDetails(details).
			Mark(ierr.ErrHTTPClient)
	}
}
