package ports

import (
	"context"
	"net/http"
	"net/url"
)

// HTTPClient abstracts HTTP execution for dependency injection.
// The standard *http.Client satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport performs JSON requests against the collector API.
//
// Implementations classify failures into the domain error taxonomy:
// connection refusals and timeouts wrap domain.ErrConnectivity, HTTP 400
// wraps domain.ErrBadRequest, HTTP 5xx wraps domain.ErrServerError. Other
// failures are returned unclassified.
type Transport interface {
	// GetJSON issues a GET and decodes the response body into out when out
	// is non-nil.
	GetJSON(ctx context.Context, endpoint string, params url.Values, out any) error

	// PostJSON issues a POST with payload as the JSON body and decodes the
	// response into out when out is non-nil. endpoint may carry a query
	// string; it is used verbatim.
	PostJSON(ctx context.Context, endpoint string, payload any, out any) error

	// DeleteJSON issues a DELETE with an optional JSON body.
	DeleteJSON(ctx context.Context, endpoint string, payload any) error
}
