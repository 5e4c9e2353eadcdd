package request

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/st-keller/quakefeed-client/earthquake"
	"github.com/st-keller/quakefeed-client/types"
)

// DefaultEndpoint is the USGS FDSN event query endpoint.
const DefaultEndpoint = "https://earthquake.usgs.gov/fdsnws/event/1/query"

// Limit is the fixed number of events requested per load.
const Limit = 10

// Params is a snapshot of the user preferences that shape one request.
type Params struct {
	MinMagnitude string
	OrderBy      OrderBy
}

// ParamsFrom snapshots the provider's current values. Surrounding whitespace
// is dropped and a recognised order is normalised through ParseOrderBy;
// anything else is kept as-is so Validate can reject it as an invalid request.
func ParamsFrom(p types.ConfigProvider) Params {
	params := Params{
		MinMagnitude: strings.TrimSpace(p.MinMagnitude()),
		OrderBy:      OrderBy(strings.TrimSpace(p.OrderBy())),
	}
	if o, err := ParseOrderBy(string(params.OrderBy)); err == nil {
		params.OrderBy = o
	}
	return params
}

// Validate checks the params before they reach the network.
func (p Params) Validate() error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(p.MinMagnitude), 64); err != nil {
		return fmt.Errorf("minmag %q is not a number", p.MinMagnitude)
	}
	if _, err := ParseOrderBy(string(p.OrderBy)); err != nil {
		return err
	}
	return nil
}

// Build returns the fully-qualified query URL for endpoint and params.
// Query parameters already present on endpoint are kept; Encode sorts keys so
// the output is stable for identical input.
func Build(endpoint string, p Params) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: parse endpoint: %v", earthquake.ErrInvalidRequest, err)
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: endpoint %q is not an absolute http(s) URL", earthquake.ErrInvalidRequest, endpoint)
	}

	q := u.Query()
	q.Set("format", "geojson")
	q.Set("limit", strconv.Itoa(Limit))
	q.Set("minmag", strings.TrimSpace(p.MinMagnitude))
	q.Set("orderby", string(p.OrderBy))
	u.RawQuery = q.Encode()

	return u.String(), nil
}
