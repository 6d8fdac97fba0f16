package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// HTTPLocator queries a JSON geolocation service with one unauthenticated GET.
// The URL template carries an "{ip}" placeholder, e.g. "https://ipapi.co/{ip}/json/".
type HTTPLocator struct {
	template string
	client   *http.Client
}

// NewHTTPLocator returns a locator over template.
func NewHTTPLocator(template string, client *http.Client) (*HTTPLocator, error) {
	if !strings.Contains(template, "{ip}") {
		return nil, fmt.Errorf("geo: url template %q has no {ip} placeholder", template)
	}
	if _, err := url.Parse(strings.ReplaceAll(template, "{ip}", "127.0.0.1")); err != nil {
		return nil, fmt.Errorf("geo: invalid url template: %w", err)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPLocator{template: template, client: client}, nil
}

// Locate implements Locator.
func (l *HTTPLocator) Locate(ctx context.Context, ip string) (Location, error) {
	if ip == "" {
		return Location{}, ErrNoAddress
	}
	target := strings.ReplaceAll(l.template, "{ip}", url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Location{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo: lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geo: lookup answered status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Location{}, fmt.Errorf("geo: read payload: %w", err)
	}
	return parseLocation(body)
}

// parseLocation accepts the ipapi.co and ip-api.com payload shapes.
func parseLocation(body []byte) (Location, error) {
	if !gjson.ValidBytes(body) {
		return Location{}, fmt.Errorf("geo: malformed payload")
	}
	doc := gjson.ParseBytes(body)
	if doc.Get("error").Bool() || doc.Get("status").String() == "fail" {
		return Location{}, fmt.Errorf("%w: %s", ErrNotFound, first(doc, "reason", "message"))
	}

	loc := Location{
		IP:          first(doc, "ip", "query"),
		CountryCode: first(doc, "country_code", "countryCode"),
		Country:     first(doc, "country_name"),
		Region:      first(doc, "region", "regionName", "region_name"),
		City:        first(doc, "city"),
	}
	// "country" is the ISO code on some services and the name on others.
	if c := doc.Get("country").String(); c != "" {
		if len(c) == 2 && loc.CountryCode == "" {
			loc.CountryCode = c
		} else if len(c) > 2 && loc.Country == "" {
			loc.Country = c
		}
	}
	return loc, nil
}

func first(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}
