package v1

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	tests := map[string]string{
		"200.147.35.149":          "200.147.35.149",
		" 200.147.35.149 ":        "200.147.35.149",
		`"200.147.35.149"`:        "200.147.35.149",
		"200.147.35.149:443":      "200.147.35.149",
		`"200.147.35.149:51234"`:  "200.147.35.149",
		"2804:14c::1":             "2804:14c::1",
		"[2804:14c::1]":           "2804:14c::1",
		"[2804:14c::1]:8443":      "2804:14c::1",
		"fe80::1%eth0":            "fe80::1",
		"::ffff:189.6.22.1":       "189.6.22.1",
		"[::ffff:189.6.22.1]:443": "189.6.22.1",
	}
	for raw, want := range tests {
		addr, ok := parseAddr(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, addr.String(), raw)
	}

	for _, raw := range []string{"", "   ", "unknown", "_hidden", "not-an-ip"} {
		_, ok := parseAddr(raw)
		assert.False(t, ok, raw)
	}
}

func TestPickPublic(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		want       string
	}{
		{"first public ipv4 wins", []string{"10.0.0.5", "200.147.35.149", "189.6.22.1"}, "200.147.35.149"},
		{"ipv4 preferred over earlier ipv6", []string{"2804:14c::1", "189.6.22.1"}, "189.6.22.1"},
		{"ipv6 when no ipv4", []string{"::1", "2804:14c::1"}, "2804:14c::1"},
		{"mapped private stays private", []string{"::ffff:192.168.1.5"}, ""},
		{"no public address", []string{"127.0.0.1", "192.168.0.2", "172.20.1.1", "fd00::1", "fe80::1", "0.0.0.0:0", ""}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, ok := pickPublic(tc.candidates)
			if tc.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.want, addr.String())
		})
	}
}

func TestForwardedFor(t *testing.T) {
	got := forwardedFor(`for=192.0.2.60;proto=http;by=203.0.113.43, For="[2001:db8:cafe::17]:4711"`)
	assert.Equal(t, []string{"192.0.2.60", `"[2001:db8:cafe::17]:4711"`}, got)
	assert.Empty(t, forwardedFor(""))
}

func TestWitnessAddress(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(witnessAddress(c, logger))
	})

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded-for chain", map[string]string{"X-Forwarded-For": "10.1.1.1, 200.147.35.149"}, "200.147.35.149"},
		{"cdn header", map[string]string{"CF-Connecting-IP": "189.6.22.1"}, "189.6.22.1"},
		{"rfc 7239", map[string]string{"Forwarded": "for=189.6.22.1:5000;proto=https"}, "189.6.22.1"},
		{"private chain only", map[string]string{"X-Forwarded-For": "10.1.1.1", "X-Real-IP": "127.0.0.1"}, ""},
		// fiber test connections have no routable peer address
		{"no headers", nil, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(body))
		})
	}
}

func TestStrongETag(t *testing.T) {
	a := strongETag([]byte("tracker"))
	assert.Equal(t, a, strongETag([]byte("tracker")))
	assert.NotEqual(t, a, strongETag([]byte("tracker v2")))
	assert.Regexp(t, `^"[0-9a-f]{64}"$`, a)
}
