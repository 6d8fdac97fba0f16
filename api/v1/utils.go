package v1

import (
	"log/slog"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// proxyHeaders carry a single client address set by a reverse proxy or CDN.
var proxyHeaders = []string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP"}

// witnessAddress returns the public address a beacon came from. The collector
// hashes it into the uniqueness markers and geolocates it. It returns "" when
// no public address is visible (local development, a proxy that strips the
// headers); the visit is then counted without touching the uniqueness gates.
func witnessAddress(c *fiber.Ctx, logger *slog.Logger) string {
	candidates := strings.Split(c.Get(fiber.HeaderXForwardedFor), ",")
	for _, h := range proxyHeaders {
		candidates = append(candidates, c.Get(h))
	}
	candidates = append(candidates, forwardedFor(c.Get("Forwarded"))...)
	candidates = append(candidates, c.Context().RemoteAddr().String())

	if addr, ok := pickPublic(candidates); ok {
		return addr.String()
	}
	logger.Debug("No public client address, skipping uniqueness",
		slog.String("path", c.Path()))
	return ""
}

// pickPublic returns the first public IPv4 candidate, else the first public
// IPv6 one. Proxies append, so the left-most entry is closest to the browser.
func pickPublic(candidates []string) (netip.Addr, bool) {
	var v6 netip.Addr
	for _, raw := range candidates {
		addr, ok := parseAddr(raw)
		if !ok || !isPublic(addr) {
			continue
		}
		if addr.Is4() {
			return addr, true
		}
		if !v6.IsValid() {
			v6 = addr
		}
	}
	return v6, v6.IsValid()
}

// parseAddr accepts the spellings proxies use: bare, quoted, with a port,
// bracketed IPv6, zone suffixes and IPv4-mapped IPv6.
func parseAddr(raw string) (netip.Addr, bool) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap().WithZone(""), true
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}

func isPublic(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsUnspecified() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsMulticast()
}

// forwardedFor extracts the for= values of an RFC 7239 Forwarded header.
func forwardedFor(header string) []string {
	var out []string
	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if len(part) > 4 && strings.EqualFold(part[:4], "for=") {
				out = append(out, part[4:])
			}
		}
	}
	return out
}

// userAgent prefers the agent a proxy forwarded.
func userAgent(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return forwarded
	}
	return c.Get(fiber.HeaderUserAgent)
}
