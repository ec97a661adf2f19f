package auth

import (
	"net"
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// ExtractCredential pulls the bearer credential from the Authorization
// header, falling back to the named cookie when set. An empty result
// means the request is anonymous.
func ExtractCredential(r *http.Request, cookieName string) string {
	header := r.Header.Get("Authorization")
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}

	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil {
			return cookie.Value
		}
	}

	return ""
}

// ClientIP returns the caller's address, preferring the first
// X-Forwarded-For hop over the transport peer.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
