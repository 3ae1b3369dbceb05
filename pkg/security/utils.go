package security

import (
	"net"
	"net/http"
)

// ClientIP extracts the client IP from the request.
// Only RemoteAddr is used; forwarding headers can be spoofed.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
