package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientAddr returns the address of the caller of the status API.
// Forwarding headers are only trusted when the direct peer is loopback,
// i.e. a local reverse proxy sits in front of the agent.
func ClientAddr(c *gin.Context) string {
	peer := c.Request.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !isLoopback(peer) {
		return peer
	}

	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		// client, proxy1, proxy2
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	if peer == "" {
		return "unknown"
	}
	return peer
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
