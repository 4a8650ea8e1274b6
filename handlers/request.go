package handlers

import (
	"net/http"
	"strings"

	"github.com/upb/auth-session/identity"
	"github.com/upb/auth-session/middleware"
	"github.com/upb/auth-session/services/audit"
)

// requestOrigin is the browser-visible origin of the app. A pinned public
// origin wins over the Host header.
func requestOrigin(r *http.Request, publicOrigin string) string {
	if publicOrigin != "" {
		return publicOrigin
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host
}

func requestInfo(r *http.Request) audit.RequestInfo {
	return audit.RequestInfo{
		SessionID: identity.SessionIDFromContext(r.Context()),
		RequestID: middleware.GetRequestIDFromContext(r.Context()),
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}
