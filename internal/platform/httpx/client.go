package httpx

import (
	"net"
	"net/http"
	"strings"

	"github.com/threadcraft/api/internal/platform/requestctx"
)

const (
	// HeaderClientID lets browsers pin a stable cache identity across IP changes.
	HeaderClientID = "X-Client-ID"
	// HeaderEdgeCountry is the two-letter country the CDN attaches to each request.
	HeaderEdgeCountry = "CF-IPCountry"
	headerForwarded   = "X-Forwarded-For"
	headerRealIP      = "X-Real-IP"
	anonymousClient   = "anonymous"
	maxClientIDLength = 128
)

// ClientIP returns the caller address. When trustForwarded is set the first
// X-Forwarded-For hop wins, then X-Real-IP, then the socket address.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if r == nil {
		return ""
	}
	if trustForwarded {
		if forwarded := r.Header.Get(headerForwarded); forwarded != "" {
			first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip.String()
			}
		}
		if real := strings.TrimSpace(r.Header.Get(headerRealIP)); real != "" {
			if ip := net.ParseIP(real); ip != nil {
				return ip.String()
			}
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return ""
}

// ClientKey derives the identifier used for region caching. Throttling keys on
// ClientIP instead since X-Client-ID is chosen by the caller.
func ClientKey(r *http.Request, trustForwarded bool) string {
	if r != nil {
		if id := oneLine(r.Header.Get(HeaderClientID), maxClientIDLength); id != "" {
			return "client:" + id
		}
	}
	if ip := ClientIP(r, trustForwarded); ip != "" {
		return "ip:" + ip
	}
	return anonymousClient
}

// ClientMiddleware resolves the caller identity once per request and stores it on the context.
func ClientMiddleware(trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := requestctx.ClientInfo{
				Key:         ClientKey(r, trustForwarded),
				IP:          ClientIP(r, trustForwarded),
				EdgeCountry: strings.ToUpper(oneLine(r.Header.Get(HeaderEdgeCountry), 8)),
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithClient(r.Context(), info)))
		})
	}
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = jsonEncode(w, payload)
}
