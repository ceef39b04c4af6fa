package ws

import (
	"net/http"
	"strings"
)

// originChecker validates the Origin header of an upgrade request against
// allowed. It is intended to be used as the CheckOrigin field of a
// gorilla/websocket.Upgrader.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Same-origin request or non-browser client.
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}
