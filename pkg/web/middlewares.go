package web

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/laster13/rdt-client/internal/config"
)

func (wb *Web) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !wb.isValidAPIToken(r) {
			wb.sendJSONError(w, "Authentication required. Provide the API token in the Authorization header (Bearer <token>) or the X-Api-Key header.", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (wb *Web) isValidAPIToken(r *http.Request) bool {
	token := config.Get().Web.APIToken
	if token == "" {
		return false
	}
	provided := r.Header.Get("X-Api-Key")
	if provided == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1
}
