package admin

import (
	"net/http"
	"strings"

	"github.com/maxpert/gridtopic/cfg"
)

// SecretHeader carries the cluster secret for admin calls. A bearer token works too.
const SecretHeader = "X-Gridtopic-Secret"

func presentedSecret(r *http.Request) (string, bool) {
	if s := r.Header.Get(SecretHeader); s != "" {
		return s, true
	}
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}

// AuthMiddleware rejects admin calls that do not present the cluster secret.
// Nodes without a secret serve the admin API openly.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.IsClusterAuthEnabled() {
			secret, ok := presentedSecret(r)
			if !ok {
				writeErrorResponse(w, http.StatusUnauthorized, "missing cluster secret")
				return
			}
			if !cfg.ClusterSecretMatches(secret) {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid cluster secret")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
