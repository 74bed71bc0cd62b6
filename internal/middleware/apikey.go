package middleware

import "net/http"

// RequireAPIKey gates a handler behind the X-API-Key header. When no key is
// configured the handler allows anonymous access.
func RequireAPIKey(apiKey string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiKey != "" && r.Header.Get("X-API-Key") != apiKey {
			http.Error(w, "Invalid or missing API key", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
