package shield

import "net/http"

// MaxBody caps the request body at maxBytes. Reads past the limit fail with
// *http.MaxBytesError, which body readers surface as an ordinary read error.
// maxBytes <= 0 leaves the body unbounded.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
