package shield

import "net/http"

// HeadToGet serves HEAD through the GET routes, so load balancers can check
// /health and /services/botrule/hostlist without a 405. net/http drops the
// body of HEAD responses.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
