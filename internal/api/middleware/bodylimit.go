package middleware

import (
	"mime"
	"net/http"
)

// JSONBody caps request bodies at maxBytes and rejects bodies that are not
// JSON. Requests without a body pass through, so bodiless POSTs such as a
// cancel still work. Upload routes apply their own larger limit.
func JSONBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength != 0 && r.Method != http.MethodGet {
				mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if mt != "application/json" {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnsupportedMediaType)
					w.Write([]byte(`{"error":"content type must be application/json"}`))
					return
				}
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
