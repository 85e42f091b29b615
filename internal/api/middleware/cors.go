package middleware

import (
	"slices"

	"github.com/go-chi/cors"
)

// CORSHandler builds the cors options for the configured origins. Browsers
// refuse credentials with a wildcard origin, so they are only allowed when
// every origin is explicit.
func CORSHandler(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           600,
	}
}
