package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS wraps h so browser clients on the allowed origins can call the
// validation endpoint.
func CORS(allowedOrigins []string, h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", TraceIDHeader, TraceParentHeader},
		ExposedHeaders: []string{TraceIDHeader},
		MaxAge:         600,
	}).Handler(h)
}
