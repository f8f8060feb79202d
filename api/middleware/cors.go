package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000", // local dev
}

// CORS returns middleware that allows the configured frontend origin plus local dev.
func CORS(frontendURL string) func(http.Handler) http.Handler {
	origins := append([]string{}, defaultCORSOrigins...)
	if origin := strings.TrimRight(strings.TrimSpace(frontendURL), "/"); origin != "" && origin != defaultCORSOrigins[0] {
		origins = append(origins, origin)
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
