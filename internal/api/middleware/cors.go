package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS builds the go-chi/cors middleware, replacing the teacher's
// hand-rolled middleware/cors.go with the pack-grounded library
// (jordigilh-kubernaut go.mod).
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
