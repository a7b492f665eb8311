package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flowhook/flowhook-api/internal/authz"
	"github.com/flowhook/flowhook-api/internal/handlers"
	"github.com/flowhook/flowhook-api/internal/ingress"
)

// NewRouter sets up the API routes.
func NewRouter(
	auth *handlers.AuthHandler,
	automation *handlers.AutomationHandler,
	credential *handlers.CredentialHandler,
	health *handlers.HealthHandler,
	eventsub *ingress.TwitchEventSubHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", health.Check).Methods(http.MethodGet)

	// Public auth endpoints
	router.HandleFunc("/api/signup", auth.SignUp).Methods(http.MethodPost)
	router.HandleFunc("/api/login", auth.Login).Methods(http.MethodPost)

	// Webhook ingress authenticates with the provider's signature, not a JWT.
	router.Handle("/webhooks/twitch", eventsub).Methods(http.MethodPost)

	// Authenticated API. JWTMiddleware attaches the identity; RequireUser
	// rejects anything that reached the subrouter without one.
	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.JWTMiddleware)
	api.Use(authz.RequireUser)

	api.HandleFunc("/automations", automation.List).Methods(http.MethodGet)
	api.HandleFunc("/automations/{id}/enabled", automation.SetEnabled).Methods(http.MethodPut)
	api.HandleFunc("/automations/{id}/executions", automation.ListExecutions).Methods(http.MethodGet)

	api.HandleFunc("/credentials/{provider}/connect", credential.Connect).Methods(http.MethodPost)

	return router
}
