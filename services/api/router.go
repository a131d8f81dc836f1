package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all control-plane endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(httprate.Limit(600, time.Minute))
	if len(a.config.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.config.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Accept", "Content-Type", sessionHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/xnodes", func(r chi.Router) {
		// Operator endpoints, session authenticated.
		r.Post("/createXnode", a.handleCreateXnode)
		r.Post("/registerXnodeDeployment", a.handleRegisterDeployment)
		r.Post("/removeXnodeDeployment", a.handleRemoveDeployment)
		r.Post("/updateXnode", a.handleUpdateXnode)
		r.Get("/getXnode", a.handleGetXnode)
		r.Get("/getXnodes", a.handleGetXnodes)
		r.Post("/pushXnodeServices", a.handlePushServices)
		r.Post("/allowXnodeGenerationConfig", a.handleAllowGenerationConfig)
		r.Post("/allowXnodeGenerationUpdate", a.handleAllowGenerationUpdate)

		// Device endpoints, HMAC authenticated.
		r.Post("/getXnodeServices", a.handleGetServices)
		r.Post("/pushXnodeHeartbeat", a.handlePushHeartbeat)
		r.Post("/pushXnodeStatus", a.handlePushStatus)
		r.Post("/getXnodeGeneration", a.handleGetGeneration)
		r.Post("/pushXnodeGenerationConfig", a.handlePushGenerationConfig)
		r.Post("/pushXnodeGenerationUpdate", a.handlePushGenerationUpdate)
	})

	return r, nil
}
