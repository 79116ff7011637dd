package api

import (
	"context"
	"net/http"
	"time"

	xhttp "IntelWatch/pkg/http"

	"github.com/labstack/echo/v4"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Router mounts every handler on one Echo instance and serves /healthz.
type Router struct {
	handlers []xhttp.Handler
	checks   map[string]HealthCheck
}

func NewRouter(handlers ...xhttp.Handler) *Router {
	return &Router{handlers: handlers, checks: make(map[string]HealthCheck)}
}

// AddHealthCheck registers a named dependency probe.
func (r *Router) AddHealthCheck(name string, check HealthCheck) {
	if check != nil {
		r.checks[name] = check
	}
}

func (r *Router) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", r.Health)
	for _, h := range r.handlers {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
}

func (r *Router) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := make(map[string]string, len(r.checks))
	for name, check := range r.checks {
		if err := check(ctx); err != nil {
			result[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}
	return xhttp.DataResponse(c, status, result)
}
