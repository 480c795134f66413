package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/parking-system/internal/middleware"
	"github.com/mmeshcher/parking-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса парковки.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Metrics)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth", h.Authenticate)
		r.Post("/users", h.CreateUser)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Route("/users", func(r chi.Router) {
				r.Get("/{id}", h.GetUser)
				r.Patch("/{id}/password", h.UpdateUserPassword)
				r.With(custommiddleware.RequireRole(model.RoleAdmin)).Get("/", h.ListUsers)
			})

			r.Route("/customers", func(r chi.Router) {
				r.With(custommiddleware.RequireRole(model.RoleCustomer)).Post("/", h.CreateCustomer)
				r.With(custommiddleware.RequireRole(model.RoleCustomer)).Get("/details", h.GetCustomerDetails)
				r.With(custommiddleware.RequireRole(model.RoleAdmin)).Get("/{id}", h.GetCustomer)
				r.With(custommiddleware.RequireRole(model.RoleAdmin)).Get("/", h.ListCustomers)
			})

			r.Route("/parking-slots", func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleAdmin))

				r.Post("/", h.CreateSlot)
				r.Get("/{code}", h.GetSlot)
			})

			r.Route("/parking-lots", func(r chi.Router) {
				r.With(custommiddleware.RequireRole(model.RoleAdmin)).Post("/check-in", h.CheckIn)
				r.With(custommiddleware.RequireRole(model.RoleAdmin, model.RoleCustomer)).Get("/check-in/{receipt}", h.FindByReceipt)
				r.With(custommiddleware.RequireRole(model.RoleAdmin)).Put("/checkout/{receipt}", h.Checkout)
				r.With(custommiddleware.RequireRole(model.RoleAdmin)).Get("/cpf/{cpf}", h.ListSessionsByCPF)
				r.With(custommiddleware.RequireRole(model.RoleCustomer)).Get("/", h.ListMySessions)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
