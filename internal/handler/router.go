package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/giftaid-donations/internal/middleware"
	"github.com/mmeshcher/giftaid-donations/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса пожертвований.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/product/{id}", h.ShowProduct)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.ShowCart)
		r.Post("/add", h.AddToCart)
		r.Post("/update", h.UpdateCart)
		r.Post("/remove/{key}", h.RemoveCartLine)
	})

	r.Get("/checkout", h.ShowCheckout)
	r.Post("/checkout", h.Checkout)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.Login)

		// Выгрузка не отклоняет запрос: проверка права выполняется в обработчике.
		r.With(h.authMiddleware.Identify).Get("/giftaid/export.csv", h.ExportClaims)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireCapability(model.CapabilityManageOptions))

			r.Get("/giftaid", h.ShowGiftAid)
			r.Post("/giftaid/settings", h.SaveSettings)

			r.Get("/products", h.ListProducts)
			r.Post("/products", h.CreateProduct)
			r.Post("/products/{id}", h.SaveProductMeta)
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
