package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(handler *Handler, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(Timeout)
	r.Use(CORS)

	r.Get("/healthz", handler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/movements", handler.ApplyMovement)
		r.Post("/movements/transfer", handler.TransferWithinLocation)

		r.Get("/locations/{locationID}/records", handler.ListRecords)
		r.Get("/locations/{locationID}/history", handler.ListHistory)
		r.Post("/locations/{locationID}/history/import", handler.ImportHistory)

		r.Post("/transfers/locations", handler.TransferBetweenLocations)

		r.Get("/locations/{locationID}/reorders", handler.ReorderOverview)
		r.Post("/reorders", handler.CreateRule)
		r.Post("/reorders/submit", handler.SubmitReorder)
		r.Post("/reorders/bulk", handler.SubmitBulkReorder)
		r.Post("/reorders/expand-supplier", handler.ExpandSupplier)
		r.Patch("/reorders/{locationID}/{productID}", handler.UpdateRule)
		r.Delete("/reorders/{locationID}/{productID}", handler.DeleteRule)
		r.Post("/reorders/{locationID}/{productID}/reset", handler.ResetOrdered)
		r.Get("/reorders/{locationID}/{productID}/recommendation", handler.Recommendation)

		r.Get("/locations/{locationID}/orders", handler.ListOrders)
		r.Get("/orders/{orderID}", handler.GetOrder)

		r.Route("/locations/{locationID}/products/{productID}/default-placement", func(r chi.Router) {
			r.Get("/", handler.GetDefaultPlacement)
			r.Put("/", handler.AssignDefaultPlacement)
			r.Delete("/", handler.RemoveDefaultPlacement)
			r.Post("/preview", handler.PreviewDefaultPlacement)
		})

		r.Put("/catalog/locations/{locationID}", handler.SaveLocation)
		r.Put("/catalog/customers/{customerID}/settings", handler.SaveSettings)
		r.Post("/catalog/products", handler.CreateProduct)
		r.Put("/catalog/products/{productID}", handler.UpdateProduct)
		r.Post("/catalog/locations/{locationID}/placements", handler.SavePlacement)
	})

	return r
}
