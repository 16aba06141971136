package httpapi

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/api/http/middleware"
	platformhealth "github.com/shestoi/backoffice/platform/health/http"
	platformobservability "github.com/shestoi/backoffice/platform/observability"
)

// NewRouter создаёт и настраивает HTTP роутер для Ledger Service
// readiness - функция для проверки готовности сервиса (например, проверка БД).
// Если readiness возвращает false, health endpoint вернёт 503 Service Unavailable.
func NewRouter(handler *Handler, readiness func() bool, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Observability: trace context + span на каждый запрос, logger с trace_id в контексте
	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("ledger", logger))
	}

	// всё, кроме /health, требует x-user-id (middleware возвращает 401 при отсутствии)
	router.Group(func(r chi.Router) {
		r.Use(middleware.WithUserID)

		r.Route("/stock-items", func(r chi.Router) {
			r.Post("/", handler.PostStockItems)
			r.Get("/below-minimum", handler.GetBelowMinimum)
			r.Get("/{id}", handler.GetStockItem)
			r.Delete("/{id}", handler.DeleteStockItem)
			r.Get("/{id}/snapshot", handler.GetStockItemSnapshot)
			r.Post("/{id}/adjustments", handler.PostAdjustment)
			r.Get("/{id}/reconcile", handler.GetReconcile)
		})

		r.Route("/quotes", func(r chi.Router) {
			r.Post("/", handler.PostQuotes)
			r.Get("/", handler.GetQuotes)
			r.Get("/{id}", handler.GetQuote)
			r.Delete("/{id}", handler.DeleteQuote)
			r.Post("/{id}/status", handler.PostQuoteStatus)
			r.Post("/{id}/invoice", handler.PostQuoteInvoice)
		})

		r.Get("/invoices/{id}", handler.GetInvoice)
		r.Post("/calc/totals", handler.PostTotals)
	})

	// Health без middleware (не требует пользователя)
	router.Get("/health", platformhealth.Handler(readiness))

	return router
}
