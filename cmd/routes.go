package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) JWTMiddlewareWithRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return app.JWTMiddleware(next, requiredRole)
	}
}

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	authMiddleware := standardMiddleware.Append(app.JWTMiddlewareWithRole("user"))
	adminAuthMiddleware := standardMiddleware.Append(app.JWTMiddlewareWithRole("admin"))

	mux := pat.New()

	// Payments
	mux.Post("/payment", authMiddleware.ThenFunc(app.paymentHandler.CreatePayment))
	mux.Get("/payment/history/:user_id", authMiddleware.ThenFunc(app.paymentHandler.History))
	mux.Get("/payment/success", standardMiddleware.ThenFunc(app.paymentHandler.SuccessRedirect))
	mux.Get("/payment/failure", standardMiddleware.ThenFunc(app.paymentHandler.FailureRedirect))

	// Вебхуки шлюзов — аутентификация подписью, не JWT
	mux.Post("/payment/wallet/notify", standardMiddleware.ThenFunc(app.paymentHandler.WalletNotify))
	mux.Post("/payment/acquiring/callback", standardMiddleware.ThenFunc(app.paymentHandler.AcquiringCallback))

	// Admin
	mux.Post("/payment/:id/refund", adminAuthMiddleware.ThenFunc(app.adminPaymentHandler.RefundCreate))
	mux.Post("/admin/payments/cancel/:id", adminAuthMiddleware.ThenFunc(app.adminPaymentHandler.Cancel))
	mux.Post("/admin/payments/sync", adminAuthMiddleware.ThenFunc(app.adminPaymentHandler.SyncPending))
	mux.Post("/admin/payments/check/:id", adminAuthMiddleware.ThenFunc(app.adminPaymentHandler.CheckInvoice))
	mux.Post("/admin/payments/polling/start", adminAuthMiddleware.ThenFunc(app.adminPaymentHandler.StartPolling))
	mux.Post("/admin/payments/polling/stop", adminAuthMiddleware.ThenFunc(app.adminPaymentHandler.StopPolling))

	// Realtime
	mux.Get("/ws", standardMiddleware.ThenFunc(app.WebSocketHandler))

	return standardMiddleware.Then(mux)
}
