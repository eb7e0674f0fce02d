package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/jhoicas/fiscal-adapter/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Fiscal         *FiscalHandler
	Certificates   *CertificateHandler
	Monitoring     *MonitoringHandler
	MetricsHandler http.Handler // nil = sin /metrics
	JWTSecret      string
	JWTIssuer      string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	// Públicas
	app.Get("/health", deps.Monitoring.Health)
	if deps.MetricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.MetricsHandler))
	}

	api := app.Group("/api", AuthMiddleware(deps.JWTSecret, deps.JWTIssuer))
	adminOnly := RequireRole(jwt.RoleAdmin)
	anyRole := RequireRole(jwt.RoleAdmin, jwt.RoleOperator)

	// Sometimiento, cola y comprobantes
	fiscal := api.Group("/fiscal")
	fiscal.Post("/orders", anyRole, deps.Fiscal.SubmitOrder)
	fiscal.Post("/closings", anyRole, deps.Fiscal.SubmitClosing)
	fiscal.Get("/queue/:id", anyRole, deps.Fiscal.GetQueueItem)
	fiscal.Post("/queue/:id/requeue", adminOnly, deps.Fiscal.Requeue)
	fiscal.Get("/receipts/:orderID", anyRole, deps.Fiscal.GetReceipt)
	fiscal.Get("/receipts/:orderID/pdf", anyRole, deps.Fiscal.ReceiptPDF)

	// Certificados
	certs := fiscal.Group("/certificates")
	certs.Post("/enroll", adminOnly, deps.Certificates.Enroll)
	certs.Post("/:id/annul", adminOnly, deps.Certificates.Annul)
	certs.Get("/status", anyRole, deps.Certificates.Status)

	// Monitoreo
	api.Get("/monitoring/report", anyRole, deps.Monitoring.Report)
}
