package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-adapter/internal/application/dto"
	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
)

// FiscalHandler sometimiento de órdenes y cierres, consulta de la cola y comprobantes.
type FiscalHandler struct {
	submission *appfiscal.SubmissionService
	queue      *appfiscal.Queue
	receipts   *appfiscal.ReceiptService
	loc        *time.Location
	log        zerolog.Logger
}

// NewFiscalHandler construye el handler. loc es la zona horaria fiscal.
func NewFiscalHandler(
	submission *appfiscal.SubmissionService,
	queue *appfiscal.Queue,
	receipts *appfiscal.ReceiptService,
	loc *time.Location,
	log zerolog.Logger,
) *FiscalHandler {
	return &FiscalHandler{submission: submission, queue: queue, receipts: receipts, loc: loc, log: log}
}

// SubmitOrder firma la orden y la deja en la cola de envío.
// POST /api/fiscal/orders
func (h *FiscalHandler) SubmitOrder(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	var in dto.OrderRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	order, err := in.ToEntity()
	if err != nil {
		return writeError(c, h.log, err)
	}
	res, err := h.submission.SubmitOrder(c.UserContext(), tenantID, order)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.SubmitResponseFrom(res))
}

// SubmitClosing firma el cierre diario y lo deja en la cola.
// POST /api/fiscal/closings
func (h *FiscalHandler) SubmitClosing(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	var in dto.ClosingRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	closing, err := in.ToEntity(h.loc)
	if err != nil {
		return writeError(c, h.log, err)
	}
	res, err := h.submission.SubmitClosing(c.UserContext(), tenantID, closing)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.SubmitResponseFrom(res))
}

// GetQueueItem estado de un ítem de la cola del tenant.
// GET /api/fiscal/queue/:id
func (h *FiscalHandler) GetQueueItem(c *fiber.Ctx) error {
	item, err := h.queue.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	// otro tenant: mismo 404 que si no existiera
	if item.TenantID != GetTenantID(c) {
		return writeError(c, h.log, domain.ErrNotFound)
	}
	return c.JSON(dto.QueueItemResponseFrom(item))
}

// Requeue devuelve a pending un ítem en failed_permanent (solo admin).
// POST /api/fiscal/queue/:id/requeue
func (h *FiscalHandler) Requeue(c *fiber.Ctx) error {
	id := c.Params("id")
	item, err := h.queue.Get(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if item.TenantID != GetTenantID(c) {
		return writeError(c, h.log, domain.ErrNotFound)
	}
	if err := h.queue.Requeue(c.UserContext(), id); err != nil {
		return writeError(c, h.log, err)
	}
	h.log.Info().Str("queue_item_id", id).Str("user_id", GetUserID(c)).Msg("reencolado solicitado")

	item, err = h.queue.Get(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.QueueItemResponseFrom(item))
}

// GetReceipt comprobante de la orden.
// GET /api/fiscal/receipts/:orderID
func (h *FiscalHandler) GetReceipt(c *fiber.Ctx) error {
	rec, err := h.receipts.Get(c.UserContext(), GetTenantID(c), c.Params("orderID"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.ReceiptResponseFrom(rec))
}

// ReceiptPDF representación impresa del comprobante.
// GET /api/fiscal/receipts/:orderID/pdf
func (h *FiscalHandler) ReceiptPDF(c *fiber.Ctx) error {
	doc, filename, err := h.receipts.PDF(c.UserContext(), GetTenantID(c), c.Params("orderID"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+filename+`"`)
	return c.Send(doc)
}
