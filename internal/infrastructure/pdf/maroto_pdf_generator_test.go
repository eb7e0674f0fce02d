package pdf_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/pdf"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

func buildReceipt(format fiscal.PrintFormat, qr string) *entity.ReceiptRecord {
	return &entity.ReceiptRecord{
		ID: "r1", QueueItemID: "q1", TenantID: "t1", OrderID: "ORD-1",
		RegistryTransactionID: "REG-1", QRData: qr,
		PrintMode: fiscal.PrintModePhysical, PrintFormat: format, CreatedAt: time.Now(),
	}
}

func TestRenderTransaction_Formatos(t *testing.T) {
	g := pdf.NewMarotoReceiptRenderer("Taquería Demo LLC")
	req := &entity.TransactionRequest{
		TransactionID: "ORD-1", Action: fiscal.ActionRegister, TransactionType: fiscal.TransactionSale,
		Subtotal: 10000, TaxA: 500, TaxB: 998, Total: 11498, Timestamp: "2026-03-10T10:00:00-04:00",
		Items: []entity.LineItem{
			{Description: "Burrito", Quantity: 1000, UnitPrice: 10000, LineTotal: 10000},
			{Description: "Salsa", Quantity: 1500, UnitPrice: 0, LineTotal: 0},
		},
	}
	for _, format := range []fiscal.PrintFormat{fiscal.PrintFormatTicket58, fiscal.PrintFormatTicket80, fiscal.PrintFormatLetter} {
		t.Run(string(format), func(t *testing.T) {
			doc, err := g.RenderTransaction(context.Background(), buildReceipt(format, "https://registro.test/qr/REG-1"), req)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
		})
	}
}

func TestRenderClosing_SinQR(t *testing.T) {
	g := pdf.NewMarotoReceiptRenderer("")
	req := &entity.ClosingReceiptRequest{
		ClosingDate: "2026-03-10", Action: fiscal.ActionClosing,
		TotalSales: 50000, TotalRefunds: 2000, NetSales: 48000, TaxCollected: 4000,
		TransactionCount: 12, CashTotal: 20000, CardTotal: 28000, Timestamp: "2026-03-10T23:59:00-04:00",
	}
	doc, err := g.RenderClosing(context.Background(), buildReceipt(fiscal.PrintFormatTicket80, ""), req)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}
