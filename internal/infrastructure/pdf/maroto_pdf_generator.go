// Package pdf genera la representación impresa de los comprobantes aceptados por el registro
// fiscal: ticket de 58/80 mm o carta, con el código QR de verificación.
//
// Layout:
//
//	┌──────────────────────────────┐
//	│  COMPROBANTE FISCAL + fecha  │
//	│  Id registro / transacción   │
//	│  ──────────────────────────  │
//	│  Cant | Descripción | Total  │
//	│  ──────────────────────────  │
//	│  Subtotal / Impuestos / TOTAL│
//	│  ──────────────────────────  │
//	│  QR + leyenda                │
//	└──────────────────────────────┘
package pdf

import (
	"context"
	"fmt"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

var _ appfiscal.ReceiptRenderer = (*MarotoReceiptRenderer)(nil)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
)

// ── Renderer ──────────────────────────────────────────────────────────────────

// MarotoReceiptRenderer implementa appfiscal.ReceiptRenderer usando Maroto v2.
type MarotoReceiptRenderer struct {
	issuer string // razón social impresa en el encabezado
}

// NewMarotoReceiptRenderer construye el generador.
func NewMarotoReceiptRenderer(issuer string) *MarotoReceiptRenderer {
	return &MarotoReceiptRenderer{issuer: issuer}
}

// layout medidas según el formato de impresión.
type layout struct {
	width    float64 // mm; 0 = carta
	margin   float64
	fontSize float64
}

func layoutFor(format fiscal.PrintFormat) layout {
	switch format {
	case fiscal.PrintFormatTicket58:
		return layout{width: 58, margin: 2, fontSize: 6}
	case fiscal.PrintFormatTicket80:
		return layout{width: 80, margin: 3, fontSize: 7}
	}
	return layout{margin: 12, fontSize: 9}
}

func (g *MarotoReceiptRenderer) newDocument(format fiscal.PrintFormat, rows int) (core.Maroto, layout) {
	l := layoutFor(format)
	b := config.NewBuilder().
		WithLeftMargin(l.margin).WithRightMargin(l.margin).
		WithTopMargin(l.margin).WithBottomMargin(l.margin).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: l.fontSize}).
		WithTitle("Comprobante fiscal", true).
		WithAuthor(g.issuer, true)
	if l.width > 0 {
		// alto del rollo proporcional al contenido
		b = b.WithDimensions(l.width, 110+float64(rows)*6+l.width)
	} else {
		b = b.WithPageSize(pagesize.Letter)
	}
	return maroto.New(b.Build()), l
}

// RenderTransaction comprobante de venta, cancelación o modificación.
func (g *MarotoReceiptRenderer) RenderTransaction(_ context.Context, rec *entity.ReceiptRecord, req *entity.TransactionRequest) ([]byte, error) {
	m, l := g.newDocument(rec.PrintFormat, len(req.Items))

	m.AddRows(headerRows(g.issuer, titleFor(req), req.Timestamp, l)...)
	m.AddRows(idRows(rec, req.TransactionID, l)...)
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(itemRows(req.Items, l)...)
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalRows([][2]string{
		{"Subtotal", fiscal.FormatMinorUnits(req.Subtotal)},
		{"Impuesto A", fiscal.FormatMinorUnits(req.TaxA)},
		{"Impuesto B", fiscal.FormatMinorUnits(req.TaxB)},
		{"Descuento", fiscal.FormatMinorUnits(req.Discount)},
	}, "TOTAL", fiscal.FormatMinorUnits(req.Total), l)...)
	m.AddRows(qrRows(rec.QRData, l)...)

	return generate(m)
}

// RenderClosing comprobante del cierre diario.
func (g *MarotoReceiptRenderer) RenderClosing(_ context.Context, rec *entity.ReceiptRecord, req *entity.ClosingReceiptRequest) ([]byte, error) {
	m, l := g.newDocument(rec.PrintFormat, 8)

	m.AddRows(headerRows(g.issuer, "CIERRE DIARIO "+req.ClosingDate, req.Timestamp, l)...)
	m.AddRows(idRows(rec, entity.ClosingOrderID(req.ClosingDate), l)...)
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalRows([][2]string{
		{"Ventas", fiscal.FormatMinorUnits(req.TotalSales)},
		{"Devoluciones", fiscal.FormatMinorUnits(req.TotalRefunds)},
		{"Impuestos", fiscal.FormatMinorUnits(req.TaxCollected)},
		{"Efectivo", fiscal.FormatMinorUnits(req.CashTotal)},
		{"Tarjeta", fiscal.FormatMinorUnits(req.CardTotal)},
		{"Otros", fiscal.FormatMinorUnits(req.OtherTotal)},
		{"Transacciones", fmt.Sprintf("%d", req.TransactionCount)},
	}, "VENTA NETA", fiscal.FormatMinorUnits(req.NetSales), l)...)
	m.AddRows(qrRows(rec.QRData, l)...)

	return generate(m)
}

func generate(m core.Maroto) ([]byte, error) {
	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func titleFor(req *entity.TransactionRequest) string {
	switch {
	case req.TransactionType == fiscal.TransactionRefund:
		return "DEVOLUCIÓN"
	case req.Action == fiscal.ActionCancel:
		return "CANCELACIÓN"
	case req.Action == fiscal.ActionModify:
		return "MODIFICACIÓN"
	}
	return "COMPROBANTE FISCAL"
}

func headerRows(issuer, title, timestamp string, l layout) []core.Row {
	return []core.Row{
		row.New(l.fontSize+2).Add(col.New(12).Add(
			text.New(nonEmpty(issuer, "-"), props.Text{
				Style: fontstyle.Bold, Size: l.fontSize + 2, Align: align.Center, Color: colorPrimary,
			}),
		)),
		row.New(l.fontSize).Add(col.New(12).Add(
			text.New(title, props.Text{Style: fontstyle.Bold, Size: l.fontSize + 1, Align: align.Center}),
		)),
		row.New(l.fontSize).Add(col.New(12).Add(
			text.New(timestamp, props.Text{Size: l.fontSize, Align: align.Center, Color: colorGray}),
		)),
	}
}

func idRows(rec *entity.ReceiptRecord, transactionID string, l layout) []core.Row {
	small := props.Text{Size: l.fontSize - 1, Color: colorGray}
	return []core.Row{
		row.New(l.fontSize - 1).Add(col.New(12).Add(text.New("Registro: "+rec.RegistryTransactionID, small))),
		row.New(l.fontSize - 1).Add(col.New(12).Add(text.New("Transacción: "+transactionID, small))),
	}
}

// itemRows cantidad en milésimas → tres decimales.
func itemRows(items []entity.LineItem, l layout) []core.Row {
	out := make([]core.Row, 0, len(items))
	for _, it := range items {
		out = append(out, row.New(l.fontSize).Add(
			col.New(2).Add(text.New(formatQuantity(it.Quantity), props.Text{Size: l.fontSize, Align: align.Left})),
			col.New(6).Add(text.New(it.Description, props.Text{Size: l.fontSize, Align: align.Left})),
			col.New(4).Add(text.New(fiscal.FormatMinorUnits(it.LineTotal), props.Text{Size: l.fontSize, Align: align.Right})),
		))
	}
	return out
}

func totalRows(lines [][2]string, grandLabel, grandValue string, l layout) []core.Row {
	out := make([]core.Row, 0, len(lines)+1)
	for _, ln := range lines {
		out = append(out, row.New(l.fontSize).Add(
			col.New(7).Add(text.New(ln[0]+":", props.Text{Size: l.fontSize, Align: align.Right})),
			col.New(5).Add(text.New(ln[1], props.Text{Size: l.fontSize, Align: align.Right})),
		))
	}
	out = append(out, row.New(l.fontSize+2).Add(
		col.New(7).Add(text.New(grandLabel+":", props.Text{
			Style: fontstyle.Bold, Size: l.fontSize + 1, Align: align.Right, Color: colorPrimary,
		})),
		col.New(5).Add(text.New(grandValue, props.Text{
			Style: fontstyle.Bold, Size: l.fontSize + 1, Align: align.Right, Color: colorPrimary,
		})),
	))
	return out
}

func qrRows(qrData string, l layout) []core.Row {
	if qrData == "" {
		return []core.Row{row.New(l.fontSize).Add(col.New(12).Add(
			text.New("Comprobante registrado sin código de verificación.", props.Text{
				Size: l.fontSize - 1, Align: align.Center, Color: colorGray,
			}),
		))}
	}
	size := 40.0
	if l.width > 0 {
		size = l.width - 2*l.margin - 8
	}
	return []core.Row{
		row.New(3),
		row.New(size).Add(col.New(12).Add(code.NewQr(qrData, props.Rect{Percent: 95, Center: true}))),
		row.New(l.fontSize).Add(col.New(12).Add(
			text.New("Escanee el código para verificar el comprobante en el registro fiscal.", props.Text{
				Size: l.fontSize - 1, Align: align.Center, Color: colorGray,
			}),
		)),
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// formatQuantity 1500 → "1.500"; 2000 → "2".
func formatQuantity(thousandths int64) string {
	whole, frac := thousandths/1000, thousandths%1000
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	return fmt.Sprintf("%d.%03d", whole, frac)
}
