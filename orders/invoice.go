package orders

import (
	"bytes"
	"fmt"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"

	"storefront/models"
)

// RenderInvoice builds a one-page PDF invoice with a QR code of the order
// number in the top right corner.
func RenderInvoice(o *models.Order) ([]byte, error) {
	qrPNG, err := qrcode.Encode(fmt.Sprintf("%s|%s", o.OrderNumber, o.ID), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("invoice qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Invoice")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 7, "Order: "+o.OrderNumber)
	pdf.Ln(6)
	pdf.Cell(0, 7, "Date: "+o.CreatedAt.Format("02 Jan 2006"))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Payment: %s (%s)", o.PaymentMethod, o.PaymentStatus))
	pdf.Ln(10)

	a := o.BillingAddress
	if a.IsZero() {
		a = o.ShippingAddress
	}
	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 7, "Bill to")
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 11)
	for _, line := range []string{a.FullName, a.Line1, a.Line2, a.City + ", " + a.State + " " + a.PostalCode, a.Country, a.Phone} {
		if line == "" {
			continue
		}
		pdf.Cell(0, 6, line)
		pdf.Ln(5)
	}
	pdf.Ln(6)

	imageOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", imageOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 160, 15, 35, 35, false, imageOpts, 0, "")

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(95, 8, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 8, "Qty", "1", 0, "C", true, 0, "")
	pdf.CellFormat(35, 8, "Unit", "1", 0, "R", true, 0, "")
	pdf.CellFormat(40, 8, "Amount", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	for _, it := range o.Items {
		pdf.CellFormat(95, 8, label(it), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 8, fmt.Sprintf("%d", it.Quantity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 8, money(it.Price), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 8, money(it.LineTotal()), "1", 1, "R", false, 0, "")
	}

	total := func(name string, v float64, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Arial", style, 10)
		pdf.CellFormat(150, 8, name, "", 0, "R", false, 0, "")
		pdf.CellFormat(40, 8, money(v), "", 1, "R", false, 0, "")
	}
	total("Subtotal", o.Subtotal, false)
	if o.Discount > 0 {
		name := "Discount"
		if o.CouponCode != "" {
			name += " (" + o.CouponCode + ")"
		}
		total(name, -o.Discount, false)
	}
	total("Total", o.Total, true)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("invoice pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func money(v float64) string {
	return fmt.Sprintf("%s %.2f", models.Currency, v)
}
