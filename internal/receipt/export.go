package receipt

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	ExportSheet    = "Receipts"
	ExportFilename = "receipts.xlsx"
	XLSXMimeType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var exportHeader = []any{
	"receipt_id",
	"receipt_date",
	"receipt_time",
	"total_amount",
	"payment_method",
	"store_name",
	"store_city",
	"store_address",
	"product_name",
	"quantity",
	"unit_price",
	"total_price_with_discount",
}

// WriteWorkbook renders the export rows as a single-sheet spreadsheet
func WriteWorkbook(w io.Writer, rows []ExportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if err := f.SetSheetRow(ExportSheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		var unitPrice any = ""
		if r.UnitPrice != nil {
			unitPrice = *r.UnitPrice
		}
		values := []any{
			r.ReceiptID,
			r.ReceiptDate,
			r.ReceiptTime,
			r.TotalAmount,
			r.PaymentMethod,
			r.StoreName,
			r.StoreCity,
			r.StoreAddress,
			r.ProductName,
			r.Quantity,
			unitPrice,
			r.TotalPriceWithDiscount,
		}
		if err := f.SetSheetRow(ExportSheet, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
