package models

import (
	"context"
	"errors"
	"fmt"
	"io"

	"bitbucket.org/blendsoftware/pos_backend/utils"
	"github.com/xuri/excelize/v2"
)

// ExportBranchStockXLSX writes the branch's variant-level stock as an
// xlsx workbook. One row per variant row with stock on hand, with the
// product-level totals on a second sheet.
func ExportBranchStockXLSX(ctx context.Context, branchId int, w io.Writer) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}

	variants, err := ListVariantStocks(ctx, branchId)
	if err != nil {
		return err
	}
	summaries, err := GetAvailableStocks(ctx, branchId)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	sheetName := "Variants"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	// Add headers
	f.SetCellValue(sheetName, "A1", "Barcode")
	f.SetCellValue(sheetName, "B1", "ProductId")
	f.SetCellValue(sheetName, "C1", "SizeId")
	f.SetCellValue(sheetName, "D1", "ColorId")
	f.SetCellValue(sheetName, "E1", "Qty")

	// Add data
	for i, v := range variants {
		f.SetCellValue(sheetName, "A"+fmt.Sprint(i+2), v.Barcode)
		f.SetCellValue(sheetName, "B"+fmt.Sprint(i+2), v.ProductId)
		f.SetCellValue(sheetName, "C"+fmt.Sprint(i+2), v.SizeId)
		f.SetCellValue(sheetName, "D"+fmt.Sprint(i+2), v.ColorId)
		f.SetCellValue(sheetName, "E"+fmt.Sprint(i+2), v.Qty.InexactFloat64())
	}

	summarySheet := "Totals"
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	f.SetCellValue(summarySheet, "A1", "ProductId")
	f.SetCellValue(summarySheet, "B1", "CurrentQty")
	for i, s := range summaries {
		f.SetCellValue(summarySheet, "A"+fmt.Sprint(i+2), s.ProductId)
		f.SetCellValue(summarySheet, "B"+fmt.Sprint(i+2), s.CurrentQty.InexactFloat64())
	}

	return f.Write(w)
}
