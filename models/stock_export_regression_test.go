package models_test

import (
	"bytes"
	"testing"

	"bitbucket.org/blendsoftware/pos_backend/models"
	"bitbucket.org/blendsoftware/pos_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func TestExportBranchStockXLSXWritesVariantAndTotalSheets(t *testing.T) {
	ctx, db := connectTestStack(t)

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "Test Retail",
		Email: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)

	main, err := models.CreateBranch(ctx, &models.NewBranch{Name: "Main", Phone: "0911111111"})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	small, err := models.CreateProductSize(ctx, "S")
	if err != nil {
		t.Fatalf("CreateProductSize: %v", err)
	}
	medium, err := models.CreateProductSize(ctx, "M")
	if err != nil {
		t.Fatalf("CreateProductSize: %v", err)
	}
	shirt, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Shirt",
		Sku:        "SHIRT-020",
		SalesPrice: decimal.NewFromInt(10000),
	})
	if err != nil {
		t.Fatalf("CreateProduct(shirt): %v", err)
	}
	hat, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Hat",
		Sku:        "HAT-001",
		SalesPrice: decimal.NewFromInt(4000),
	})
	if err != nil {
		t.Fatalf("CreateProduct(hat): %v", err)
	}

	// Two size rows for the shirt, one row for the hat.
	tx := db.Begin()
	for _, seed := range []struct {
		productId int
		sizeId    int
		qty       int64
	}{
		{shirt.ID, small.ID, 7},
		{shirt.ID, medium.ID, 3},
		{hat.ID, 0, 2},
	} {
		if _, err := models.AdjustVariantStock(tx.WithContext(ctx), businessID,
			seed.productId, seed.sizeId, 0, main.ID, decimal.NewFromInt(seed.qty), ""); err != nil {
			tx.Rollback()
			t.Fatalf("seed (%d,%d): %v", seed.productId, seed.sizeId, err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit seed: %v", err)
	}

	var buf bytes.Buffer
	if err := models.ExportBranchStockXLSX(ctx, main.ID, &buf); err != nil {
		t.Fatalf("ExportBranchStockXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open exported workbook: %v", err)
	}
	defer f.Close()

	variantRows, err := f.GetRows("Variants")
	if err != nil {
		t.Fatalf("GetRows(Variants): %v", err)
	}
	if len(variantRows) != 4 {
		t.Fatalf("expected header + 3 variant rows; got %d", len(variantRows))
	}
	if len(variantRows[0]) < 5 || variantRows[0][0] != "Barcode" || variantRows[0][4] != "Qty" {
		t.Fatalf("unexpected variant header row: %v", variantRows[0])
	}
	for _, row := range variantRows[1:] {
		if len(row) == 0 || len(row[0]) != 13 {
			t.Fatalf("expected a 13 digit barcode in each variant row; got %v", row)
		}
	}

	totalRows, err := f.GetRows("Totals")
	if err != nil {
		t.Fatalf("GetRows(Totals): %v", err)
	}
	if len(totalRows) != 3 {
		t.Fatalf("expected header + 2 product totals; got %d", len(totalRows))
	}
	if totalRows[0][0] != "ProductId" || totalRows[0][1] != "CurrentQty" {
		t.Fatalf("unexpected totals header row: %v", totalRows[0])
	}
}
