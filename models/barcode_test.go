package models

import (
	"strings"
	"testing"
)

func TestGenerateBarcodeFormat(t *testing.T) {
	code := GenerateBarcode(42, 3, 7)

	if len(code) != 13 {
		t.Fatalf("expected 13 digit barcode; got %q (%d)", code, len(code))
	}
	if !strings.HasPrefix(code, "2") {
		t.Fatalf("expected internal-range prefix 2; got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("expected numeric barcode; got %q", code)
		}
	}
	// product/size/color encode deterministically, only the suffix varies.
	if got := code[:10]; got != "2000420307" {
		t.Fatalf("expected variant prefix 2000420307; got %q", got)
	}
}

func TestGenerateBarcodeWrapsWideIds(t *testing.T) {
	code := GenerateBarcode(123456, 104, 211)
	if got := code[:10]; got != "2234560411" {
		t.Fatalf("expected wrapped prefix 2234560411; got %q", got)
	}
	if len(code) != 13 {
		t.Fatalf("expected 13 digit barcode; got %q", code)
	}
}

func TestGenerateBarcodeAbsentSizeColor(t *testing.T) {
	// Size/color id 0 means the product has no such axis.
	code := GenerateBarcode(7, 0, 0)
	if got := code[:10]; got != "2000070000" {
		t.Fatalf("expected prefix 2000070000; got %q", got)
	}
}
