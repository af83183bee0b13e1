package models

import (
	"log"

	"bitbucket.org/blendsoftware/pos_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &Branch{},
		&Product{}, &ProductSize{}, &ProductColor{},
		&VariantStock{}, &StockSummary{},
		&Shipment{}, &ShipmentDetail{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
