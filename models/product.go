package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/blendsoftware/pos_backend/config"
	"bitbucket.org/blendsoftware/pos_backend/utils"
	"github.com/shopspring/decimal"
)

// Catalog rows. Full catalog management lives in another service; these
// models exist for id validation, name resolution and the unit-price
// snapshot taken when a shipment line is created.

type Product struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	Name       string          `gorm:"index;size:255;not null" json:"name"`
	Sku        string          `gorm:"size:100" json:"sku"`
	SalesPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sales_price"`
	IsActive   *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type ProductSize struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:50;not null" json:"name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type ProductColor struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:50;not null" json:"name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name       string          `json:"name" validate:"required"`
	Sku        string          `json:"sku"`
	SalesPrice decimal.Decimal `json:"sales_price"`
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Product](ctx, businessId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	product := Product{
		BusinessId: businessId,
		Name:       input.Name,
		Sku:        input.Sku,
		SalesPrice: input.SalesPrice,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	return utils.FetchModel[Product](ctx, businessId, id)
}

func CreateProductSize(ctx context.Context, name string) (*ProductSize, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateUnique[ProductSize](ctx, businessId, "name", name, 0); err != nil {
		return nil, err
	}

	size := ProductSize{BusinessId: businessId, Name: name}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&size).Error; err != nil {
		return nil, err
	}
	return &size, nil
}

func CreateProductColor(ctx context.Context, name string) (*ProductColor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateUnique[ProductColor](ctx, businessId, "name", name, 0); err != nil {
		return nil, err
	}

	color := ProductColor{BusinessId: businessId, Name: name}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&color).Error; err != nil {
		return nil, err
	}
	return &color, nil
}
