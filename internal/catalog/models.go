// Package catalog persists imported products, variants, barcodes and prices
// with gorm. Products are keyed by name and variants by SKU, which are the
// natural keys an import file can carry.
package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Product is a sellable item. Variants carry SKUs, stock and prices.
type Product struct {
	ID            string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name          string            `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Description   string            `gorm:"type:text" json:"description,omitempty"`
	Brand         string            `gorm:"size:255" json:"brand,omitempty"`
	Category      string            `gorm:"size:255;index" json:"category,omitempty"`
	Type          string            `gorm:"size:100" json:"type,omitempty"`
	Tags          string            `gorm:"type:text" json:"tags,omitempty"`
	GroupKey      string            `gorm:"size:128;index" json:"group_key,omitempty"`
	MadeToMeasure bool              `gorm:"default:false" json:"made_to_measure"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	ImportID      string            `gorm:"size:36;index" json:"import_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`

	Variants []Variant `gorm:"foreignKey:ProductID" json:"variants,omitempty"`
}

// TableName specifies the table name.
func (Product) TableName() string {
	return "catalog_products"
}

// BeforeCreate assigns an ID when none was set.
func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Variant is one purchasable configuration of a product.
type Variant struct {
	ID         string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	ProductID  string            `gorm:"type:varchar(36);not null;index" json:"product_id"`
	SKU        string            `gorm:"size:64;not null;uniqueIndex" json:"sku"`
	Name       string            `gorm:"size:255" json:"name,omitempty"`
	Barcode    string            `gorm:"size:14;index" json:"barcode,omitempty"`
	StockLevel *int              `json:"stock_level,omitempty"`
	WidthMM    *float64          `json:"width_mm,omitempty"`
	HeightMM   *float64          `json:"height_mm,omitempty"`
	DepthMM    *float64          `json:"depth_mm,omitempty"`
	WeightKG   *float64          `json:"weight_kg,omitempty"`
	Attributes datatypes.JSONMap `json:"attributes,omitempty"`
	ImportID   string            `gorm:"size:36;index" json:"import_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`

	Prices []Price `gorm:"foreignKey:VariantID" json:"prices,omitempty"`
}

// TableName specifies the table name.
func (Variant) TableName() string {
	return "catalog_variants"
}

// BeforeCreate assigns an ID when none was set.
func (v *Variant) BeforeCreate(*gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}

// Barcode is an EAN/GTIN code in the assignable pool. VariantID is empty
// while the code is free.
type Barcode struct {
	Code       string     `gorm:"size:14;primaryKey" json:"code"`
	VariantID  *string    `gorm:"type:varchar(36);index" json:"variant_id,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName specifies the table name.
func (Barcode) TableName() string {
	return "catalog_barcodes"
}

// Price channels written by the importer. Marketplace prices use the
// marketplace name as channel.
const (
	ChannelRetail = "retail"
	ChannelCost   = "cost"
	ChannelSale   = "sale"
)

// Price is the amount of a variant on one sales channel.
type Price struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	VariantID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_price_variant_channel" json:"variant_id"`
	Channel   string    `gorm:"size:50;not null;uniqueIndex:idx_price_variant_channel" json:"channel"`
	Amount    float64   `gorm:"not null" json:"amount"`
	Currency  string    `gorm:"size:3" json:"currency,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name.
func (Price) TableName() string {
	return "catalog_prices"
}

// BeforeCreate assigns an ID when none was set.
func (p *Price) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Models lists every table managed by Migrate.
func Models() []any {
	return []any{&Product{}, &Variant{}, &Barcode{}, &Price{}}
}
