package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a product or variant lookup has no match.
	ErrNotFound = errors.New("catalog record not found")

	// ErrPoolExhausted is returned when no free barcode is left.
	ErrPoolExhausted = errors.New("barcode pool exhausted")
)

// reserveAttempts bounds how often Reserve retries after losing a race
// for the same free code.
const reserveAttempts = 5

// Repository handles catalog reads and writes.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository over db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying handle.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// WithTx returns a repository bound to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Transaction runs fn inside a database transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

// FindProductByName returns the product with the exact name.
func (r *Repository) FindProductByName(ctx context.Context, name string) (*Product, error) {
	var p Product
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		return nil, notFound(err, "product "+name)
	}
	return &p, nil
}

// FindProductByGroupKey returns the first product created for a SKU group.
func (r *Repository) FindProductByGroupKey(ctx context.Context, key string) (*Product, error) {
	var p Product
	if err := r.db.WithContext(ctx).Where("group_key = ?", key).Order("created_at").First(&p).Error; err != nil {
		return nil, notFound(err, "product group "+key)
	}
	return &p, nil
}

// GetProduct returns a product with its variants and their prices.
func (r *Repository) GetProduct(ctx context.Context, id string) (*Product, error) {
	var p Product
	err := r.db.WithContext(ctx).
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("sku") }).
		Preload("Variants.Prices").
		First(&p, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "product "+id)
	}
	return &p, nil
}

// CreateProduct inserts a product.
func (r *Repository) CreateProduct(ctx context.Context, p *Product) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// UpdateProduct saves all fields of an existing product.
func (r *Repository) UpdateProduct(ctx context.Context, p *Product) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(p).Error
}

// FindVariantBySKU returns the variant with the SKU.
func (r *Repository) FindVariantBySKU(ctx context.Context, sku string) (*Variant, error) {
	var v Variant
	if err := r.db.WithContext(ctx).Where("sku = ?", sku).First(&v).Error; err != nil {
		return nil, notFound(err, "variant "+sku)
	}
	return &v, nil
}

// CreateVariant inserts a variant.
func (r *Repository) CreateVariant(ctx context.Context, v *Variant) error {
	return r.db.WithContext(ctx).Create(v).Error
}

// UpdateVariant saves all fields of an existing variant.
func (r *Repository) UpdateVariant(ctx context.Context, v *Variant) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(v).Error
}

// SetAttributes merges attrs into the variant's attribute document.
// Empty values remove the key.
func (r *Repository) SetAttributes(ctx context.Context, v *Variant, attrs map[string]string) error {
	if len(attrs) == 0 {
		return nil
	}
	merged := datatypes.JSONMap{}
	for k, val := range v.Attributes {
		merged[k] = val
	}
	for k, val := range attrs {
		if val == "" {
			delete(merged, k)
			continue
		}
		merged[k] = val
	}
	if err := r.db.WithContext(ctx).Model(v).Update("attributes", merged).Error; err != nil {
		return fmt.Errorf("set attributes of %s: %w", v.SKU, err)
	}
	v.Attributes = merged
	return nil
}

// ExistingProductNames returns which of names already exist.
func (r *Repository) ExistingProductNames(ctx context.Context, names []string) (map[string]bool, error) {
	return r.existing(ctx, &Product{}, "name", names)
}

// ExistingSKUs returns which of skus already exist.
func (r *Repository) ExistingSKUs(ctx context.Context, skus []string) (map[string]bool, error) {
	return r.existing(ctx, &Variant{}, "sku", skus)
}

func (r *Repository) existing(ctx context.Context, model any, column string, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	const batch = 500
	for start := 0; start < len(keys); start += batch {
		end := start + batch
		if end > len(keys) {
			end = len(keys)
		}
		var found []string
		err := r.db.WithContext(ctx).Model(model).
			Where(column+" IN ?", keys[start:end]).
			Pluck(column, &found).Error
		if err != nil {
			return nil, fmt.Errorf("lookup existing %s: %w", column, err)
		}
		for _, k := range found {
			out[k] = true
		}
	}
	return out, nil
}

// AttachPrice sets the variant's amount on a channel, replacing any
// previous amount.
func (r *Repository) AttachPrice(ctx context.Context, variantID, channel string, amount float64, currency string) error {
	p := Price{
		VariantID: variantID,
		Channel:   channel,
		Amount:    amount,
		Currency:  currency,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "variant_id"}, {Name: "channel"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "currency", "updated_at"}),
	}).Create(&p).Error
	if err != nil {
		return fmt.Errorf("attach %s price: %w", channel, err)
	}
	return nil
}

// Prices returns the prices of a variant keyed by channel.
func (r *Repository) Prices(ctx context.Context, variantID string) (map[string]float64, error) {
	var prices []Price
	if err := r.db.WithContext(ctx).Where("variant_id = ?", variantID).Find(&prices).Error; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(prices))
	for _, p := range prices {
		out[p.Channel] = p.Amount
	}
	return out, nil
}

// Counts returns the number of products and variants.
func (r *Repository) Counts(ctx context.Context) (products, variants int64, err error) {
	if err = r.db.WithContext(ctx).Model(&Product{}).Count(&products).Error; err != nil {
		return 0, 0, err
	}
	if err = r.db.WithContext(ctx).Model(&Variant{}).Count(&variants).Error; err != nil {
		return 0, 0, err
	}
	return products, variants, nil
}

func now() time.Time {
	return time.Now().UTC()
}
