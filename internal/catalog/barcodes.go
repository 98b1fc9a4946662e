package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddBarcodes puts codes into the free pool. Codes already present are
// ignored. It returns the number of codes added.
func (r *Repository) AddBarcodes(ctx context.Context, codes []string) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	rows := make([]Barcode, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, Barcode{Code: c})
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("add barcodes: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// AvailableBarcodes returns the number of unassigned codes.
func (r *Repository) AvailableBarcodes(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Barcode{}).Where("variant_id IS NULL").Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count free barcodes: %w", err)
	}
	return n, nil
}

// ReserveBarcode assigns a free code to the variant and returns it. The
// claim is a conditional update, so two workers never get the same code.
func (r *Repository) ReserveBarcode(ctx context.Context, variantID string) (string, error) {
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		var free Barcode
		err := r.db.WithContext(ctx).
			Where("variant_id IS NULL").
			Order("code").
			First(&free).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrPoolExhausted
		}
		if err != nil {
			return "", fmt.Errorf("find free barcode: %w", err)
		}

		res := r.db.WithContext(ctx).Model(&Barcode{}).
			Where("code = ? AND variant_id IS NULL", free.Code).
			Updates(map[string]any{"variant_id": variantID, "assigned_at": now()})
		if res.Error != nil {
			return "", fmt.Errorf("reserve barcode %s: %w", free.Code, res.Error)
		}
		if res.RowsAffected == 1 {
			return free.Code, nil
		}
	}
	return "", fmt.Errorf("reserve barcode: lost %d races for a free code", reserveAttempts)
}

// ReleaseBarcodes returns every code assigned to the variant to the pool.
func (r *Repository) ReleaseBarcodes(ctx context.Context, variantID string) error {
	return r.db.WithContext(ctx).Model(&Barcode{}).
		Where("variant_id = ?", variantID).
		Updates(map[string]any{"variant_id": nil, "assigned_at": nil}).Error
}
