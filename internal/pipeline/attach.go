package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// attachBarcode assigns a pool barcode to variants that have none.
func attachBarcode(ctx context.Context, env *Env, rc *Context) error {
	v := rc.variant
	if v == nil || v.Barcode != "" || !env.Options.AutoAssignBarcodes {
		return nil
	}

	code, err := env.Repo.ReserveBarcode(ctx, v.ID)
	if errors.Is(err, catalog.ErrPoolExhausted) {
		return fmt.Errorf("no free barcode for %s: %w", v.SKU, err)
	}
	if err != nil {
		return err
	}

	v.Barcode = code
	if err := env.Repo.UpdateVariant(ctx, v); err != nil {
		return fmt.Errorf("store barcode on %s: %w", v.SKU, err)
	}
	rc.Barcode = code
	env.stats.BarcodesAssigned++
	return nil
}

// attachPricing writes the row's retail, cost, sale and marketplace prices.
func attachPricing(ctx context.Context, env *Env, rc *Context) error {
	if rc.variant == nil {
		return nil
	}

	prices := map[string]*float64{
		catalog.ChannelRetail: rc.RetailPrice,
		catalog.ChannelCost:   rc.CostPrice,
		catalog.ChannelSale:   rc.SalePrice,
	}
	for k, raw := range rc.Raw {
		channel, ok := strings.CutSuffix(k, "_price")
		if !ok || !marketplaces[channel] {
			continue
		}
		if v, ok := validation.ParseNumber(raw); ok && v >= 0 {
			prices[channel] = &v
		}
	}

	channels := make([]string, 0, len(prices))
	for ch, amount := range prices {
		if amount != nil {
			channels = append(channels, ch)
		}
	}
	sort.Strings(channels)

	for _, ch := range channels {
		if err := env.Repo.AttachPrice(ctx, rc.VariantID, ch, *prices[ch], env.Options.Extraction.Currency); err != nil {
			return err
		}
		env.stats.PricesAttached++
	}
	return nil
}
