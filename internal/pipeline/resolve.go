package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/mapping"
	"github.com/JonMunkholm/catalogimport/internal/skupattern"
)

// groupBySKU derives the parent key from the SKU with the import's
// dominant pattern. An explicit parent_sku column wins.
func groupBySKU(_ context.Context, env *Env, rc *Context) error {
	if rc.ParentKey != "" {
		return nil
	}
	p, ok := skupattern.Lookup(env.Options.GroupingPattern)
	if !ok {
		return fmt.Errorf("unknown SKU pattern %q", env.Options.GroupingPattern)
	}
	parent, variant, ok := p.Extract(rc.VariantSKU)
	if !ok {
		return nil
	}
	rc.ParentKey = parent
	rc.Extracted["sku_variant_key"] = variant
	return nil
}

// resolveProduct finds the row's product by group key, then by name, and
// creates or updates it as the import mode allows.
func resolveProduct(ctx context.Context, env *Env, rc *Context) error {
	repo := env.Repo
	mode := env.Options.Mode

	existing, err := findProduct(ctx, repo, rc)
	if err != nil {
		return err
	}

	if existing == nil && mode == ModeUpdateExisting {
		// The SKU may already belong to a product under another name.
		v, err := repo.FindVariantBySKU(ctx, rc.VariantSKU)
		switch {
		case err == nil:
			existing, err = repo.GetProduct(ctx, v.ProductID)
			if err != nil {
				return err
			}
		case errors.Is(err, catalog.ErrNotFound):
			return Skip("product %q does not exist", rc.ProductName)
		default:
			return err
		}
	}

	switch {
	case existing == nil:
		p := &catalog.Product{ImportID: env.Options.ImportID}
		applyProduct(p, rc)
		if err := repo.CreateProduct(ctx, p); err != nil {
			return fmt.Errorf("create product %q: %w", rc.ProductName, err)
		}
		rc.ProductCreated = true
		rc.product = p
		env.countProduct(p.ID, true)

	case mode == ModeCreateOnly || env.seen.has("p:"+existing.ID):
		// Reused as is: create_only never mutates, and a product this
		// import already wrote is not rewritten by each of its variants.
		rc.product = existing

	default:
		name := existing.Name
		applyProduct(existing, rc)
		existing.Name = name
		existing.ImportID = env.Options.ImportID
		if err := repo.UpdateProduct(ctx, existing); err != nil {
			return fmt.Errorf("update product %q: %w", existing.Name, err)
		}
		rc.product = existing
		env.countProduct(existing.ID, false)
	}

	rc.ProductID = rc.product.ID
	return nil
}

func findProduct(ctx context.Context, repo *catalog.Repository, rc *Context) (*catalog.Product, error) {
	if rc.ParentKey != "" {
		p, err := repo.FindProductByGroupKey(ctx, rc.ParentKey)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
	}
	p, err := repo.FindProductByName(ctx, rc.ProductName)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// applyProduct copies the row's product fields onto p. Empty values keep
// what p already has.
func applyProduct(p *catalog.Product, rc *Context) {
	setString(&p.Name, rc.ProductName)
	setString(&p.Description, rc.ProductDescription)
	setString(&p.Brand, rc.Brand)
	setString(&p.Category, rc.Category)
	setString(&p.Type, rc.ProductType)
	setString(&p.Tags, rc.Tags)
	setString(&p.GroupKey, rc.ParentKey)
	if rc.MadeToMeasure {
		p.MadeToMeasure = true
	}

	meta := metadata(rc)
	if len(meta) == 0 {
		return
	}
	if p.Metadata == nil {
		p.Metadata = datatypes.JSONMap{}
	}
	for k, v := range meta {
		p.Metadata[k] = v
	}
}

// metadata collects numbered and marketplace columns, which have no
// dedicated catalog column.
func metadata(rc *Context) map[string]any {
	out := map[string]any{}
	for k, v := range rc.Raw {
		if v == "" || !mapping.IsKnownField(k) {
			continue
		}
		if strings.Contains(k, "_features_") || strings.Contains(k, "_details_") ||
			strings.HasPrefix(k, "image_url_") || isMarketplaceField(k) {
			out[k] = v
		}
	}
	if kw := rc.Extracted["made_to_measure_keyword"]; kw != "" {
		out["made_to_measure_keyword"] = kw
	}
	return out
}

var marketplaces = map[string]bool{
	"ebay": true, "amazon": true, "shopify": true, "mirakl": true, "etsy": true, "allegro": true,
}

// isMarketplaceField reports whether k is a marketplace column other than
// a price, which attach_pricing handles.
func isMarketplaceField(k string) bool {
	i := strings.IndexByte(k, '_')
	if i <= 0 {
		return false
	}
	return marketplaces[k[:i]] && !strings.HasSuffix(k, "_price")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// resolveVariant finds the variant by SKU and creates or updates it as the
// import mode allows.
func resolveVariant(ctx context.Context, env *Env, rc *Context) error {
	repo := env.Repo
	mode := env.Options.Mode

	existing, err := repo.FindVariantBySKU(ctx, rc.VariantSKU)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return err
	}

	switch {
	case existing == nil && mode == ModeUpdateExisting:
		return Skip("variant %q does not exist", rc.VariantSKU)

	case existing == nil:
		v := &catalog.Variant{ProductID: rc.ProductID, ImportID: env.Options.ImportID}
		applyVariant(v, rc)
		if err := repo.CreateVariant(ctx, v); err != nil {
			return fmt.Errorf("create variant %q: %w", rc.VariantSKU, err)
		}
		rc.VariantCreated = true
		rc.variant = v
		env.countVariant(v.ID, true)

	case mode == ModeCreateOnly:
		return Skip("variant %q already exists", rc.VariantSKU)

	default:
		applyVariant(existing, rc)
		existing.ProductID = rc.ProductID
		existing.ImportID = env.Options.ImportID
		if err := repo.UpdateVariant(ctx, existing); err != nil {
			return fmt.Errorf("update variant %q: %w", rc.VariantSKU, err)
		}
		rc.variant = existing
		env.countVariant(existing.ID, false)
	}

	rc.VariantID = rc.variant.ID
	return nil
}

func applyVariant(v *catalog.Variant, rc *Context) {
	setString(&v.SKU, rc.VariantSKU)
	setString(&v.Name, rc.VariantName)
	setString(&v.Barcode, rc.Barcode)
	if rc.StockLevel != nil {
		v.StockLevel = rc.StockLevel
	}
	if rc.WidthMM != nil {
		v.WidthMM = rc.WidthMM
	}
	if rc.HeightMM != nil {
		v.HeightMM = rc.HeightMM
	}
	if rc.DepthMM != nil {
		v.DepthMM = rc.DepthMM
	}
	if rc.WeightKG != nil {
		v.WeightKG = rc.WeightKG
	}
}

// assignAttributes stores extracted attributes on the variant.
func assignAttributes(ctx context.Context, env *Env, rc *Context) error {
	if rc.variant == nil || len(rc.Attributes) == 0 {
		return nil
	}
	return env.Repo.SetAttributes(ctx, rc.variant, rc.Attributes)
}
