// Package mapping resolves raw spreadsheet headers to canonical catalog fields.
//
// Resolution is first-match-wins over five ordered rule sets: an exact
// synonym dictionary, numbered-slot templates, marketplace templates,
// attribute templates and finally a whole-word containment fallback against
// the dictionary keys. Headers no rule recognizes stay unmapped.
package mapping

// Canonical field names.
const (
	FieldProductName        = "product_name"
	FieldProductDescription = "product_description"
	FieldProductBrand       = "product_brand"
	FieldProductCategory    = "product_category"
	FieldProductType        = "product_type"
	FieldProductTags        = "product_tags"
	FieldVariantSKU         = "variant_sku"
	FieldVariantName        = "variant_name"
	FieldParentSKU          = "parent_sku"
	FieldRetailPrice        = "retail_price"
	FieldCostPrice          = "cost_price"
	FieldSalePrice          = "sale_price"
	FieldStockLevel         = "stock_level"
	FieldBarcode            = "barcode"
	FieldWeight             = "weight_kg"
	FieldWidth              = "width_mm"
	FieldHeight             = "height_mm"
	FieldDepth              = "depth_mm"
	FieldDimensions         = "dimensions"
	FieldPackageWidth       = "package_width_mm"
	FieldPackageHeight      = "package_height_mm"
	FieldPackageDepth       = "package_depth_mm"
	FieldPackageWeight      = "package_weight_kg"
	FieldMadeToMeasure      = "made_to_measure"
	FieldColor              = "color"
	FieldSize               = "size"
	FieldMaterial           = "material"
	FieldFireRating         = "fire_rating"
	FieldFinish             = "finish"
	FieldStyle              = "style"
	FieldPattern            = "pattern"
	FieldWarranty           = "warranty"
	FieldCountryOfOrigin    = "country_of_origin"
	FieldAssembly           = "assembly_required"
)

// RequiredFields must each be mapped by at least one column.
var RequiredFields = []string{FieldProductName, FieldVariantSKU}

// MaxSlot caps the index of numbered fields such as product_features_N.
const MaxSlot = 5

// DefaultCoverageFloor is the mapped-column ratio below which a mapping
// needs review.
const DefaultCoverageFloor = 0.3

// AttributeFields are canonical fields stored as free-form variant attributes.
var AttributeFields = []string{
	FieldColor, FieldSize, FieldMaterial, FieldFireRating, FieldFinish,
	FieldStyle, FieldPattern, FieldWarranty, FieldCountryOfOrigin, FieldAssembly,
}

// synonyms maps normalized header text to a canonical field.
var synonyms = map[string]string{
	"product name":  FieldProductName,
	"product":       FieldProductName,
	"name":          FieldProductName,
	"title":         FieldProductName,
	"product title": FieldProductName,
	"item name":     FieldProductName,

	"sku":            FieldVariantSKU,
	"variant sku":    FieldVariantSKU,
	"item sku":       FieldVariantSKU,
	"product code":   FieldVariantSKU,
	"item code":      FieldVariantSKU,
	"article number": FieldVariantSKU,
	"part number":    FieldVariantSKU,
	"mpn":            FieldVariantSKU,

	"parent sku":   FieldParentSKU,
	"group sku":    FieldParentSKU,
	"style number": FieldParentSKU,
	"parent code":  FieldParentSKU,

	"variant name": FieldVariantName,
	"variant":      FieldVariantName,
	"option":       FieldVariantName,

	"price":         FieldRetailPrice,
	"retail price":  FieldRetailPrice,
	"rrp":           FieldRetailPrice,
	"msrp":          FieldRetailPrice,
	"selling price": FieldRetailPrice,
	"list price":    FieldRetailPrice,

	"cost":            FieldCostPrice,
	"cost price":      FieldCostPrice,
	"unit cost":       FieldCostPrice,
	"purchase price":  FieldCostPrice,
	"wholesale price": FieldCostPrice,

	"sale price":     FieldSalePrice,
	"special price":  FieldSalePrice,
	"discount price": FieldSalePrice,

	"qty":         FieldStockLevel,
	"quantity":    FieldStockLevel,
	"stock":       FieldStockLevel,
	"stock level": FieldStockLevel,
	"stock qty":   FieldStockLevel,
	"inventory":   FieldStockLevel,
	"on hand":     FieldStockLevel,

	"barcode": FieldBarcode,
	"ean":     FieldBarcode,
	"ean13":   FieldBarcode,
	"upc":     FieldBarcode,
	"gtin":    FieldBarcode,

	"description":         FieldProductDescription,
	"product description": FieldProductDescription,
	"long description":    FieldProductDescription,

	"brand":        FieldProductBrand,
	"manufacturer": FieldProductBrand,
	"vendor":       FieldProductBrand,

	"category":         FieldProductCategory,
	"product category": FieldProductCategory,
	"department":       FieldProductCategory,

	"type":         FieldProductType,
	"product type": FieldProductType,

	"tags":     FieldProductTags,
	"keywords": FieldProductTags,

	"weight": FieldWeight,
	"width":  FieldWidth,
	"height": FieldHeight,
	"depth":  FieldDepth,
	"length": FieldDepth,

	"dimensions":   FieldDimensions,
	"dimension":    FieldDimensions,
	"measurements": FieldDimensions,

	"package width":   FieldPackageWidth,
	"package height":  FieldPackageHeight,
	"package depth":   FieldPackageDepth,
	"package length":  FieldPackageDepth,
	"package weight":  FieldPackageWeight,
	"shipping weight": FieldPackageWeight,

	"made to measure": FieldMadeToMeasure,
	"mtm":             FieldMadeToMeasure,
	"bespoke":         FieldMadeToMeasure,

	"color":  FieldColor,
	"colour": FieldColor,
	"size":   FieldSize,

	"material": FieldMaterial,
	"finish":   FieldFinish,
	"style":    FieldStyle,
	"pattern":  FieldPattern,
	"warranty": FieldWarranty,
	"origin":   FieldCountryOfOrigin,
}

// unitFields are headers that carry their unit in the name. Their values are
// converted to the canonical unit before use.
var unitFields = map[string]struct {
	target string
	factor float64
}{
	"width_cm":  {FieldWidth, 10},
	"width_in":  {FieldWidth, 25.4},
	"height_cm": {FieldHeight, 10},
	"height_in": {FieldHeight, 25.4},
	"depth_cm":  {FieldDepth, 10},
	"depth_in":  {FieldDepth, 25.4},
	"weight_g":  {FieldWeight, 0.001},
	"weight_lb": {FieldWeight, 0.45359237},
}

// UnitConversion returns the canonical field and the multiplier for a field
// whose header named a non-canonical unit.
func UnitConversion(field string) (target string, factor float64, ok bool) {
	u, ok := unitFields[field]
	if !ok {
		return "", 0, false
	}
	return u.target, u.factor, true
}
