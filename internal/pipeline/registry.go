package pipeline

import (
	"fmt"
	"sync"
)

// Registration is a step with its failure policy and feature toggle.
type Registration struct {
	Step Step

	// Optional steps log a warning on failure and the row continues.
	Optional bool

	// Enabled decides per import whether the step runs. Nil means always.
	Enabled func(Options) bool
}

// Registry holds steps in execution order.
type Registry struct {
	mu    sync.RWMutex
	steps []Registration
	names map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register appends a step.
// Panics if a step with the same name is already registered.
func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := reg.Step.Name()
	if r.names[name] {
		panic(fmt.Sprintf("pipeline step already registered: %s", name))
	}
	r.names[name] = true
	r.steps = append(r.steps, reg)
}

// Get returns a registered step by name.
// Returns false if not found.
func (r *Registry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.steps {
		if reg.Step.Name() == name {
			return reg, true
		}
	}
	return Registration{}, false
}

// All returns every registered step in execution order.
func (r *Registry) All() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, len(r.steps))
	copy(out, r.steps)
	return out
}

// Active returns the steps enabled for opts, in execution order.
func (r *Registry) Active(opts Options) []Registration {
	var out []Registration
	for _, reg := range r.All() {
		if reg.Enabled == nil || reg.Enabled(opts) {
			out = append(out, reg)
		}
	}
	return out
}

// Names returns the step names in execution order.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, reg := range all {
		names[i] = reg.Step.Name()
	}
	return names
}

// Step names of the default pipeline.
const (
	StepNormalize         = "normalize"
	StepExtractAttributes = "extract_attributes"
	StepSkuGrouping       = "sku_grouping"
	StepResolveProduct    = "resolve_product"
	StepResolveVariant    = "resolve_variant"
	StepAssignAttributes  = "assign_attributes"
	StepAttachBarcode     = "attach_barcode"
	StepAttachPricing     = "attach_pricing"
)

// DefaultRegistry returns the standard step order.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Registration{Step: StepFunc{StepNormalize, normalize}})
	r.Register(Registration{
		Step:     StepFunc{StepExtractAttributes, extractAttributes},
		Optional: true,
		Enabled:  func(o Options) bool { return o.ExtractAttributes || o.DetectMadeToMeasure },
	})
	r.Register(Registration{
		Step:     StepFunc{StepSkuGrouping, groupBySKU},
		Optional: true,
		Enabled:  func(o Options) bool { return o.SkuGrouping && o.GroupingPattern != "" },
	})
	r.Register(Registration{Step: StepFunc{StepResolveProduct, resolveProduct}})
	r.Register(Registration{Step: StepFunc{StepResolveVariant, resolveVariant}})
	r.Register(Registration{
		Step:     StepFunc{StepAssignAttributes, assignAttributes},
		Optional: true,
		Enabled:  func(o Options) bool { return o.ExtractAttributes },
	})
	r.Register(Registration{
		Step:     StepFunc{StepAttachBarcode, attachBarcode},
		Optional: true,
	})
	r.Register(Registration{Step: StepFunc{StepAttachPricing, attachPricing}})
	return r
}
