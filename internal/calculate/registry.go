package calculate

import (
	"fmt"
	"sync"
)

// Formula is a named, pure, per-record metric definition. It declares the
// input fields it requires; the function is only invoked when every input
// is present and defined. Formulas never see cross-record state, which keeps
// the calculator stage embarrassingly parallel.
type Formula struct {
	Name   string
	Inputs []string
	Fn     func(inputs map[string]float64) float64
}

// Registry manages registered metric formulas
type Registry struct {
	mu       sync.RWMutex
	formulas map[string]Formula
	order    []string // Maintains registration order
}

// NewRegistry creates an empty formula registry
func NewRegistry() *Registry {
	return &Registry{
		formulas: make(map[string]Formula),
		order:    make([]string, 0),
	}
}

// Register adds a formula to the registry
func (r *Registry) Register(f Formula) error {
	if f.Name == "" {
		return fmt.Errorf("formula name cannot be empty")
	}
	if f.Fn == nil {
		return fmt.Errorf("formula %s has no function", f.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formulas[f.Name]; exists {
		return fmt.Errorf("formula %s already registered", f.Name)
	}

	r.formulas[f.Name] = f
	r.order = append(r.order, f.Name)
	return nil
}

// Get retrieves a formula by name
func (r *Registry) Get(name string) (Formula, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, exists := r.formulas[name]
	if !exists {
		return Formula{}, fmt.Errorf("formula %s not found", name)
	}
	return f, nil
}

// Has checks if a formula is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.formulas[name]
	return exists
}

// List returns all registered formulas in registration order
func (r *Registry) List() []Formula {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Formula, 0, len(r.order))
	for _, name := range r.order {
		if f, exists := r.formulas[name]; exists {
			out = append(out, f)
		}
	}
	return out
}

// Names returns all registered formula names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered formulas
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.formulas)
}
