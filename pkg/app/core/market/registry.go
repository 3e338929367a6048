package market

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds instrument reference data. The venue path and the HTTP API
// read it from different goroutines, so it keeps its own lock.
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument // symbol -> instrument
}

func NewRegistry() *Registry {
	return &Registry{
		instruments: make(map[string]*Instrument),
	}
}

// Register adds an instrument. Returns error if the symbol already exists.
func (r *Registry) Register(in *Instrument) error {
	if in == nil {
		return fmt.Errorf("cannot register nil instrument")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instruments[in.Symbol]; exists {
		return fmt.Errorf("instrument %s already registered", in.Symbol)
	}
	r.instruments[in.Symbol] = in
	return nil
}

// Get returns a copy of the instrument so callers never race with status updates.
func (r *Registry) Get(symbol string) (Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	in, exists := r.instruments[symbol]
	if !exists {
		return Instrument{}, fmt.Errorf("instrument %s not found", symbol)
	}
	return *in, nil
}

// List returns all instruments sorted by symbol.
func (r *Registry) List() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Instrument, 0, len(r.instruments))
	for _, in := range r.instruments {
		out = append(out, *in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// UpdateStatus halts, resumes or closes an instrument.
func (r *Registry) UpdateStatus(symbol string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, exists := r.instruments[symbol]
	if !exists {
		return fmt.Errorf("instrument %s not found", symbol)
	}
	// Closed is terminal
	if in.Status == Closed {
		return fmt.Errorf("cannot change status of closed instrument %s", symbol)
	}
	in.Status = status
	return nil
}

// SetReferencePx moves the reference price used by collars and reference fills.
func (r *Registry) SetReferencePx(symbol string, px int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, exists := r.instruments[symbol]
	if !exists {
		return fmt.Errorf("instrument %s not found", symbol)
	}
	in.ReferencePx = px
	return nil
}

func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.instruments[symbol]
	return exists
}
