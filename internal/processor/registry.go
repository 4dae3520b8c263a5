package processor

import (
	"context"
	"fmt"
	"sort"

	"github.com/JakeFAU/socialscope/internal/dataset"
)

// Override adjusts a registered processor from configuration.
type Override struct {
	Accepts     []string `mapstructure:"accepts"`
	Datasources []string `mapstructure:"datasources"`
	Disabled    bool     `mapstructure:"disabled"`
}

// Registry is the static mapping from processor id to processor, populated once at startup.
type Registry struct {
	byID map[string]Processor
}

// NewRegistry registers procs. Ids must be unique and every processor needs a Run func.
func NewRegistry(procs ...Processor) (*Registry, error) {
	r := &Registry{byID: make(map[string]Processor, len(procs))}
	for _, p := range procs {
		if p.ID == "" {
			return nil, fmt.Errorf("processor without id")
		}
		if p.Run == nil {
			return nil, fmt.Errorf("processor %s has no implementation", p.ID)
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("processor %s registered twice", p.ID)
		}
		r.byID[p.ID] = p
	}
	return r, nil
}

// Configure applies overrides and returns a new registry. Disabled processors are removed.
func (r *Registry) Configure(overrides map[string]Override) (*Registry, error) {
	out := &Registry{byID: make(map[string]Processor, len(r.byID))}
	for id, p := range r.byID {
		out.byID[id] = p
	}
	for id, o := range overrides {
		p, ok := out.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProcessor, id)
		}
		if o.Disabled {
			delete(out.byID, id)
			continue
		}
		if o.Accepts != nil {
			p.Accepts = append([]string(nil), o.Accepts...)
		}
		if o.Datasources != nil {
			p.Datasources = append([]string(nil), o.Datasources...)
		}
		out.byID[id] = p
	}
	return out, nil
}

// Get returns the processor registered as id.
func (r *Registry) Get(id string) (Processor, error) {
	p, ok := r.byID[id]
	if !ok {
		return Processor{}, fmt.Errorf("%w: %s", ErrUnknownProcessor, id)
	}
	return p, nil
}

// Descriptors lists every registered processor ordered by id.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Compatible lists the processors that accept a dataset of datasetType with params.
func (r *Registry) Compatible(datasetType string, params dataset.Parameters) []Descriptor {
	var out []Descriptor
	for _, d := range r.Descriptors() {
		if d.AcceptsDataset(datasetType, params) {
			out = append(out, d)
		}
	}
	return out
}

// Subject is the dataset a resolver query is about.
type Subject interface {
	Type() string
	Parameters() dataset.Parameters
	Children(ctx context.Context) ([]*dataset.Dataset, error)
}

// Available lists compatible processors minus run-once processors that already
// produced a finished child of ds. Processors with options stay available.
func (r *Registry) Available(ctx context.Context, ds Subject) ([]Descriptor, error) {
	compatible := r.Compatible(ds.Type(), ds.Parameters())
	if len(compatible) == 0 {
		return nil, nil
	}
	children, err := ds.Children(ctx)
	if err != nil {
		return nil, fmt.Errorf("load children: %w", err)
	}
	done := make(map[string]struct{}, len(children))
	for _, child := range children {
		if child.IsFinished() {
			done[child.Type()] = struct{}{}
		}
	}
	out := compatible[:0]
	for _, d := range compatible {
		if _, ran := done[d.ID]; ran && !d.HasOptions() {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// CheckAvailable returns processor id if it is currently available for ds.
func (r *Registry) CheckAvailable(ctx context.Context, ds Subject, id string) (Processor, error) {
	p, err := r.Get(id)
	if err != nil {
		return Processor{}, err
	}
	available, err := r.Available(ctx, ds)
	if err != nil {
		return Processor{}, err
	}
	for _, d := range available {
		if d.ID == id {
			return p, nil
		}
	}
	return Processor{}, fmt.Errorf("%w: %s on %s", ErrIncompatible, id, ds.Type())
}
