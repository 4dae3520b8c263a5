// Package processor holds the static registry of dataset processors and the
// resolver that decides which of them may be chained onto a dataset.
package processor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/JakeFAU/socialscope/internal/dataset"
)

var (
	// ErrUnknownProcessor is returned for ids missing from the registry.
	ErrUnknownProcessor = errors.New("processor: unknown processor")
	// ErrIncompatible rejects running a processor on a dataset it does not accept.
	ErrIncompatible = errors.New("processor: not available for dataset")
	// ErrInvalidOptions wraps option validation failures.
	ErrInvalidOptions = errors.New("processor: invalid options")
)

// Option describes one configurable processor setting.
type Option struct {
	Help     string `json:"help"`
	Default  any    `json:"default,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// Descriptor is the static description of a processor.
type Descriptor struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Accepts lists input dataset types. Empty means search datasets.
	Accepts []string `json:"accepts,omitempty"`
	// Datasources narrows default acceptance to searches of these datasources.
	Datasources []string          `json:"datasources,omitempty"`
	Options     map[string]Option `json:"options,omitempty"`
	// Extension of the result file, ".csv" when empty.
	Extension string `json:"extension,omitempty"`
}

// HasOptions reports whether the processor can be run repeatedly with different settings.
func (d Descriptor) HasOptions() bool {
	return len(d.Options) > 0
}

// ResolveOptions keeps the declared options from in, fills defaults and
// rejects missing required values. Undeclared keys are dropped.
func (d Descriptor) ResolveOptions(in dataset.Parameters) (dataset.Parameters, error) {
	out := dataset.Parameters{}
	for name, opt := range d.Options {
		if in.Has(name) {
			out[name] = in[name]
			continue
		}
		if opt.Required {
			return nil, fmt.Errorf("%w: %s requires option %q", ErrInvalidOptions, d.ID, name)
		}
		if opt.Default != nil {
			out[name] = opt.Default
		}
	}
	return out, nil
}

// AcceptsDataset reports whether a dataset of datasetType with params may feed the processor.
func (d Descriptor) AcceptsDataset(datasetType string, params dataset.Parameters) bool {
	if len(d.Accepts) > 0 {
		return slices.Contains(d.Accepts, datasetType)
	}
	if !IsSearchType(datasetType) {
		return false
	}
	return len(d.Datasources) == 0 || slices.Contains(d.Datasources, params.String("datasource"))
}

// IsSearchType reports whether datasetType names a search dataset.
func IsSearchType(datasetType string) bool {
	return datasetType == "search" || strings.HasSuffix(datasetType, "-search")
}

// Func transforms the rows of a parent dataset into the rows of its child.
type Func func(ctx context.Context, rows []dataset.Row, opts dataset.Parameters) ([]dataset.Row, error)

// Processor pairs a descriptor with its implementation.
type Processor struct {
	Descriptor
	Run Func
}
