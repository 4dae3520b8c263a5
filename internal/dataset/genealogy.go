package dataset

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// BreadcrumbSeparator joins genealogy keys into a navigation token.
const BreadcrumbSeparator = ","

// Genealogy returns the chain from the root dataset down to d, inclusive.
// The result is memoized on the handle.
func (d *Dataset) Genealogy(ctx context.Context) ([]*Dataset, error) {
	d.mu.Lock()
	cached := d.genealogy
	d.mu.Unlock()
	if cached != nil {
		return slices.Clone(cached), nil
	}

	seen := map[string]struct{}{d.Key(): {}}
	var ancestors []*Dataset
	parentKey := d.KeyParent()
	for parentKey != "" {
		if _, ok := seen[parentKey]; ok {
			return nil, fmt.Errorf("genealogy of %s revisits %s: %w", d.Key(), parentKey, ErrGenealogyCycle)
		}
		seen[parentKey] = struct{}{}
		rec, err := d.mgr.store.Get(ctx, parentKey)
		if err != nil {
			return nil, fmt.Errorf("genealogy of %s: load %s: %w", d.Key(), parentKey, err)
		}
		ancestors = append(ancestors, d.mgr.FromRecord(rec))
		parentKey = rec.KeyParent
	}
	slices.Reverse(ancestors)
	chain := append(ancestors, d)

	d.mu.Lock()
	d.genealogy = chain
	d.mu.Unlock()
	return slices.Clone(chain), nil
}

// Breadcrumbs returns the genealogy keys joined by BreadcrumbSeparator.
func (d *Dataset) Breadcrumbs(ctx context.Context) (string, error) {
	chain, err := d.Genealogy(ctx)
	if err != nil {
		return "", err
	}
	keys := make([]string, len(chain))
	for i, ds := range chain {
		keys[i] = ds.Key()
	}
	return strings.Join(keys, BreadcrumbSeparator), nil
}

// TopKey returns the key of the root of the genealogy.
func (d *Dataset) TopKey(ctx context.Context) (string, error) {
	chain, err := d.Genealogy(ctx)
	if err != nil {
		return "", err
	}
	return chain[0].Key(), nil
}
