// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package republish

import (
	"context"
	"errors"
	"fmt"

	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/store"
)

// snapshot is the in-memory rollback target of a firing.
type snapshot struct {
	doc   model.Document
	attrs model.Attributes
	terms map[string][]int64
	aux   map[string]Restorer
}

// takeSnapshot captures everything a firing may change on orig: its row,
// every attribute, its terms in each taxonomy either document uses and the
// out-of-store state of integrations.
func takeSnapshot(ctx context.Context, docs *store.Documents, c *copier, orig, pending *model.Document) (*snapshot, error) {
	attrs, err := docs.Attributes(ctx, orig.ID)
	if err != nil {
		return nil, err
	}

	taxonomies, err := c.taxonomyUnion(ctx, orig.ID, pending.ID)
	if err != nil {
		return nil, err
	}
	terms := make(map[string][]int64, len(taxonomies))
	for _, taxonomy := range taxonomies {
		ids, err := docs.Terms(ctx, orig.ID, taxonomy)
		if err != nil {
			return nil, err
		}
		terms[taxonomy] = ids
	}

	snap := &snapshot{doc: *orig, attrs: attrs, terms: terms, aux: make(map[string]Restorer)}
	for _, in := range c.integrations {
		s, ok := in.(Snapshotter)
		if !ok {
			continue
		}
		r, err := s.Snapshot(ctx, orig)
		if err != nil {
			return nil, fmt.Errorf("%s snapshot: %w", in.Name(), err)
		}
		snap.aux[in.Name()] = r
	}
	return snap, nil
}

// restore puts the snapshot back. Every step is attempted; the failures are
// joined into the returned error.
func (s *snapshot) restore(ctx context.Context, docs *store.Documents) error {
	var errs []error

	row := s.doc
	if err := docs.Update(ctx, &row); err != nil {
		errs = append(errs, fmt.Errorf("restoring row: %w", err))
	}

	current, err := docs.Attributes(ctx, s.doc.ID)
	if err != nil {
		errs = append(errs, fmt.Errorf("loading attributes: %w", err))
	} else {
		var stale []string
		for key := range current {
			if !s.attrs.Has(key) {
				stale = append(stale, key)
			}
		}
		if err := docs.DeleteAttributes(ctx, s.doc.ID, stale); err != nil {
			errs = append(errs, fmt.Errorf("removing attributes: %w", err))
		}
		if err := docs.SetAttributes(ctx, s.doc.ID, s.attrs); err != nil {
			errs = append(errs, fmt.Errorf("restoring attributes: %w", err))
		}
	}

	taxonomies, err := docs.Taxonomies(ctx, s.doc.ID)
	if err != nil {
		errs = append(errs, fmt.Errorf("loading taxonomies: %w", err))
	}
	for _, t := range taxonomies {
		if _, ok := s.terms[t]; !ok {
			s.terms[t] = nil
		}
	}
	for taxonomy, ids := range s.terms {
		if err := docs.SetTerms(ctx, s.doc.ID, taxonomy, ids); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s terms: %w", taxonomy, err))
		}
	}

	for name, r := range s.aux {
		if err := r.Restore(ctx); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}
