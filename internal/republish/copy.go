// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package republish

import (
	"context"
	"regexp"
	"sort"
	"strconv"

	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/store"
)

// copier moves attributes and terms between documents.
type copier struct {
	docs         *store.Documents
	integrations []Integration
}

func (c *copier) ownedByIntegration(key string) bool {
	for _, in := range c.integrations {
		if o, ok := in.(KeyOwner); ok && o.OwnsKey(key) {
			return true
		}
	}
	return false
}

// copyable reports whether the generic copy handles key.
func (c *copier) copyable(key string) bool {
	return !model.IsSchedulingAttr(key) && !c.ownedByIntegration(key)
}

// attributes copies every copyable attribute of src onto dst, replacing
// existing values. With rewrite set, whole-token occurrences of the source
// id inside values are replaced by the destination id.
func (c *copier) attributes(ctx context.Context, srcID, dstID int64, rewrite bool) error {
	attrs, err := c.docs.Attributes(ctx, srcID)
	if err != nil {
		return err
	}

	var idPattern *regexp.Regexp
	if rewrite {
		idPattern = regexp.MustCompile(`\b` + strconv.FormatInt(srcID, 10) + `\b`)
	}
	dst := strconv.FormatInt(dstID, 10)

	out := make(model.Attributes, len(attrs))
	for key, value := range attrs {
		if !c.copyable(key) {
			continue
		}
		if idPattern != nil {
			value = idPattern.ReplaceAllLiteralString(value, dst)
		}
		out[key] = value
	}
	return c.docs.SetAttributes(ctx, dstID, out)
}

// terms makes dst's terms equal to src's in every taxonomy either of them uses.
func (c *copier) terms(ctx context.Context, srcID, dstID int64) error {
	taxonomies, err := c.taxonomyUnion(ctx, srcID, dstID)
	if err != nil {
		return err
	}
	for _, taxonomy := range taxonomies {
		ids, err := c.docs.Terms(ctx, srcID, taxonomy)
		if err != nil {
			return err
		}
		if err := c.docs.SetTerms(ctx, dstID, taxonomy, ids); err != nil {
			return err
		}
	}
	return nil
}

func (c *copier) taxonomyUnion(ctx context.Context, ids ...int64) ([]string, error) {
	seen := make(map[string]bool)
	for _, id := range ids {
		taxonomies, err := c.docs.Taxonomies(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, t := range taxonomies {
			seen[t] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// integrate runs every integration and returns the names of those that failed.
func (c *copier) integrate(ctx context.Context, src, dst *model.Document, phase Phase) []string {
	var failed []string
	for _, in := range c.integrations {
		if !in.TryCopy(ctx, src, dst, phase) {
			failed = append(failed, in.Name())
		}
	}
	return failed
}
