// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package republish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/olegiv/content-update-scheduler/internal/config"
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/store"
	"github.com/olegiv/content-update-scheduler/internal/util"
)

// Phase tells an integration which direction a copy runs in.
type Phase int

const (
	// PhaseCreate copies an original onto a new pending update.
	PhaseCreate Phase = iota
	// PhasePublish copies a pending update back onto its original.
	PhasePublish
)

func (p Phase) String() string {
	if p == PhasePublish {
		return "publish"
	}
	return "create"
}

// Integration is a best-effort auxiliary copy step. TryCopy returns false
// on failure; callers log it and carry on.
type Integration interface {
	Name() string
	TryCopy(ctx context.Context, src, dst *model.Document, phase Phase) bool
}

// KeyOwner is implemented by integrations that copy some attribute keys
// themselves. Owned keys are skipped by the generic attribute copy.
type KeyOwner interface {
	OwnsKey(key string) bool
}

// Restorer puts back state captured by a Snapshotter.
type Restorer interface {
	Restore(ctx context.Context) error
}

// Snapshotter is implemented by integrations holding state outside the
// document store.
type Snapshotter interface {
	Snapshot(ctx context.Context, doc *model.Document) (Restorer, error)
}

// Cleaner is implemented by integrations that own documents hanging off a
// pending update, which must go when the update is deleted.
type Cleaner interface {
	Cleanup(ctx context.Context, doc *model.Document) error
}

// NewIntegrations returns the integrations enabled in cfg.
func NewIntegrations(cfg config.Integrations, docs *store.Documents, logger *slog.Logger) []Integration {
	var out []Integration
	if cfg.Builder.Enabled {
		out = append(out, &Builder{docs: docs, uploadsDir: cfg.Builder.UploadsDir, logger: logger})
	}
	if cfg.Translation.Enabled {
		out = append(out, &Translation{docs: docs, logger: logger})
	}
	if cfg.Commerce.Enabled {
		out = append(out, &Commerce{docs: docs, logger: logger})
	}
	return out
}

// Page builder attributes.
const (
	builderPrefix         = "_builder"
	AttrBuilderData       = "_builder_data"
	AttrBuilderEditMode   = "_builder_edit_mode"
	AttrBuilderSettings   = "_builder_page_settings"
	AttrBuilderVersion    = "_builder_version"
	AttrBuilderTemplate   = "_builder_template_type"
	AttrBuilderControls   = "_builder_controls_usage"
	AttrBuilderCSS        = "_builder_css"
	builderCSSDir         = "builder/css"
	builderCSSFilePattern = "post-%d.css"
)

var builderKeys = []string{
	AttrBuilderData, AttrBuilderEditMode, AttrBuilderSettings, AttrBuilderVersion,
	AttrBuilderTemplate, AttrBuilderControls, AttrBuilderCSS,
}

// Builder copies page builder layout attributes and the generated CSS file.
type Builder struct {
	docs       *store.Documents
	uploadsDir string
	logger     *slog.Logger
}

func (b *Builder) Name() string { return "builder" }

func (b *Builder) OwnsKey(key string) bool { return strings.HasPrefix(key, builderPrefix) }

// CSSPath returns the generated stylesheet path of a document.
func (b *Builder) CSSPath(id int64) (string, error) {
	return util.JoinWithin(b.uploadsDir, builderCSSDir, fmt.Sprintf(builderCSSFilePattern, id))
}

func (b *Builder) TryCopy(ctx context.Context, src, dst *model.Document, _ Phase) bool {
	attrs, err := b.docs.Attributes(ctx, src.ID)
	if err != nil {
		b.logger.Warn("builder: loading attributes", "document_id", src.ID, "error", err)
		return false
	}

	copied := make(model.Attributes)
	for _, key := range builderKeys {
		value, ok := attrs[key]
		if !ok {
			continue
		}
		// Broken layout JSON would wipe the destination layout.
		if key == AttrBuilderData && !json.Valid([]byte(value)) {
			b.logger.Warn("builder: skipping invalid layout data", "document_id", src.ID)
			continue
		}
		copied[key] = value
	}
	if err := b.docs.SetAttributes(ctx, dst.ID, copied); err != nil {
		b.logger.Warn("builder: copying attributes", "from", src.ID, "to", dst.ID, "error", err)
		return false
	}

	if err := b.copyCSS(src.ID, dst.ID); err != nil {
		b.logger.Warn("builder: copying stylesheet", "from", src.ID, "to", dst.ID, "error", err)
		return false
	}
	return true
}

func (b *Builder) copyCSS(srcID, dstID int64) error {
	srcPath, err := b.CSSPath(srcID)
	if err != nil {
		return err
	}
	dstPath, err := b.CSSPath(dstID)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dstPath, data, 0o644)
}

func (b *Builder) Snapshot(_ context.Context, doc *model.Document) (Restorer, error) {
	path, err := b.CSSPath(doc.ID)
	if err != nil {
		return nil, err
	}
	snap := &cssSnapshot{path: path}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		snap.exists = true
		snap.content = data
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return snap, nil
}

type cssSnapshot struct {
	path    string
	exists  bool
	content []byte
}

func (s *cssSnapshot) Restore(context.Context) error {
	if s.exists {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(s.path, s.content, 0o644)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Translation linkage attributes.
const (
	AttrTranslationGroup      = "_translation_group"
	AttrTranslationLang       = "_translation_lang"
	AttrTranslationSourceLang = "_translation_source_lang"

	AttrTranslationMediaFeatured  = "_translation_media_featured"
	AttrTranslationMediaDuplicate = "_translation_media_duplicate"
	AttrTranslationMediaProcessed = "_translation_media_processed"
)

var (
	translationLinkKeys  = []string{AttrTranslationGroup, AttrTranslationLang, AttrTranslationSourceLang}
	translationMediaKeys = []string{AttrTranslationMediaFeatured, AttrTranslationMediaDuplicate, AttrTranslationMediaProcessed}
)

// Translation keeps language linkage consistent. A new pending update
// starts its own translation group so it never shows up as a sibling
// translation of its original; publishing keeps the original's group.
type Translation struct {
	docs   *store.Documents
	logger *slog.Logger
}

func (t *Translation) Name() string { return "translation" }

func (t *Translation) OwnsKey(key string) bool {
	for _, k := range translationLinkKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (t *Translation) TryCopy(ctx context.Context, src, dst *model.Document, phase Phase) bool {
	if src.Type != dst.Type {
		t.logger.Warn("translation: document types differ", "from", src.ID, "to", dst.ID)
		return false
	}

	srcAttrs, err := t.docs.Attributes(ctx, src.ID)
	if err != nil {
		t.logger.Warn("translation: loading attributes", "document_id", src.ID, "error", err)
		return false
	}
	lang := srcAttrs[AttrTranslationLang]
	if lang == "" {
		// Not a translated document.
		return true
	}

	group := uuid.NewString()
	if phase == PhasePublish {
		current, ok, err := t.docs.Attribute(ctx, dst.ID, AttrTranslationGroup)
		if err != nil {
			t.logger.Warn("translation: loading group", "document_id", dst.ID, "error", err)
			return false
		}
		switch {
		case ok && current != "":
			group = current
		case srcAttrs[AttrTranslationGroup] != "":
			group = srcAttrs[AttrTranslationGroup]
		}
	}

	set := model.Attributes{
		AttrTranslationGroup:      group,
		AttrTranslationLang:       lang,
		AttrTranslationSourceLang: srcAttrs[AttrTranslationSourceLang],
	}
	for _, key := range translationMediaKeys {
		if v := srcAttrs[key]; v != "" {
			set[key] = v
		}
	}
	if err := t.docs.SetAttributes(ctx, dst.ID, set); err != nil {
		t.logger.Warn("translation: writing linkage", "document_id", dst.ID, "error", err)
		return false
	}
	return true
}

// Commerce attributes.
const (
	AttrProductType  = "_product_type"
	AttrRegularPrice = "_regular_price"
	AttrSalePrice    = "_sale_price"
	AttrBackorders   = "_backorders"
	AttrChildren     = "_children"
	AttrProductURL   = "_product_url"
	AttrButtonText   = "_button_text"
)

// Product types.
const (
	ProductSimple   = "simple"
	ProductVariable = "variable"
	ProductGrouped  = "grouped"
	ProductExternal = "external"
)

var stockKeys = []string{model.AttrStockStatus, model.AttrStockQuantity, model.AttrManageStock, AttrBackorders}

// Commerce copies product data a pending update needs: variation child
// documents, prices, stock and linked products. Stock always stays with
// the original, so publishing copies nothing back.
type Commerce struct {
	docs   *store.Documents
	logger *slog.Logger
}

func (c *Commerce) Name() string { return "commerce" }

func (c *Commerce) TryCopy(ctx context.Context, src, dst *model.Document, phase Phase) bool {
	if phase != PhaseCreate || src.Type != model.TypeProduct {
		return true
	}

	attrs, err := c.docs.Attributes(ctx, src.ID)
	if err != nil {
		c.logger.Warn("commerce: loading attributes", "document_id", src.ID, "error", err)
		return false
	}

	var keys []string
	switch attrs[AttrProductType] {
	case ProductVariable:
		if err := c.copyVariations(ctx, src.ID, dst.ID); err != nil {
			c.logger.Warn("commerce: copying variations", "from", src.ID, "to", dst.ID, "error", err)
			return false
		}
		keys = stockKeys
	case ProductGrouped:
		keys = []string{AttrChildren}
	case ProductExternal:
		keys = []string{AttrProductURL, AttrButtonText}
	default:
		keys = append([]string{AttrRegularPrice, AttrSalePrice}, stockKeys...)
	}

	if err := c.docs.SetAttributes(ctx, dst.ID, pick(attrs, keys)); err != nil {
		c.logger.Warn("commerce: copying product data", "from", src.ID, "to", dst.ID, "error", err)
		return false
	}
	return true
}

func (c *Commerce) copyVariations(ctx context.Context, srcID, dstID int64) error {
	variations, err := c.docs.Children(ctx, srcID, model.TypeVariant)
	if err != nil {
		return err
	}
	for _, v := range variations {
		attrs, err := c.docs.Attributes(ctx, v.ID)
		if err != nil {
			return err
		}
		copyDoc := v
		copyDoc.ID = 0
		copyDoc.ParentID = dstID
		copyDoc.GUID = ""
		if _, err := c.docs.Create(ctx, &copyDoc); err != nil {
			return err
		}
		if err := c.docs.SetAttributes(ctx, copyDoc.ID, attrs); err != nil {
			return err
		}
	}
	return nil
}

func (c *Commerce) Cleanup(ctx context.Context, doc *model.Document) error {
	if doc.Type != model.TypeProduct {
		return nil
	}
	variations, err := c.docs.Children(ctx, doc.ID, model.TypeVariant)
	if err != nil {
		return err
	}
	for _, v := range variations {
		if err := c.docs.Delete(ctx, v.ID, true); err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}
	return nil
}

func pick(attrs model.Attributes, keys []string) model.Attributes {
	out := make(model.Attributes, len(keys))
	for _, k := range keys {
		if v, ok := attrs[k]; ok {
			out[k] = v
		}
	}
	return out
}

var (
	_ KeyOwner    = (*Builder)(nil)
	_ Snapshotter = (*Builder)(nil)
	_ KeyOwner    = (*Translation)(nil)
	_ Cleaner     = (*Commerce)(nil)
)
