// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package republish_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/content-update-scheduler/internal/auth"
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/republish"
	"github.com/olegiv/content-update-scheduler/internal/testutil"
)

func (h *harness) cssPath(id int64) string {
	return filepath.Join(h.uploads, "builder", "css", fmt.Sprintf("post-%d.css", id))
}

func (h *harness) writeCSS(t *testing.T, id int64, content string) {
	t.Helper()
	path := h.cssPath(id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (h *harness) readCSS(t *testing.T, id int64) string {
	t.Helper()
	data, err := os.ReadFile(h.cssPath(id))
	require.NoError(t, err)
	return string(data)
}

func TestBuilderCopiesLayoutAndStylesheet(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Landing", model.Attributes{
		republish.AttrBuilderData:     `[{"id":"a1"}]`,
		republish.AttrBuilderEditMode: "builder",
	}, nil)
	h.writeCSS(t, origID, ".a1{color:red}")

	id := h.pendingFor(t, origID)
	attrs := h.attrs(t, id)
	assert.Equal(t, `[{"id":"a1"}]`, attrs[republish.AttrBuilderData])
	assert.Equal(t, "builder", attrs[republish.AttrBuilderEditMode])
	assert.Equal(t, ".a1{color:red}", h.readCSS(t, id))

	require.NoError(t, h.docs.SetAttribute(h.ctx, id, republish.AttrBuilderData, `[{"id":"b2"}]`))
	h.writeCSS(t, id, ".b2{color:blue}")

	_, err := h.engine.Publish(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"b2"}]`, h.attrs(t, origID)[republish.AttrBuilderData])
	assert.Equal(t, ".b2{color:blue}", h.readCSS(t, origID))
}

func TestBuilderSkipsInvalidLayout(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Broken layout", model.Attributes{
		republish.AttrBuilderData:    `[{"id":`,
		republish.AttrBuilderVersion: "3.1",
	}, nil)

	id := h.pendingFor(t, origID)
	attrs := h.attrs(t, id)
	assert.False(t, attrs.Has(republish.AttrBuilderData))
	assert.Equal(t, "3.1", attrs[republish.AttrBuilderVersion])
}

func TestRollbackRestoresStylesheet(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Styled", nil, nil)
	h.writeCSS(t, origID, ".live{}")

	id := h.pendingFor(t, origID)
	h.edit(t, id, "Broken")
	h.writeCSS(t, id, ".draft{}")

	_, err := h.db.Exec(`CREATE TRIGGER fail_title BEFORE UPDATE OF title ON documents
		WHEN NEW.title = 'Broken' BEGIN SELECT RAISE(ABORT, 'simulated failure'); END`)
	require.NoError(t, err)

	_, err = h.engine.Publish(h.ctx, id)
	require.ErrorIs(t, err, model.ErrSwapFailed)
	assert.Equal(t, ".live{}", h.readCSS(t, origID))
}

func TestTranslationLinkage(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Hello", model.Attributes{
		republish.AttrTranslationGroup:         "group-1",
		republish.AttrTranslationLang:          "en",
		republish.AttrTranslationMediaFeatured: "1",
	}, nil)

	id := h.pendingFor(t, origID)
	attrs := h.attrs(t, id)
	assert.Equal(t, "en", attrs[republish.AttrTranslationLang])
	assert.NotEmpty(t, attrs[republish.AttrTranslationGroup])
	assert.NotEqual(t, "group-1", attrs[republish.AttrTranslationGroup], "a pending update is not a sibling translation")
	assert.Equal(t, "1", attrs[republish.AttrTranslationMediaFeatured])

	_, err := h.engine.Publish(h.ctx, id)
	require.NoError(t, err)

	attrs = h.attrs(t, origID)
	assert.Equal(t, "group-1", attrs[republish.AttrTranslationGroup])
	assert.Equal(t, "en", attrs[republish.AttrTranslationLang])
}

func TestCommerceVariableProduct(t *testing.T) {
	h := newHarness(t)
	origID := testutil.CreateDocument(t, h.docs, model.Document{
		Type: model.TypeProduct, Title: "Shirt", Status: model.StatusPublish, AuthorID: 7,
	}, model.Attributes{
		republish.AttrProductType: republish.ProductVariable,
		model.AttrStockQuantity:   "12",
		model.AttrManageStock:     "yes",
	}, nil)
	for _, size := range []string{"S", "M"} {
		testutil.CreateDocument(t, h.docs, model.Document{
			Type: model.TypeVariant, Title: "Shirt " + size, ParentID: origID, Status: model.StatusPublish,
		}, model.Attributes{"attribute_size": size}, nil)
	}

	id := h.pendingFor(t, origID)
	variations, err := h.docs.Children(h.ctx, id, model.TypeVariant)
	require.NoError(t, err)
	require.Len(t, variations, 2)
	assert.Equal(t, "S", h.attrs(t, variations[0].ID)["attribute_size"])
	assert.Equal(t, "12", h.attrs(t, id)[model.AttrStockQuantity])

	require.NoError(t, h.store.Cancel(h.ctx, auth.System, id))
	variations, err = h.docs.Children(h.ctx, id, model.TypeVariant)
	require.NoError(t, err)
	assert.Empty(t, variations, "cancelling removes copied variations")

	original, err := h.docs.Children(h.ctx, origID, model.TypeVariant)
	require.NoError(t, err)
	assert.Len(t, original, 2)
}

func TestCommerceSimpleProductKeepsStock(t *testing.T) {
	h := newHarness(t)
	origID := testutil.CreateDocument(t, h.docs, model.Document{
		Type: model.TypeProduct, Title: "Mug", Status: model.StatusPublish, AuthorID: 7,
	}, model.Attributes{
		republish.AttrProductType:  republish.ProductSimple,
		republish.AttrRegularPrice: "10",
		model.AttrStockQuantity:    "3",
	}, nil)

	id := h.pendingFor(t, origID)
	require.NoError(t, h.docs.SetAttribute(h.ctx, id, republish.AttrRegularPrice, "12"))
	// Sales continue while the update waits.
	require.NoError(t, h.docs.SetAttribute(h.ctx, origID, model.AttrStockQuantity, "1"))

	_, err := h.engine.Publish(h.ctx, id)
	require.NoError(t, err)

	attrs := h.attrs(t, origID)
	assert.Equal(t, "12", attrs[republish.AttrRegularPrice])
	assert.Equal(t, "1", attrs[model.AttrStockQuantity])
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "create", republish.PhaseCreate.String())
	assert.Equal(t, "publish", republish.PhasePublish.String())
}
