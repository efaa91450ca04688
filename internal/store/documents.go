// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/olegiv/content-update-scheduler/internal/hooks"
	"github.com/olegiv/content-update-scheduler/internal/model"
)

const documentColumns = `id, type, title, body, summary, slug, parent_id, guid, status,
	author_id, menu_order, comment_status, password, trashed_status, created_at, modified_at`

// Documents is the document store: rows, attributes and taxonomy terms.
type Documents struct {
	db    *sqlx.DB
	hooks hooks.Caller
	now   func() time.Time
}

// NewDocuments creates a document store. Status changes are passed through
// the transition filter of h; h may be nil.
func NewDocuments(db *sqlx.DB, h hooks.Caller) *Documents {
	return &Documents{db: db, hooks: h, now: time.Now}
}

// SetClock replaces the time source used for default timestamps.
func (d *Documents) SetClock(now func() time.Time) {
	d.now = now
}

func notFound(id int64) error {
	return fmt.Errorf("document %d: %w", id, model.ErrNotFound)
}

func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Get loads a document by id.
func (d *Documents) Get(ctx context.Context, id int64) (*model.Document, error) {
	var doc model.Document
	err := d.db.GetContext(ctx, &doc, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("loading document %d: %w", id, err)
	}
	return &doc, nil
}

// Create inserts a document and sets doc.ID.
func (d *Documents) Create(ctx context.Context, doc *model.Document) (int64, error) {
	now := dbTime(d.now())
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.ModifiedAt.IsZero() {
		doc.ModifiedAt = now
	}
	if doc.GUID == "" {
		doc.GUID = "urn:uuid:" + uuid.NewString()
	}
	if doc.Type == "" {
		doc.Type = model.TypePost
	}
	if doc.Status == "" {
		doc.Status = model.StatusDraft
	}
	doc.CreatedAt = dbTime(doc.CreatedAt)
	doc.ModifiedAt = dbTime(doc.ModifiedAt)

	res, err := d.db.NamedExecContext(ctx, `INSERT INTO documents (type, title, body, summary, slug, parent_id,
		guid, status, author_id, menu_order, comment_status, password, trashed_status, created_at, modified_at)
		VALUES (:type, :title, :body, :summary, :slug, :parent_id, :guid, :status, :author_id, :menu_order,
		:comment_status, :password, :trashed_status, :created_at, :modified_at)`, doc)
	if err != nil {
		return 0, fmt.Errorf("creating document: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("creating document: %w", err)
	}
	doc.ID = id
	return id, nil
}

// Update writes every field of doc. A status change is passed through the
// transition filter first, which may rewrite doc.Status.
func (d *Documents) Update(ctx context.Context, doc *model.Document) error {
	return d.UpdateWith(ctx, doc, nil)
}

// UpdateWith writes every field of doc and sets attrs in the same
// transaction.
func (d *Documents) UpdateWith(ctx context.Context, doc *model.Document, attrs model.Attributes) error {
	current, err := d.Get(ctx, doc.ID)
	if err != nil {
		return err
	}

	if current.Status != doc.Status {
		status, err := d.transition(ctx, doc, current.Status, doc.Status)
		if err != nil {
			return err
		}
		doc.Status = status
	}

	if len(attrs) == 0 {
		return d.write(ctx, d.db, doc)
	}
	return withTx(ctx, d.db, func(tx *sqlx.Tx) error {
		if err := d.write(ctx, tx, doc); err != nil {
			return err
		}
		return upsertAttributes(ctx, tx, doc.ID, attrs)
	})
}

type namedExecer interface {
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

func (d *Documents) write(ctx context.Context, e namedExecer, doc *model.Document) error {
	doc.CreatedAt = dbTime(doc.CreatedAt)
	doc.ModifiedAt = dbTime(doc.ModifiedAt)

	res, err := e.NamedExecContext(ctx, `UPDATE documents SET type = :type, title = :title, body = :body,
		summary = :summary, slug = :slug, parent_id = :parent_id, guid = :guid, status = :status,
		author_id = :author_id, menu_order = :menu_order, comment_status = :comment_status,
		password = :password, trashed_status = :trashed_status, created_at = :created_at,
		modified_at = :modified_at WHERE id = :id`, doc)
	if err != nil {
		return fmt.Errorf("updating document %d: %w", doc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(doc.ID)
	}
	return nil
}

func (d *Documents) transition(ctx context.Context, doc *model.Document, from, to string) (string, error) {
	if d.hooks == nil {
		return to, nil
	}

	t := &model.StatusTransition{Document: doc, OldStatus: from, NewStatus: to}
	out, err := d.hooks.Call(ctx, hooks.TransitionStatus, t)
	if err != nil {
		return "", fmt.Errorf("status transition for document %d: %w", doc.ID, err)
	}
	if filtered, ok := out.(*model.StatusTransition); ok && filtered != nil {
		return filtered.NewStatus, nil
	}
	return to, nil
}

// Delete removes a document. A hard delete drops the row with its attributes
// and terms; otherwise the document is moved to the trash.
func (d *Documents) Delete(ctx context.Context, id int64, hard bool) error {
	if !hard {
		return d.Trash(ctx, id)
	}

	res, err := d.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

// Trash moves a document to the trash, remembering its status.
func (d *Documents) Trash(ctx context.Context, id int64) error {
	doc, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.IsTrashed() {
		return nil
	}

	previous := doc.Status
	status, err := d.transition(ctx, doc, previous, model.StatusTrash)
	if err != nil {
		return err
	}
	doc.Status = status
	if status == model.StatusTrash {
		doc.TrashedStatus = previous
	}
	if err := d.write(ctx, d.db, doc); err != nil {
		return err
	}

	if status == model.StatusTrash && d.hooks != nil {
		if err := d.hooks.Do(ctx, hooks.Trashed, doc); err != nil {
			return err
		}
	}
	return nil
}

// Restore brings a trashed document back to the status it had before.
func (d *Documents) Restore(ctx context.Context, id int64) error {
	doc, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	if !doc.IsTrashed() {
		return nil
	}

	target := doc.TrashedStatus
	if target == "" {
		target = model.StatusDraft
	}
	status, err := d.transition(ctx, doc, model.StatusTrash, target)
	if err != nil {
		return err
	}
	doc.Status = status
	doc.TrashedStatus = ""
	if err := d.write(ctx, d.db, doc); err != nil {
		return err
	}

	if d.hooks != nil {
		if err := d.hooks.Do(ctx, hooks.Untrashed, doc); err != nil {
			return err
		}
	}
	return nil
}

// Children returns documents of the given type whose parent is parentID.
func (d *Documents) Children(ctx context.Context, parentID int64, docType string) ([]model.Document, error) {
	var docs []model.Document
	err := d.db.SelectContext(ctx, &docs, "SELECT "+documentColumns+
		" FROM documents WHERE parent_id = ? AND type = ? ORDER BY menu_order, id", parentID, docType)
	if err != nil {
		return nil, fmt.Errorf("listing children of %d: %w", parentID, err)
	}
	return docs, nil
}

// DeleteByStatus hard-deletes every document with the given status.
func (d *Documents) DeleteByStatus(ctx context.Context, status string) (int64, error) {
	res, err := d.db.ExecContext(ctx, "DELETE FROM documents WHERE status = ?", status)
	if err != nil {
		return 0, fmt.Errorf("deleting %s documents: %w", status, err)
	}
	return res.RowsAffected()
}

// Attributes returns all attributes of a document.
func (d *Documents) Attributes(ctx context.Context, id int64) (model.Attributes, error) {
	rows, err := d.db.QueryxContext(ctx, "SELECT key, value FROM document_attributes WHERE document_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("loading attributes of %d: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	attrs := make(model.Attributes)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning attribute: %w", err)
		}
		attrs[key] = value
	}
	return attrs, rows.Err()
}

// Attribute returns a single attribute and whether it exists.
func (d *Documents) Attribute(ctx context.Context, id int64, key string) (string, bool, error) {
	var value string
	err := d.db.GetContext(ctx, &value,
		"SELECT value FROM document_attributes WHERE document_id = ? AND key = ?", id, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("loading attribute %s of %d: %w", key, id, err)
	}
	return value, true, nil
}

// SetAttribute creates or replaces a single attribute.
func (d *Documents) SetAttribute(ctx context.Context, id int64, key, value string) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO document_attributes (document_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (document_id, key) DO UPDATE SET value = excluded.value`, id, key, value)
	if err != nil {
		return fmt.Errorf("setting attribute %s of %d: %w", key, id, err)
	}
	return nil
}

// SetAttributes creates or replaces several attributes in one transaction.
func (d *Documents) SetAttributes(ctx context.Context, id int64, attrs model.Attributes) error {
	if len(attrs) == 0 {
		return nil
	}
	return withTx(ctx, d.db, func(tx *sqlx.Tx) error {
		return upsertAttributes(ctx, tx, id, attrs)
	})
}

func upsertAttributes(ctx context.Context, e execer, id int64, attrs model.Attributes) error {
	for key, value := range attrs {
		_, err := e.ExecContext(ctx, `INSERT INTO document_attributes (document_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT (document_id, key) DO UPDATE SET value = excluded.value`, id, key, value)
		if err != nil {
			return fmt.Errorf("setting attribute %s of %d: %w", key, id, err)
		}
	}
	return nil
}

// DeleteAttribute removes a single attribute. Missing keys are ignored.
func (d *Documents) DeleteAttribute(ctx context.Context, id int64, key string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM document_attributes WHERE document_id = ? AND key = ?", id, key)
	if err != nil {
		return fmt.Errorf("deleting attribute %s of %d: %w", key, id, err)
	}
	return nil
}

// DeleteAttributes removes several attributes in one transaction.
func (d *Documents) DeleteAttributes(ctx context.Context, id int64, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM document_attributes WHERE document_id = ? AND key IN (?)", id, keys)
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, d.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("deleting attributes of %d: %w", id, err)
	}
	return nil
}

// DeleteAttributeEverywhere removes an attribute key from every document.
func (d *Documents) DeleteAttributeEverywhere(ctx context.Context, key string) (int64, error) {
	res, err := d.db.ExecContext(ctx, "DELETE FROM document_attributes WHERE key = ?", key)
	if err != nil {
		return 0, fmt.Errorf("deleting attribute %s: %w", key, err)
	}
	return res.RowsAffected()
}

// WithAttribute returns the value of key for every document that has it,
// keyed by document id.
func (d *Documents) WithAttribute(ctx context.Context, key string) (map[int64]string, error) {
	rows, err := d.db.QueryxContext(ctx, "SELECT document_id, value FROM document_attributes WHERE key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("finding documents with %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]string)
	for rows.Next() {
		var (
			id    int64
			value string
		)
		if err := rows.Scan(&id, &value); err != nil {
			return nil, fmt.Errorf("scanning attribute: %w", err)
		}
		out[id] = value
	}
	return out, rows.Err()
}

// Taxonomies returns the taxonomies a document has terms in.
func (d *Documents) Taxonomies(ctx context.Context, id int64) ([]string, error) {
	var taxonomies []string
	err := d.db.SelectContext(ctx, &taxonomies,
		"SELECT DISTINCT taxonomy FROM document_terms WHERE document_id = ? ORDER BY taxonomy", id)
	if err != nil {
		return nil, fmt.Errorf("loading taxonomies of %d: %w", id, err)
	}
	return taxonomies, nil
}

// Terms returns the term ids of a document in a taxonomy, in assigned order.
func (d *Documents) Terms(ctx context.Context, id int64, taxonomy string) ([]int64, error) {
	var ids []int64
	err := d.db.SelectContext(ctx, &ids,
		"SELECT term_id FROM document_terms WHERE document_id = ? AND taxonomy = ? ORDER BY position, term_id",
		id, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("loading %s terms of %d: %w", taxonomy, id, err)
	}
	return ids, nil
}

// SetTerms replaces the terms of a document in a taxonomy.
func (d *Documents) SetTerms(ctx context.Context, id int64, taxonomy string, termIDs []int64) error {
	return withTx(ctx, d.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM document_terms WHERE document_id = ? AND taxonomy = ?", id, taxonomy); err != nil {
			return fmt.Errorf("clearing %s terms of %d: %w", taxonomy, id, err)
		}
		seen := make(map[int64]bool, len(termIDs))
		for pos, termID := range termIDs {
			if seen[termID] {
				continue
			}
			seen[termID] = true
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO document_terms (document_id, taxonomy, term_id, position) VALUES (?, ?, ?, ?)",
				id, taxonomy, termID, pos); err != nil {
				return fmt.Errorf("setting %s terms of %d: %w", taxonomy, id, err)
			}
		}
		return nil
	})
}

// PendingRow is a pending update joined with its scheduling attributes.
type PendingRow struct {
	model.Document
	OriginalID  int64  `db:"original_id"`
	ScheduledAt int64  `db:"scheduled_at"`
	KeepDates   string `db:"keep_dates"`
}

// PendingFilter narrows FindPending.
type PendingFilter struct {
	// Status defaults to pending-republish.
	Status     string
	OriginalID int64
	// DueBy selects rows with 0 < scheduled_at <= DueBy.
	DueBy int64
	// After selects rows with scheduled_at > After.
	After int64
	Limit int
}

// FindPending lists documents joined with their scheduling attributes,
// ordered by scheduled_at ascending.
func (d *Documents) FindPending(ctx context.Context, f PendingFilter) ([]PendingRow, error) {
	status := f.Status
	if status == "" {
		status = model.StatusPendingRepublish
	}

	var (
		where = []string{"d.status = ?"}
		args  = []any{status}
	)
	if f.OriginalID > 0 {
		where = append(where, "o.value = ?")
		args = append(args, strconv.FormatInt(f.OriginalID, 10))
	}
	if f.DueBy > 0 {
		where = append(where, "CAST(s.value AS INTEGER) > 0", "CAST(s.value AS INTEGER) <= ?")
		args = append(args, f.DueBy)
	}
	if f.After > 0 {
		where = append(where, "CAST(s.value AS INTEGER) > ?")
		args = append(args, f.After)
	}

	query := `SELECT d.id, d.type, d.title, d.body, d.summary, d.slug, d.parent_id, d.guid, d.status,
		d.author_id, d.menu_order, d.comment_status, d.password, d.trashed_status, d.created_at, d.modified_at,
		COALESCE(CAST(o.value AS INTEGER), 0) AS original_id,
		COALESCE(CAST(s.value AS INTEGER), 0) AS scheduled_at,
		COALESCE(k.value, '') AS keep_dates
		FROM documents d
		LEFT JOIN document_attributes o ON o.document_id = d.id AND o.key = '` + model.AttrOriginalID + `'
		LEFT JOIN document_attributes s ON s.document_id = d.id AND s.key = '` + model.AttrScheduledAt + `'
		LEFT JOIN document_attributes k ON k.document_id = d.id AND k.key = '` + model.AttrKeepOriginalDates + `'
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY COALESCE(CAST(s.value AS INTEGER), 0), d.id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []PendingRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("finding pending updates: %w", err)
	}
	return rows, nil
}
