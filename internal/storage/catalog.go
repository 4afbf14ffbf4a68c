package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ListCategories returns every category, oldest first, each with its targets.
func (d *DB) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM categories ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	var cats []Category
	for rows.Next() {
		var (
			c       Category
			created string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			rows.Close()
			return nil, err
		}
		c.Targets = []SiteTarget{}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating categories: %w", err)
	}
	rows.Close()

	targets, err := d.listTargets(ctx, false)
	if err != nil {
		return nil, err
	}
	index := make(map[int64]int, len(cats))
	for i, c := range cats {
		index[c.ID] = i
	}
	for _, t := range targets {
		if i, ok := index[t.CategoryID]; ok {
			cats[i].Targets = append(cats[i].Targets, t)
		}
	}
	return cats, nil
}

// CreateCategory inserts a category. Duplicate names return ErrConflict.
func (d *DB) CreateCategory(ctx context.Context, name, description string) (*Category, error) {
	now := time.Now().UTC()
	var id int64
	err := d.db.QueryRowContext(ctx,
		d.rebind(`INSERT INTO categories (name, description, created_at) VALUES (?, ?, ?) RETURNING id`),
		name, description, formatTime(now),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting category %q: %w", name, classify(err))
	}
	return &Category{ID: id, Name: name, Description: description, CreatedAt: now, Targets: []SiteTarget{}}, nil
}

const targetSelect = `
	SELECT t.id, t.name, t.url, t.category_id, t.protection_type, t.notes, t.tags, t.created_by_id, t.created_at,
	       c.id, c.name, c.description, c.created_at
	FROM site_targets t
	JOIN categories c ON c.id = t.category_id`

// ListTargets returns every site target, newest first, with its category.
func (d *DB) ListTargets(ctx context.Context) ([]SiteTarget, error) {
	return d.listTargets(ctx, true)
}

func (d *DB) listTargets(ctx context.Context, withCategory bool) ([]SiteTarget, error) {
	rows, err := d.db.QueryContext(ctx, targetSelect+` ORDER BY t.created_at DESC, t.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying targets: %w", err)
	}
	defer rows.Close()

	targets := []SiteTarget{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		if !withCategory {
			t.Category = nil
		}
		targets = append(targets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating targets: %w", err)
	}
	return targets, nil
}

// GetTarget returns a target by id or ErrNotFound.
func (d *DB) GetTarget(ctx context.Context, id int64) (*SiteTarget, error) {
	row := d.db.QueryRowContext(ctx, d.rebind(targetSelect+` WHERE t.id = ?`), id)
	t, err := scanTarget(row)
	if err != nil {
		return nil, fmt.Errorf("querying target %d: %w", id, err)
	}
	return t, nil
}

// CreateTarget inserts t and returns the stored row. An unknown category
// returns ErrInvalidReference.
func (d *DB) CreateTarget(ctx context.Context, t SiteTarget) (*SiteTarget, error) {
	var id int64
	err := d.db.QueryRowContext(ctx,
		d.rebind(`INSERT INTO site_targets (name, url, category_id, protection_type, notes, tags, created_by_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		t.Name, t.URL, t.CategoryID, t.ProtectionType, t.Notes, t.Tags, nullableID(t.CreatedByID), formatTime(time.Now()),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting target %q: %w", t.Name, classify(err))
	}
	return d.GetTarget(ctx, id)
}

// UpdateTarget applies p to the target with the given id.
func (d *DB) UpdateTarget(ctx context.Context, id int64, p TargetPatch) (*SiteTarget, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.URL != nil {
		add("url", *p.URL)
	}
	if p.CategoryID != nil {
		add("category_id", *p.CategoryID)
	}
	if p.ProtectionType != nil {
		add("protection_type", *p.ProtectionType)
	}
	if p.Notes != nil {
		add("notes", *p.Notes)
	}
	if p.Tags != nil {
		add("tags", *p.Tags)
	}
	if len(sets) == 0 {
		return d.GetTarget(ctx, id)
	}

	args = append(args, id)
	res, err := d.db.ExecContext(ctx,
		d.rebind(`UPDATE site_targets SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("updating target %d: %w", id, classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("updating target %d: %w", id, ErrNotFound)
	}
	return d.GetTarget(ctx, id)
}

// DeleteTarget removes a target. Unknown ids return ErrNotFound.
func (d *DB) DeleteTarget(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, d.rebind(`DELETE FROM site_targets WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting target %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting target %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanTarget(s scanner) (*SiteTarget, error) {
	var (
		t                  SiteTarget
		c                  Category
		createdBy          sql.NullInt64
		created, catCreate string
	)
	err := s.Scan(&t.ID, &t.Name, &t.URL, &t.CategoryID, &t.ProtectionType, &t.Notes, &t.Tags, &createdBy, &created,
		&c.ID, &c.Name, &c.Description, &catCreate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning target: %w", err)
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(catCreate); err != nil {
		return nil, err
	}
	t.CreatedByID = idPtr(createdBy)
	t.Category = &c
	return &t, nil
}
