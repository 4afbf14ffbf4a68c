package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const appColumns = `id, name, description, category, is_default, created_by_id, created_at`

// ListApplications returns every application, newest first, with endpoints.
func (d *DB) ListApplications(ctx context.Context) ([]Application, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+appColumns+` FROM applications ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying applications: %w", err)
	}
	apps := []Application{}
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		apps = append(apps, *a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating applications: %w", err)
	}
	rows.Close()

	eps, err := d.queryEndpoints(ctx, `SELECT `+endpointColumns+` FROM endpoints ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	index := make(map[int64]int, len(apps))
	for i, a := range apps {
		index[a.ID] = i
	}
	for _, e := range eps {
		if i, ok := index[e.ApplicationID]; ok {
			apps[i].Endpoints = append(apps[i].Endpoints, e)
		}
	}
	return apps, nil
}

// GetApplication returns an application with its endpoints or ErrNotFound.
func (d *DB) GetApplication(ctx context.Context, id int64) (*Application, error) {
	row := d.db.QueryRowContext(ctx, d.rebind(`SELECT `+appColumns+` FROM applications WHERE id = ?`), id)
	a, err := scanApp(row)
	if err != nil {
		return nil, fmt.Errorf("querying application %d: %w", id, err)
	}
	eps, err := d.queryEndpoints(ctx,
		d.rebind(`SELECT `+endpointColumns+` FROM endpoints WHERE application_id = ? ORDER BY created_at ASC, id ASC`), id)
	if err != nil {
		return nil, err
	}
	a.Endpoints = eps
	return a, nil
}

// CreateApplication inserts a user-defined (non-default) application.
func (d *DB) CreateApplication(ctx context.Context, a Application) (*Application, error) {
	id, err := insertApp(ctx, d.db, d.rebind, a)
	if err != nil {
		return nil, err
	}
	return d.GetApplication(ctx, id)
}

func insertApp(ctx context.Context, q querier, rebind func(string) string, a Application) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		rebind(`INSERT INTO applications (name, description, category, is_default, created_by_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		a.Name, a.Description, a.Category, a.IsDefault, nullableID(a.CreatedByID), formatTime(time.Now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting application %q: %w", a.Name, classify(err))
	}
	return id, nil
}

const endpointColumns = `id, application_id, label, url, kind, method, notes, created_at`

// CreateEndpoint adds an endpoint to an application. An unknown application
// returns ErrInvalidReference.
func (d *DB) CreateEndpoint(ctx context.Context, e Endpoint) (*Endpoint, error) {
	id, err := insertEndpoint(ctx, d.db, d.rebind, e)
	if err != nil {
		return nil, err
	}
	eps, err := d.queryEndpoints(ctx, d.rebind(`SELECT `+endpointColumns+` FROM endpoints WHERE id = ?`), id)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("reading endpoint %d: %w", id, ErrNotFound)
	}
	return &eps[0], nil
}

func insertEndpoint(ctx context.Context, q querier, rebind func(string) string, e Endpoint) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		rebind(`INSERT INTO endpoints (application_id, label, url, kind, method, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		e.ApplicationID, e.Label, e.URL, e.Kind, e.Method, e.Notes, formatTime(time.Now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting endpoint %q: %w", e.Label, classify(err))
	}
	return id, nil
}

// DefaultEndpoints returns every endpoint belonging to a default application,
// ordered by application then endpoint id.
func (d *DB) DefaultEndpoints(ctx context.Context) ([]Endpoint, error) {
	return d.queryEndpoints(ctx, `
		SELECT e.id, e.application_id, e.label, e.url, e.kind, e.method, e.notes, e.created_at
		FROM endpoints e
		JOIN applications a ON a.id = e.application_id
		WHERE a.is_default = TRUE
		ORDER BY e.application_id, e.id`)
}

func (d *DB) queryEndpoints(ctx context.Context, query string, args ...any) ([]Endpoint, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	eps := []Endpoint{}
	for rows.Next() {
		var (
			e       Endpoint
			created string
		)
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.Label, &e.URL, &e.Kind, &e.Method, &e.Notes, &created); err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		eps = append(eps, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating endpoints: %w", err)
	}
	return eps, nil
}

func scanApp(s scanner) (*Application, error) {
	var (
		a         Application
		createdBy sql.NullInt64
		created   string
	)
	if err := s.Scan(&a.ID, &a.Name, &a.Description, &a.Category, &a.IsDefault, &createdBy, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning application: %w", err)
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = t
	a.CreatedByID = idPtr(createdBy)
	a.Endpoints = []Endpoint{}
	return &a, nil
}
