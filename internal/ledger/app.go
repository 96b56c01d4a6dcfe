package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// App is a registered program row.
type App struct {
	AppID         string
	Name          string
	Description   string
	Program       []byte
	ProgramKeccak string
	CreatedAt     string
}

// PutApp inserts an app record. Uses ON CONFLICT(app_id) DO NOTHING for
// idempotency: the app_id is content-derived, so a duplicate insert is
// by construction byte-identical and silently ignored. Returns whether
// a new row was written.
func (l *Ledger) PutApp(ctx context.Context, app App) (inserted bool, err error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO apps
		(app_id, name, description, program, program_keccak)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(app_id) DO NOTHING
	`,
		app.AppID,
		app.Name,
		app.Description,
		app.Program,
		app.ProgramKeccak,
	)
	if err != nil {
		return false, fmt.Errorf("put app: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put app: rows affected: %w", err)
	}
	return n > 0, nil
}

// GetApp fetches one app by ID. Returns ErrNotFound for unknown IDs.
func (l *Ledger) GetApp(ctx context.Context, appID string) (App, error) {
	var app App
	err := l.db.QueryRowContext(ctx, `
		SELECT app_id, name, description, program, program_keccak, created_at
		FROM apps WHERE app_id = ?
	`, appID).Scan(
		&app.AppID,
		&app.Name,
		&app.Description,
		&app.Program,
		&app.ProgramKeccak,
		&app.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return App{}, fmt.Errorf("get app %s: %w", appID, ErrNotFound)
	}
	if err != nil {
		return App{}, fmt.Errorf("get app %s: %w", appID, err)
	}
	return app, nil
}

// ListApps returns all registered apps ordered by creation time.
// Program bytes are omitted; use GetApp for the full record.
func (l *Ledger) ListApps(ctx context.Context) ([]App, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT app_id, name, description, program_keccak, created_at
		FROM apps ORDER BY created_at, app_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var apps []App
	for rows.Next() {
		var app App
		if err := rows.Scan(&app.AppID, &app.Name, &app.Description, &app.ProgramKeccak, &app.CreatedAt); err != nil {
			return nil, fmt.Errorf("list apps: scan: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	return apps, nil
}
