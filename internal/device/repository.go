package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Host persists device records across restarts. The registry registers
// newly discovered devices with it, updates known ones and unregisters
// records superseded by a newer identity scheme.
type Host interface {
	// LoadRestored returns every persisted record.
	LoadRestored(ctx context.Context) ([]Record, error)

	// Register stores a new record.
	// Returns ErrDeviceExists if the identifier is already stored.
	Register(ctx context.Context, rec Record) error

	// Update stores the current attributes of a record, inserting it when
	// missing.
	Update(ctx context.Context, rec Record) error

	// Unregister removes a record.
	// Returns ErrDeviceNotFound if the identifier is not stored.
	Unregister(ctx context.Context, id string) error
}

// SQLiteRepository implements Host on the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadRestored returns all stored records in the restored state.
func (r *SQLiteRepository) LoadRestored(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, attributes, supports_recirculation, created_at, updated_at
		FROM devices
		ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return records, nil
}

// Register inserts a new record.
func (r *SQLiteRepository) Register(ctx context.Context, rec Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAttributes, err)
	}
	created, updated := timestamps(rec)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, thing_name, attributes, supports_recirculation, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Attributes.DeviceName, rec.Attributes.ThingName, string(attrs),
		boolToInt(rec.SupportsRecirculation), created, updated,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update upserts a record's attributes. created_at is preserved.
func (r *SQLiteRepository) Update(ctx context.Context, rec Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAttributes, err)
	}
	created, updated := timestamps(rec)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, thing_name, attributes, supports_recirculation, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			thing_name = excluded.thing_name,
			attributes = excluded.attributes,
			supports_recirculation = excluded.supports_recirculation,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Attributes.DeviceName, rec.Attributes.ThingName, string(attrs),
		boolToInt(rec.SupportsRecirculation), created, updated,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return nil
}

// Unregister deletes a record.
func (r *SQLiteRepository) Unregister(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Get returns a single stored record.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, attributes, supports_recirculation, created_at, updated_at
		FROM devices
		WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrDeviceNotFound
		}
		return Record{}, fmt.Errorf("querying device by id: %w", err)
	}
	return rec, nil
}

// rowScanner is implemented by sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (Record, error) {
	var (
		rec              Record
		attrsJSON        string
		recirc           int
		created, updated string
	)
	if err := s.Scan(&rec.ID, &attrsJSON, &recirc, &created, &updated); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(attrsJSON), &rec.Attributes); err != nil {
		return Record{}, fmt.Errorf("%w: %s: %w", ErrInvalidAttributes, rec.ID, err)
	}
	rec.State = StateRestored
	rec.SupportsRecirculation = recirc != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339, created) //nolint:errcheck // Format is controlled
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updated) //nolint:errcheck // Format is controlled
	return rec, nil
}

func timestamps(rec Record) (created, updated string) {
	now := time.Now().UTC()
	c, u := rec.CreatedAt, rec.UpdatedAt
	if c.IsZero() {
		c = now
	}
	if u.IsZero() {
		u = now
	}
	return c.UTC().Format(time.RFC3339), u.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
