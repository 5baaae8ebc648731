package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/worldsio/detectbridge/domain"
	_ "modernc.org/sqlite"
)

func init() {
	goose.AddMigrationContext(upNormalizeTimestamps, downNormalizeTimestamps)
}

// timestampColumns lists the text timestamp columns rewritten per table.
var timestampColumns = map[string][]string{
	"detections": {"timestamp", "created_at", "updated_at"},
	"tracks":     {"created_at", "updated_at"},
	"devices":    {"created_at", "updated_at"},
}

// upNormalizeTimestamps rewrites timestamps written by older releases (local
// ISO strings, CURRENT_TIMESTAMP output) into domain.TimestampLayout.
// Values that cannot be parsed are left untouched.
func upNormalizeTimestamps(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"detections", "tracks", "devices"} {
		for _, column := range timestampColumns[table] {
			if err := normalizeColumn(ctx, tx, table, column); err != nil {
				return err
			}
		}
	}
	return nil
}

func normalizeColumn(ctx context.Context, tx *sql.Tx, table, column string) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT id, %s FROM %s WHERE %s IS NOT NULL", column, table, column))
	if err != nil {
		return fmt.Errorf("selecting %s.%s : %w", table, column, err)
	}

	updates := make(map[int64]string)
	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			rows.Close()
			return fmt.Errorf("scanning %s row : %w", table, err)
		}
		parsed, err := domain.ParseTime(value)
		if err != nil {
			continue
		}
		if normalized := domain.FormatTimestamp(parsed); normalized != value {
			updates[id] = normalized
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterating %s rows : %w", table, err)
	}
	rows.Close()

	query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE id = ?", table, column)
	for id, normalized := range updates {
		if _, err := tx.ExecContext(ctx, query, normalized, id); err != nil {
			return fmt.Errorf("updating %s.%s for row %d : %w", table, column, id, err)
		}
	}
	return nil
}

// downNormalizeTimestamps is a no-op, the normalized layout is readable by every release.
func downNormalizeTimestamps(ctx context.Context, tx *sql.Tx) error {
	return nil
}
