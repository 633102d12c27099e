package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lambra/internal/logger"

	"github.com/jackc/pgx/v5/pgconn"
)

// duplicate_object / duplicate_table
func alreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42710" || pgErr.Code == "42P07"
	}
	return false
}

// Migrate применяет схему хранилища. DDL идемпотентен (if not exists).
func Migrate(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, m := range migrations {
		sqlText := strings.TrimSpace(m.SQL)
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			if alreadyExists(err) {
				logger.WithField("migration", m.Name).Infof("DDL skipped (already exists): %v", err)
				continue
			}
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		logger.WithField("migration", m.Name).Debugf("applied")
	}
	return nil
}
