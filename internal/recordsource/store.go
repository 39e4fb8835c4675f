// Package recordsource delivers host records to story coordinators. Records
// are read from Postgres, cached in Redis, and pushed to subscribers when a
// coordinator asks for re-delivery or the change feed reports an update.
package recordsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
	apperrors "github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/postgres"
)

// Loader reads one record.
type Loader interface {
	Load(ctx context.Context, recordID string) (*winstory.Record, error)
}

// PostgresStore loads the story field of a record row.
type PostgresStore struct {
	db    *postgres.Client
	field string
	query string
}

// NewPostgresStore builds a store reading column field of table, keyed by id.
func NewPostgresStore(db *postgres.Client, table, field string) *PostgresStore {
	return &PostgresStore{
		db:    db,
		field: field,
		query: fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
			pq.QuoteIdentifier(field), pq.QuoteIdentifier(table)),
	}
}

// Load returns the record with its story field. A missing row is
// apperrors.ErrRecordNotFound; a NULL column is the absent payload.
func (s *PostgresStore) Load(ctx context.Context, recordID string) (*winstory.Record, error) {
	var raw winstory.RawPayload
	err := s.db.DB.QueryRowContext(ctx, s.query, recordID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrRecordNotFound, http.StatusNotFound, "record %s", recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", recordID, err)
	}
	return &winstory.Record{
		ID:     recordID,
		Fields: map[string]winstory.RawPayload{s.field: raw},
	}, nil
}

// Ping checks the underlying connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
