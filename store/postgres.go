package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// postgresStore реализует Store поверх одной таблицы records
// (pk, sk, payload, version) и таблицы counters (pk, sk, value).
type postgresStore struct {
	db *sql.DB
}

// NewPostgres открывает соединение с PostgreSQL и проверяет его ping-ом.
func NewPostgres(dsn string, timeout time.Duration) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database handle: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database within %v: %w (close: %v)", timeout, err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database within %v: %w", timeout, err)
	}

	return &postgresStore{db: db}, nil
}

// transientPgError распознаёт сбои соединения и перегрузку, которые имеет
// смысл повторять.
func transientPgError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection_exception, insufficient_resources, operator_intervention
			return true
		}
		return false
	}
	return errors.Is(err, sql.ErrConnDone)
}

func mapPgError(err error) error {
	if transientPgError(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (s *postgresStore) Get(ctx context.Context, pk, sk string) (*Record, error) {
	query := `
		SELECT payload, version
		FROM records
		WHERE pk = $1 AND sk = $2`

	var rec *Record
	err := withRetry(ctx, func() error {
		rec = &Record{PK: pk, SK: sk}
		scanErr := s.db.QueryRowContext(ctx, query, pk, sk).Scan(&rec.Payload, &rec.Version)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return ErrRecordNotFound
			}
			return mapPgError(scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *postgresStore) Put(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO records (pk, sk, payload, version)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (pk, sk)
		DO UPDATE SET payload = EXCLUDED.payload, version = records.version + 1
		RETURNING version`

	return withRetry(ctx, func() error {
		err := s.db.QueryRowContext(ctx, query, rec.PK, rec.SK, rec.Payload).Scan(&rec.Version)
		if err != nil {
			return mapPgError(err)
		}
		return nil
	})
}

func (s *postgresStore) Update(ctx context.Context, rec *Record, expectedVersion int64) error {
	query := `
		UPDATE records
		SET payload = $3, version = version + 1
		WHERE pk = $1 AND sk = $2 AND version = $4
		RETURNING version`

	return withRetry(ctx, func() error {
		err := s.db.QueryRowContext(ctx, query, rec.PK, rec.SK, rec.Payload, expectedVersion).Scan(&rec.Version)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Либо записи нет, либо версия ушла вперёд. Различаем.
				var exists bool
				checkErr := s.db.QueryRowContext(ctx,
					`SELECT EXISTS (SELECT 1 FROM records WHERE pk = $1 AND sk = $2)`,
					rec.PK, rec.SK).Scan(&exists)
				if checkErr != nil {
					return mapPgError(checkErr)
				}
				if !exists {
					return ErrRecordNotFound
				}
				return ErrVersionConflict
			}
			return mapPgError(err)
		}
		return nil
	})
}

func (s *postgresStore) Delete(ctx context.Context, pk, sk string) error {
	query := `DELETE FROM records WHERE pk = $1 AND sk = $2`

	return withRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, query, pk, sk)
		if err != nil {
			return mapPgError(err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

func (s *postgresStore) Query(ctx context.Context, pk, skPrefix string) ([]*Record, error) {
	query := `
		SELECT sk, payload, version
		FROM records
		WHERE pk = $1 AND sk LIKE $2 || '%'
		ORDER BY sk ASC`

	var records []*Record
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, pk, skPrefix)
		if err != nil {
			return mapPgError(err)
		}
		defer rows.Close()

		records = make([]*Record, 0)
		for rows.Next() {
			rec := &Record{PK: pk}
			if scanErr := rows.Scan(&rec.SK, &rec.Payload, &rec.Version); scanErr != nil {
				return scanErr
			}
			records = append(records, rec)
		}
		if err = rows.Err(); err != nil {
			return mapPgError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *postgresStore) Add(ctx context.Context, pk, sk string, delta int64) (int64, error) {
	query := `
		INSERT INTO counters (pk, sk, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (pk, sk)
		DO UPDATE SET value = counters.value + EXCLUDED.value
		RETURNING value`

	var value int64
	err := withRetry(ctx, func() error {
		if err := s.db.QueryRowContext(ctx, query, pk, sk, delta).Scan(&value); err != nil {
			return mapPgError(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}
