package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository/migrations"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresHistoryRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresHistoryRepository(ctx context.Context, dsn string) (*PostgresHistoryRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &PostgresHistoryRepository{pool: pool}, nil
}

func (r *PostgresHistoryRepository) Close() {
	r.pool.Close()
}

const historyColumns = "id, vehicle_id, imei, lat, lng, speed_kph, address, ts, received_at, source, stale, raw"

func (r *PostgresHistoryRepository) Append(ctx context.Context, e *model.HistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO location_history (`+historyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.VehicleID, e.IMEI, e.Position.Lat, e.Position.Lng, e.SpeedKph,
		e.Address, e.Timestamp, e.ReceivedAt, e.Source, e.Stale, e.Raw,
	)
	return err
}

func (r *PostgresHistoryRepository) Query(ctx context.Context, filter HistoryFilter) ([]*model.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	where := []string{"vehicle_id = $1"}
	args := []interface{}{filter.VehicleID}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("ts <= $%d", len(args)))
	}
	if filter.After != nil {
		args = append(args, filter.After.Timestamp, filter.After.ID)
		where = append(where, fmt.Sprintf("(ts, id) > ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + historyColumns + ` FROM location_history WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ts, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.HistoryEntry, error) {
		var e model.HistoryEntry
		err := row.Scan(&e.ID, &e.VehicleID, &e.IMEI, &e.Position.Lat, &e.Position.Lng, &e.SpeedKph,
			&e.Address, &e.Timestamp, &e.ReceivedAt, &e.Source, &e.Stale, &e.Raw)
		e.Timestamp = e.Timestamp.UTC()
		e.ReceivedAt = e.ReceivedAt.UTC()
		return &e, err
	})
}

func (r *PostgresHistoryRepository) CountByVehicleID(ctx context.Context, vehicleID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM location_history WHERE vehicle_id = $1`, vehicleID).Scan(&n)
	return n, err
}

func (r *PostgresHistoryRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM location_history WHERE ts < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MigratePostgres applies the embedded schema migrations. steps == 0 migrates to the
// latest version, negative steps roll back.
func MigratePostgres(dsn string, steps int) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, pgx5URL(dsn))
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// pgx5URL rewrites a postgres:// DSN to the scheme the migrate pgx/v5 driver registers.
func pgx5URL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
