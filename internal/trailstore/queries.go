package trailstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/logging"
	"livetrail.dev/internal/models"
)

const (
	appendPoint  = `INSERT INTO trail_points (lat, lon, recorded_at) VALUES (?, ?, ?)`
	upsertAnchor = `INSERT OR REPLACE INTO trail_anchor (id, lifetime_id, lat, lon, recorded_at) VALUES (1, ?, ?, ?, ?)`
	selectAnchor = `SELECT lifetime_id, lat, lon, recorded_at FROM trail_anchor WHERE id = 1`
	selectPoints = `SELECT lat, lon, recorded_at FROM trail_points ORDER BY seq`
	deletePoints = `DELETE FROM trail_points`
	deleteAnchor = `DELETE FROM trail_anchor`
)

// execer is the part of *sql.DB and *sql.Tx the writers need.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func toUnixNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func (c *Client) Append(ctx context.Context, p models.TrailPoint) error {
	if _, err := c.DB.ExecContext(ctx, appendPoint, p.Lat, p.Lon, toUnixNanos(p.Timestamp)); err != nil {
		return fmt.Errorf("append trail point: %w", err)
	}
	return nil
}

func (c *Client) SetInitial(ctx context.Context, lifetimeID string, p models.TrailPoint) error {
	return setInitial(ctx, c.DB, lifetimeID, p)
}

func setInitial(ctx context.Context, db execer, lifetimeID string, p models.TrailPoint) error {
	if _, err := db.ExecContext(ctx, upsertAnchor, lifetimeID, p.Lat, p.Lon, toUnixNanos(p.Timestamp)); err != nil {
		return fmt.Errorf("set trail anchor: %w", err)
	}
	return nil
}

func (c *Client) Clear(ctx context.Context) error {
	return c.inTx(ctx, "clear_trail", func(tx *sql.Tx) error {
		return clearAll(ctx, tx)
	})
}

func clearAll(ctx context.Context, db execer) error {
	if _, err := db.ExecContext(ctx, deletePoints); err != nil {
		return fmt.Errorf("delete trail points: %w", err)
	}
	if _, err := db.ExecContext(ctx, deleteAnchor); err != nil {
		return fmt.Errorf("delete trail anchor: %w", err)
	}
	return nil
}

func (c *Client) Replace(ctx context.Context, snap Snapshot) error {
	return c.inTx(ctx, "replace_trail", func(tx *sql.Tx) error {
		if err := clearAll(ctx, tx); err != nil {
			return err
		}
		if snap.Initial != nil {
			if err := setInitial(ctx, tx, snap.LifetimeID, *snap.Initial); err != nil {
				return err
			}
		}

		stmt, err := tx.PrepareContext(ctx, appendPoint)
		if err != nil {
			return fmt.Errorf("error preparing statement: %w", err)
		}
		defer logging.SafeCloseWithLogging(stmt, c.logger, "replace_trail_stmt")

		for _, p := range snap.Points {
			if _, err := stmt.ExecContext(ctx, p.Lat, p.Lon, toUnixNanos(p.Timestamp)); err != nil {
				return fmt.Errorf("error inserting trail point: %w", err)
			}
		}
		return nil
	})
}

func (c *Client) Load(ctx context.Context) (snap Snapshot, err error) {
	var (
		lifetimeID string
		anchor     models.TrailPoint
		recordedAt int64
	)
	err = c.DB.QueryRowContext(ctx, selectAnchor).Scan(&lifetimeID, &anchor.Lat, &anchor.Lon, &recordedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return snap, fmt.Errorf("load trail anchor: %w", err)
	default:
		anchor.Timestamp = fromUnixNanos(recordedAt)
		snap.LifetimeID = lifetimeID
		snap.Initial = &anchor
	}

	rows, err := c.DB.QueryContext(ctx, selectPoints)
	if err != nil {
		return snap, fmt.Errorf("load trail points: %w", err)
	}
	defer logging.HandleDeferredError(&err, rows.Close, c.logger, "load_trail_rows")

	for rows.Next() {
		var (
			coord geo.Coordinate
			ns    int64
		)
		if err := rows.Scan(&coord.Lat, &coord.Lon, &ns); err != nil {
			return snap, fmt.Errorf("scan trail point: %w", err)
		}
		snap.Points = append(snap.Points, models.TrailPoint{Coordinate: coord, Timestamp: fromUnixNanos(ns)})
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate trail points: %w", err)
	}

	return snap, nil
}

func (c *Client) inTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer logging.SafeRollbackWithLogging(tx, c.logger, operation)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}
