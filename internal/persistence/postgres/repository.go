package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/magcollector/internal/domain"
)

// Repository provides Postgres-backed persistence for magnetic and pose readings.
type Repository struct {
	pool *pgxpool.Pool
}

var _ domain.ReadingStore = (*Repository)(nil)

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Each statement inserts the row only when (device_id, ts) is not yet stored; the unique
// index makes the check and the insert one atomic step.
const (
	insertMagnetic = `INSERT INTO magnetic_readings (device_id, ts, x, y, z, batch_time, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (device_id, ts) DO NOTHING`

	insertPose = `INSERT INTO phone_poses (device_id, ts, pos_x, pos_y, pos_z, ori_x, ori_y, ori_z, ori_w, batch_time, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (device_id, ts) DO NOTHING`
)

// WriteBatch inserts all rows of one capture inside a single transaction. Any failure
// rolls back the whole capture.
func (r *Repository) WriteBatch(ctx context.Context, write domain.BatchWrite) (result domain.WriteResult, err error) {
	if write.Empty() {
		return result, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	batch := &pgx.Batch{}
	for _, m := range write.Magnetics {
		batch.Queue(insertMagnetic, m.DeviceID, m.TS, m.X, m.Y, m.Z, m.BatchTime, m.CreatedAt)
	}
	for _, p := range write.Poses {
		batch.Queue(insertPose, p.DeviceID, p.TS, p.PosX, p.PosY, p.PosZ, p.OriX, p.OriY, p.OriZ, p.OriW, p.BatchTime, p.CreatedAt)
	}

	results := tx.SendBatch(ctx, batch)
	for range write.Magnetics {
		tag, execErr := results.Exec()
		if execErr != nil {
			results.Close()
			err = execErr
			return domain.WriteResult{}, err
		}
		if tag.RowsAffected() == 1 {
			result.InsertedMagnetics++
		} else {
			result.SkippedMagnetics++
		}
	}
	for range write.Poses {
		tag, execErr := results.Exec()
		if execErr != nil {
			results.Close()
			err = execErr
			return domain.WriteResult{}, err
		}
		if tag.RowsAffected() == 1 {
			result.InsertedPoses++
		} else {
			result.SkippedPoses++
		}
	}
	if err = results.Close(); err != nil {
		return domain.WriteResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.WriteResult{}, err
	}
	return result, nil
}

// ListBatches returns the distinct batch times written for a device in either table.
func (r *Repository) ListBatches(ctx context.Context, deviceID string) ([]int64, error) {
	const query = `SELECT batch_time FROM magnetic_readings WHERE device_id=$1
        UNION
        SELECT batch_time FROM phone_poses WHERE device_id=$1
        ORDER BY batch_time ASC`

	rows, err := r.pool.Query(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]int64, 0)
	for rows.Next() {
		var bt int64
		if err := rows.Scan(&bt); err != nil {
			return nil, err
		}
		batches = append(batches, bt)
	}
	return batches, rows.Err()
}

// FetchBatch returns both modalities of one batch ordered by ts.
func (r *Repository) FetchBatch(ctx context.Context, deviceID string, batchTime int64) (domain.Batch, error) {
	const magneticQuery = `SELECT device_id, ts, x, y, z, batch_time, created_at
        FROM magnetic_readings WHERE device_id=$1 AND batch_time=$2
        ORDER BY ts ASC`
	const poseQuery = `SELECT device_id, ts, pos_x, pos_y, pos_z, ori_x, ori_y, ori_z, ori_w, batch_time, created_at
        FROM phone_poses WHERE device_id=$1 AND batch_time=$2
        ORDER BY ts ASC`

	out := domain.Batch{BatchKey: domain.BatchKey{DeviceID: deviceID, BatchTime: batchTime}}

	magnetics, err := r.queryMagnetics(ctx, magneticQuery, deviceID, batchTime)
	if err != nil {
		return domain.Batch{}, err
	}
	out.Magnetics = magnetics

	rows, err := r.pool.Query(ctx, poseQuery, deviceID, batchTime)
	if err != nil {
		return domain.Batch{}, err
	}
	defer rows.Close()

	out.Poses = make([]domain.PoseReading, 0)
	for rows.Next() {
		var p domain.PoseReading
		if err := rows.Scan(&p.DeviceID, &p.TS, &p.PosX, &p.PosY, &p.PosZ, &p.OriX, &p.OriY, &p.OriZ, &p.OriW, &p.BatchTime, &p.CreatedAt); err != nil {
			return domain.Batch{}, err
		}
		out.Poses = append(out.Poses, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Batch{}, err
	}
	return out, nil
}

// LatestMagnetics returns the newest readings of a device first.
func (r *Repository) LatestMagnetics(ctx context.Context, deviceID string, limit int) ([]domain.MagneticReading, error) {
	const query = `SELECT device_id, ts, x, y, z, batch_time, created_at
        FROM magnetic_readings WHERE device_id=$1
        ORDER BY ts DESC LIMIT $2`
	return r.queryMagnetics(ctx, query, deviceID, limit)
}

// EachMagnetic streams every magnetic reading ordered by ts.
func (r *Repository) EachMagnetic(ctx context.Context, fn func(domain.MagneticReading) error) error {
	const query = `SELECT device_id, ts, x, y, z, batch_time, created_at
        FROM magnetic_readings ORDER BY ts ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.MagneticReading
		if err := rows.Scan(&m.DeviceID, &m.TS, &m.X, &m.Y, &m.Z, &m.BatchTime, &m.CreatedAt); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Repository) queryMagnetics(ctx context.Context, query string, args ...interface{}) ([]domain.MagneticReading, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.MagneticReading, 0)
	for rows.Next() {
		var m domain.MagneticReading
		if err := rows.Scan(&m.DeviceID, &m.TS, &m.X, &m.Y, &m.Z, &m.BatchTime, &m.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
