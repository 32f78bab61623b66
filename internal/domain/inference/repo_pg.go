package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore/internal/platform/apperr"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/internal/platform/sequence"
)

type repoPG struct {
	pool *pgxpool.Pool
	seq  *sequence.Generator
}

// NewRepoPG returns a Postgres-backed Repository. Display IDs are issued
// by the sequencer inside the same transaction that inserts the row.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{
		pool: pool,
		seq:  sequence.NewGenerator("ai_req", "inference_jobs", "display_id"),
	}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const jobCols = `id, display_id, model_type, imaging_order_id, lab_order_id,
	genomic_order_id, status, mode, requested_by, result_payload,
	error_message, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.DisplayID, &j.ModelType, &j.ImagingOrderID, &j.LabOrderID,
		&j.GenomicOrderID, &j.Status, &j.Mode, &j.RequestedBy, &j.ResultPayload,
		&j.ErrorMessage, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	return &j, err
}

func (r *repoPG) Create(ctx context.Context, j *Job) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		displayID, err := r.seq.Next(ctx, r.conn(ctx))
		if err != nil {
			return err
		}
		j.ID = uuid.New()
		j.DisplayID = displayID
		row := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO inference_jobs (id, display_id, model_type,
				imaging_order_id, lab_order_id, genomic_order_id,
				status, mode, requested_by, result_payload, error_message)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			RETURNING created_at, updated_at`,
			j.ID, j.DisplayID, j.ModelType,
			j.ImagingOrderID, j.LabOrderID, j.GenomicOrderID,
			j.Status, j.Mode, j.RequestedBy, j.ResultPayload, j.ErrorMessage)
		return row.Scan(&j.CreatedAt, &j.UpdatedAt)
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := scanJob(r.conn(ctx).QueryRow(ctx,
		`SELECT `+jobCols+` FROM inference_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("inference job %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *repoPG) GetByDisplayID(ctx context.Context, displayID string) (*Job, error) {
	j, err := scanJob(r.conn(ctx).QueryRow(ctx,
		`SELECT `+jobCols+` FROM inference_jobs WHERE display_id = $1`, displayID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("inference job %s not found", displayID)
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Job, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1
	add := func(column string, value interface{}) {
		where += fmt.Sprintf(" AND %s = $%d", column, idx)
		args = append(args, value)
		idx++
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if filter.ModelType != "" {
		add("model_type", filter.ModelType)
	}
	if filter.RequestedBy != "" {
		add("requested_by", filter.RequestedBy)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM inference_jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM inference_jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobCols, where, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, j)
	}
	return items, total, rows.Err()
}

// FindCompletedBySource matches NULL-safe: an absent reference only
// matches another absent reference.
func (r *repoPG) FindCompletedBySource(ctx context.Context, modelType string, refs SourceRefs) (*Job, error) {
	j, err := scanJob(r.conn(ctx).QueryRow(ctx, `
		SELECT `+jobCols+` FROM inference_jobs
		WHERE model_type = $1 AND status = $2
		  AND imaging_order_id IS NOT DISTINCT FROM $3
		  AND lab_order_id IS NOT DISTINCT FROM $4
		  AND genomic_order_id IS NOT DISTINCT FROM $5
		ORDER BY completed_at DESC LIMIT 1`,
		modelType, StatusCompleted, refs.Imaging, refs.Lab, refs.Genomic))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *repoPG) Mutate(ctx context.Context, id uuid.UUID, fn func(*Job) error) (*Job, error) {
	var out *Job
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		j, err := scanJob(r.conn(ctx).QueryRow(ctx,
			`SELECT `+jobCols+` FROM inference_jobs WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("inference job %s not found", id)
		}
		if err != nil {
			return err
		}

		if err := fn(j); err != nil {
			return err
		}

		_, err = r.conn(ctx).Exec(ctx, `
			UPDATE inference_jobs SET status=$2, result_payload=$3,
				error_message=$4, completed_at=$5, updated_at=NOW()
			WHERE id = $1`,
			j.ID, j.Status, j.ResultPayload, j.ErrorMessage, j.CompletedAt)
		if err != nil {
			return err
		}
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM inference_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("inference job %s not found", id)
	}
	return nil
}
