package order

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
		seq:  sequence.NewGenerator("ocs", "orders", "display_id"),
	}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const orderCols = `id, display_id, job_role, job_type, priority,
	ordered_by, assigned_worker, patient_id, encounter_id,
	request_payload, result_payload, outcome_flag, cancel_reason,
	status, accepted_at, started_at, result_ready_at, confirmed_at,
	cancelled_at, deleted, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.DisplayID, &o.JobRole, &o.JobType, &o.Priority,
		&o.OrderedBy, &o.AssignedWorker, &o.PatientID, &o.EncounterID,
		&o.RequestPayload, &o.ResultPayload, &o.OutcomeFlag, &o.CancelReason,
		&o.Status, &o.AcceptedAt, &o.StartedAt, &o.ResultReadyAt, &o.ConfirmedAt,
		&o.CancelledAt, &o.Deleted, &o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func (r *repoPG) Create(ctx context.Context, o *Order) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		displayID, err := r.seq.Next(ctx, r.conn(ctx))
		if err != nil {
			return err
		}
		o.ID = uuid.New()
		o.DisplayID = displayID
		row := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO orders (id, display_id, job_role, job_type, priority,
				ordered_by, assigned_worker, patient_id, encounter_id,
				request_payload, result_payload, outcome_flag, cancel_reason, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			RETURNING created_at, updated_at`,
			o.ID, o.DisplayID, o.JobRole, o.JobType, o.Priority,
			o.OrderedBy, o.AssignedWorker, o.PatientID, o.EncounterID,
			o.RequestPayload, o.ResultPayload, o.OutcomeFlag, o.CancelReason, o.Status)
		return row.Scan(&o.CreatedAt, &o.UpdatedAt)
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1 AND NOT deleted`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Order, int, error) {
	where := ` WHERE NOT deleted`
	args := []interface{}{}
	idx := 1
	add := func(clause string, value interface{}) {
		where += fmt.Sprintf(" AND %s = $%d", clause, idx)
		args = append(args, value)
		idx++
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if filter.JobRole != "" {
		add("job_role", filter.JobRole)
	}
	if filter.PatientID != nil {
		add("patient_id", *filter.PatientID)
	}
	if filter.OrderedBy != "" {
		add("ordered_by", filter.OrderedBy)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderCols, where, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Mutate(ctx context.Context, id uuid.UUID, fn func(*Order) error) (*Order, error) {
	var out *Order
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		o, err := scanOrder(r.conn(ctx).QueryRow(ctx,
			`SELECT `+orderCols+` FROM orders WHERE id = $1 AND NOT deleted FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("order %s not found", id)
		}
		if err != nil {
			return err
		}

		if err := fn(o); err != nil {
			return err
		}

		_, err = r.conn(ctx).Exec(ctx, `
			UPDATE orders SET priority=$2, assigned_worker=$3,
				request_payload=$4, result_payload=$5, outcome_flag=$6,
				cancel_reason=$7, status=$8, accepted_at=$9, started_at=$10,
				result_ready_at=$11, confirmed_at=$12, cancelled_at=$13,
				deleted=$14, updated_at=NOW()
			WHERE id = $1`,
			o.ID, o.Priority, o.AssignedWorker,
			o.RequestPayload, o.ResultPayload, o.OutcomeFlag,
			o.CancelReason, o.Status, o.AcceptedAt, o.StartedAt,
			o.ResultReadyAt, o.ConfirmedAt, o.CancelledAt,
			o.Deleted)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
