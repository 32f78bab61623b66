// Package sequence issues human-readable sequential display IDs such as
// ocs_0001 or ai_req_0042. IDs are derived from the latest ID already
// stored in the owning table, so the sequence survives restarts without a
// separate counter table.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinicore/internal/platform/db"
)

// Generator issues display IDs for one table. Next must be called inside
// the transaction that inserts the new row; the advisory lock it takes is
// released at commit, which serializes concurrent writers on the same
// prefix.
type Generator struct {
	prefix string
	table  string
	column string
}

// NewGenerator creates a Generator for the given prefix over table.column.
func NewGenerator(prefix, table, column string) *Generator {
	return &Generator{prefix: prefix, table: table, column: column}
}

// Next returns the next display ID in sequence. The latest stored ID is
// read and its numeric suffix incremented; if the suffix cannot be parsed
// the sequence restarts at 1.
func (g *Generator) Next(ctx context.Context, q db.Queryable) (string, error) {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, g.prefix); err != nil {
		return "", fmt.Errorf("acquire sequence lock for %s: %w", g.prefix, err)
	}

	// Length-first ordering yields the numeric maximum for zero-padded
	// suffixes, including ones that have widened past four digits
	// (ocs_10000 sorts above ocs_9999).
	var latest string
	query := fmt.Sprintf(
		`SELECT %s FROM %s ORDER BY length(%s) DESC, %s DESC LIMIT 1`,
		g.column, g.table, g.column, g.column,
	)
	err := q.QueryRow(ctx, query).Scan(&latest)
	switch {
	case err == pgx.ErrNoRows:
		return Format(g.prefix, 1), nil
	case err != nil:
		return "", fmt.Errorf("read latest %s id: %w", g.prefix, err)
	}

	n, ok := Parse(g.prefix, latest)
	if !ok {
		return Format(g.prefix, 1), nil
	}
	return Format(g.prefix, n+1), nil
}

// Format renders a display ID with a zero-padded four-digit suffix.
// Sequences past 9999 keep counting with wider suffixes.
func Format(prefix string, n int) string {
	return fmt.Sprintf("%s_%04d", prefix, n)
}

// Parse extracts the numeric suffix from a display ID. It reports false
// when the ID does not carry the expected prefix or a numeric suffix.
func Parse(prefix, id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
