package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

// listQuery appends time filters, newest-first ordering and pagination
// from opts to base, which must end in a WHERE clause.
func listQuery(base string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		b.WriteString(" AND created_at >= " + next(*opts.Since))
	}
	if opts.Until != nil {
		b.WriteString(" AND created_at <= " + next(*opts.Until))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + next(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + next(opts.Offset))
	}
	return b.String(), args
}
