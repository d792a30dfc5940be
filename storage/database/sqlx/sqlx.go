// Package sqlxrepos implements the domain repositories on postgres with
// sqlx row mapping and squirrel query building.
package sqlxrepos

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/trezcool/shule/core"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == uniqueViolation
}

func orderBy(builder sq.SelectBuilder, defaultOrder string, ordering []core.DBOrdering) sq.SelectBuilder {
	if len(ordering) == 0 {
		return builder.OrderBy(defaultOrder)
	}
	for _, ord := range ordering {
		builder = builder.OrderBy(ord.String())
	}
	return builder
}
