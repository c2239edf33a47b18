// Package sqlxrepos implements the domain repositories on postgres.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// validID reports whether id can be looked up; anything but a uuid is simply not found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// trapNoRowsErr maps the "no rows" error to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// withTx runs fn in a transaction, committed when fn returns nil.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// orderBy renders ordering, falling back to defaults. Fields are whitelisted by the domains' OrderingFields;
// exprs maps the fields that are not plain columns to their SQL expression.
func orderBy(ordering []core.DBOrdering, exprs map[string]string, defaults ...string) []string {
	clauses := make([]string, 0, len(ordering)+len(defaults))
	seen := make(map[string]bool, len(ordering))
	for _, ord := range ordering {
		if expr, ok := exprs[ord.Field]; ok {
			ord.Field = expr
		}
		clauses = append(clauses, ord.String())
		seen[ord.Field] = true
	}
	for _, d := range defaults {
		if !seen[strings.Fields(d)[0]] {
			clauses = append(clauses, d)
		}
	}
	return clauses
}

// ilike matches val anywhere in one of cols.
func ilike(val string, cols ...string) sq.Or {
	pattern := "%" + escapeLike(val) + "%"
	or := make(sq.Or, 0, len(cols))
	for _, col := range cols {
		or = append(or, sq.ILike{col: pattern})
	}
	return or
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nullableID(id string) interface{} {
	if id == "" {
		return nil
	}
	return id
}
