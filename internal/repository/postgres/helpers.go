package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// conditions accumulates WHERE clauses with numbered placeholders.
type conditions struct {
	clauses []string
	args    []interface{}
}

func (c *conditions) add(clause string, arg interface{}) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(c.args))))
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// page appends LIMIT/OFFSET when the filter sets a limit.
func (c *conditions) page(f *types.QueryFilter) string {
	if f.GetLimit() <= 0 {
		return ""
	}
	c.args = append(c.args, f.GetLimit(), f.GetOffset())
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(c.args)-1, len(c.args))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func marshalJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode JSON column").
			Mark(ierr.ErrInternal)
	}
	return b, nil
}

func unmarshalJSON(b []byte, v interface{}) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to decode JSON column").
			Mark(ierr.ErrInternal)
	}
	return nil
}

// notFoundOr maps sql.ErrNoRows to ErrNotFound and anything else to ErrDatabase.
func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ierr.WithError(err).
			WithHintf("%s %s was not found", entity, id).
			WithReportableDetails(map[string]interface{}{
				"id": id,
			}).
			Mark(ierr.ErrNotFound)
	}
	return ierr.WithError(err).
		WithHintf("Failed to get %s %s", entity, id).
		Mark(ierr.ErrDatabase)
}

func statusStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
