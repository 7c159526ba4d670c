package cursor

import (
	"errors"
	"slices"

	"github.com/complykit/complykit/pkg/validator"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Order is the direction of the (created_at, id) sort.
type Order string

const (
	Desc Order = "desc"
	Asc  Order = "asc"
)

// Query is a validated page request.
type Query struct {
	After *Cursor
	Limit int
	Order Order
}

// FetchLimit is the number of rows a store should read: one more than the
// page size, so Paginate can tell whether another page exists.
func (q Query) FetchLimit() int {
	return q.Limit + 1
}

// Includes reports whether a row with key k belongs strictly after the
// cursor in the query's direction.
func (q Query) Includes(k Cursor) bool {
	if q.After == nil {
		return true
	}
	c := Compare(k, *q.After)
	if q.Order == Asc {
		return c > 0
	}
	return c < 0
}

// Parse validates raw list parameters. limit nil means DefaultLimit and an
// empty order means Desc. A token that fails to decode is treated as absent,
// so a stale or mangled cursor restarts from the first page.
func Parse(token string, limit *int, order string) (Query, error) {
	q, err := parse(limit, order)
	if err != nil {
		return Query{}, err
	}
	if token != "" {
		if c, err := Decode(token); err == nil {
			q.After = &c
		}
	}
	return q, nil
}

// ParseStrict is Parse but rejects undecodable tokens with ErrInvalidCursor.
func ParseStrict(token string, limit *int, order string) (Query, error) {
	q, err := parse(limit, order)
	if err != nil {
		return Query{}, err
	}
	if token != "" {
		c, err := Decode(token)
		if err != nil {
			return Query{}, err
		}
		q.After = &c
	}
	return q, nil
}

func parse(limit *int, order string) (Query, error) {
	q := Query{Limit: DefaultLimit, Order: Desc}
	if limit != nil {
		q.Limit = *limit
	}
	if order != "" {
		q.Order = Order(order)
	}

	err := validator.Apply(
		validator.Between("limit", q.Limit, 1, MaxLimit),
		validator.OneOf("order", q.Order, Desc, Asc),
	)
	if err != nil {
		return Query{}, err
	}
	return q, nil
}

// Page is one slice of a list response.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"nextCursor"`
}

// Paginate trims rows fetched with q.FetchLimit() to q.Limit. When an extra
// row was present, NextCursor is the key of the last returned row.
func Paginate[T any](rows []T, q Query, key func(T) Cursor) Page[T] {
	if rows == nil {
		rows = []T{}
	}
	if len(rows) <= q.Limit {
		return Page[T]{Items: rows}
	}

	items := rows[:q.Limit]
	next := Encode(key(items[len(items)-1]))
	return Page[T]{Items: items, NextCursor: &next}
}

// Sort orders rows in place by key in direction o.
func Sort[T any](rows []T, o Order, key func(T) Cursor) {
	slices.SortFunc(rows, func(a, b T) int {
		c := Compare(key(a), key(b))
		if o == Asc {
			return c
		}
		return -c
	})
}

// Window applies q to an unsorted in-memory slice: it sorts, skips rows up to
// the cursor and returns at most q.FetchLimit() rows ready for Paginate.
func Window[T any](rows []T, q Query, key func(T) Cursor) []T {
	sorted := slices.Clone(rows)
	Sort(sorted, q.Order, key)

	out := make([]T, 0, q.FetchLimit())
	for _, r := range sorted {
		if !q.Includes(key(r)) {
			continue
		}
		out = append(out, r)
		if len(out) == q.FetchLimit() {
			break
		}
	}
	return out
}

// IsInvalid reports whether err is a cursor decoding failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidCursor)
}
