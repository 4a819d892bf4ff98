// Package pagination parses list query parameters and pages ordered slices by
// the id of the last returned item.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize when Options leaves it unset.
	DefaultMaxPageSize = 100

	maxFilterValueLength = 128
)

// Operator is a filter comparison accepted in ?filter=field<op>value.
type Operator string

const (
	OperatorEqual    Operator = "=="
	OperatorNotEqual Operator = "!="
)

// Longer operators first so "!=" is never read as a field ending in "!".
var operators = []Operator{OperatorEqual, OperatorNotEqual}

// Filter is one parsed predicate.
type Filter struct {
	Field string
	Op    Operator
	Value string
}

// Matches applies the filter to value.
func (f Filter) Matches(value string) bool {
	switch f.Op {
	case OperatorNotEqual:
		return value != f.Value
	default:
		return value == f.Value
	}
}

// Params is the parsed list request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Filters   []Filter
}

// Options bound what Parse accepts for one endpoint.
type Options struct {
	DefaultPageSize     int
	MaxPageSize         int
	AllowedFilterFields map[string][]Operator
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the query string of r.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads pageSize, pageToken and repeated filter values.
func Parse(values url.Values, opts Options) (Params, error) {
	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if raw := strings.TrimSpace(values.Get("pageToken")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}

	for _, raw := range values["filter"] {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		filter, err := parseFilter(raw, opts.AllowedFilterFields)
		if err != nil {
			return Params{}, err
		}
		params.Filters = append(params.Filters, filter)
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	size := opts.DefaultPageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	size = min(size, maxSize)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return size, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	return min(value, maxSize), nil
}

func parseFilter(raw string, allowed map[string][]Operator) (Filter, error) {
	raw = strings.TrimSpace(raw)
	for _, op := range operators {
		idx := strings.Index(raw, string(op))
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(raw[:idx])
		value := strings.Trim(strings.TrimSpace(raw[idx+len(op):]), `"'`)
		if value == "" {
			return Filter{}, fmt.Errorf("%w: empty value for field %q", ErrInvalidFilter, field)
		}
		if len(value) > maxFilterValueLength {
			return Filter{}, fmt.Errorf("%w: value for field %q too long", ErrInvalidFilter, field)
		}
		ops, ok := allowed[field]
		if !ok {
			return Filter{}, fmt.Errorf("%w: field %q is not allowed", ErrInvalidFilter, field)
		}
		if !containsOperator(ops, op) {
			return Filter{}, fmt.Errorf("%w: operator %q is not allowed for field %q", ErrInvalidFilter, op, field)
		}
		return Filter{Field: field, Op: op, Value: value}, nil
	}
	return Filter{}, fmt.Errorf("%w: missing operator in %q", ErrInvalidFilter, raw)
}

// An empty operator list allows equality only.
func containsOperator(ops []Operator, op Operator) bool {
	if len(ops) == 0 {
		return op == OperatorEqual
	}
	return slices.Contains(ops, op)
}

// Page returns the items whose id sorts after the cursor, plus the token for the
// next page. items must be sorted by id ascending. A cursor whose item has since
// been removed resumes at the next greater id.
func Page[T any](items []T, id func(T) string, params Params) ([]T, string, error) {
	start := 0
	if after := params.Cursor.After; after != "" {
		start = len(items)
		for i, item := range items {
			if id(item) > after {
				start = i
				break
			}
		}
	}
	size := params.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	end := start + size
	if end >= len(items) {
		return items[start:], "", nil
	}
	next, err := EncodeToken(Cursor{After: id(items[end-1])})
	if err != nil {
		return nil, "", err
	}
	return items[start:end], next, nil
}
