package listing

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"emoney-portal/internal/platform"
	"emoney-portal/internal/status"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/cast"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200

	DateLayout = "2006-01-02"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sort is the active column ordering of a list screen.
type Sort struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// Toggle flips the direction when field is already active, otherwise it
// starts ascending on the new field.
func (s Sort) Toggle(field string) Sort {
	if s.Field != field {
		return Sort{Field: field, Direction: Asc}
	}
	if s.Direction == Desc {
		return Sort{Field: field, Direction: Asc}
	}
	return Sort{Field: field, Direction: Desc}
}

func (s Sort) Param() string {
	if s.Field == "" {
		return ""
	}
	return s.Field + "," + string(s.Direction)
}

func parseSort(raw string) Sort {
	field, dir, _ := strings.Cut(strings.TrimSpace(raw), ",")
	if field == "" {
		return Sort{}
	}
	if strings.EqualFold(dir, string(Desc)) {
		return Sort{Field: field, Direction: Desc}
	}
	return Sort{Field: field, Direction: Asc}
}

// DateRange is an inclusive from/to day filter.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Days is the number of calendar days covered, counting both ends.
func (r DateRange) Days() int {
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

func (r DateRange) Validate(maxDays int) error {
	if r.IsZero() {
		return nil
	}
	if r.From.IsZero() || r.To.IsZero() {
		return validation.NewError("validation_date_range_incomplete", "both from and to dates are required")
	}
	if r.To.Before(r.From) {
		return validation.NewError("validation_date_range_order", "to date must not be before from date")
	}
	if maxDays > 0 && r.Days() > maxDays {
		return fmt.Errorf("%w: %d days requested, at most %d allowed", status.ErrDateRangeTooWide, r.Days(), maxDays)
	}
	return nil
}

// Query is what a list screen sends: page, size, sort, filters and date range.
type Query struct {
	Page    int               `json:"page"`
	Size    int               `json:"size"`
	Sort    Sort              `json:"sort"`
	Filters map[string]string `json:"filters,omitempty"`
	Range   DateRange         `json:"range"`
}

var reserved = map[string]bool{"page": true, "size": true, "sort": true, "from": true, "to": true}

// ParseQuery reads a Query from request parameters. Unknown keys become filters.
func ParseQuery(values url.Values) (Query, error) {
	q := Query{
		Page:    cast.ToInt(values.Get("page")),
		Size:    cast.ToInt(values.Get("size")),
		Sort:    parseSort(values.Get("sort")),
		Filters: map[string]string{},
	}
	if q.Size == 0 {
		q.Size = DefaultPageSize
	}

	var err error
	if q.Range.From, err = parseDate(values.Get("from")); err != nil {
		return Query{}, validation.Errors{"from": err}
	}
	if q.Range.To, err = parseDate(values.Get("to")); err != nil {
		return Query{}, validation.Errors{"to": err}
	}

	for k, v := range values {
		if reserved[k] || len(v) == 0 || strings.TrimSpace(v[0]) == "" {
			continue
		}
		q.Filters[k] = strings.TrimSpace(v[0])
	}
	return q, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, validation.NewError("validation_date_format", "must be a date in YYYY-MM-DD format")
	}
	return t, nil
}

var filterValue = regexp.MustCompile(`^[\p{L}\p{N} _.@+\-]*$`)

// Validate checks q against what res accepts. It runs before any platform call.
func (q Query) Validate(res platform.Resource, maxDays int) error {
	err := validation.ValidateStruct(&q,
		validation.Field(&q.Page, validation.Min(0)),
		validation.Field(&q.Size, validation.Min(1), validation.Max(MaxPageSize)),
		validation.Field(&q.Sort, validation.By(func(any) error {
			if q.Sort.Field != "" && !res.AllowsSort(q.Sort.Field) {
				return validation.NewError("validation_sort_field", "cannot sort by "+q.Sort.Field)
			}
			return nil
		})),
		validation.Field(&q.Filters, validation.By(func(any) error {
			for k, v := range q.Filters {
				if !res.AllowsFilter(k) {
					return validation.NewError("validation_filter_unknown", "unknown filter "+k)
				}
				if err := validation.Validate(v, validation.Length(0, 100), validation.Match(filterValue)); err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
			}
			return nil
		})),
	)
	if err != nil {
		return err
	}

	if !q.Range.IsZero() && !res.DateRange {
		return validation.Errors{"range": validation.NewError("validation_range_unsupported", "date range is not supported here")}
	}
	return q.Range.Validate(maxDays)
}

// Values encodes q the way the platform list endpoints expect it.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("page", cast.ToString(q.Page))
	v.Set("size", cast.ToString(q.Size))
	if p := q.Sort.Param(); p != "" {
		v.Set("sort", p)
	}
	for k, f := range q.Filters {
		v.Set(k, f)
	}
	if !q.Range.IsZero() {
		v.Set("fromDate", q.Range.From.Format(DateLayout))
		v.Set("toDate", q.Range.To.Format(DateLayout))
	}
	return v
}

// Page is one page of a platform list response.
type Page[T any] struct {
	Items []T   `json:"content"`
	Total int64 `json:"totalElements"`
	Page  int   `json:"number"`
	Size  int   `json:"size"`
}

const (
	ViewEmpty = "empty"
	ViewTable = "table"
)

func (p Page[T]) View() string {
	if len(p.Items) == 0 {
		return ViewEmpty
	}
	return ViewTable
}

// Result is the list payload returned to the dashboard. Rows is omitted for
// an empty page so only the empty state is rendered.
type Result[T any] struct {
	View  string `json:"view"`
	Rows  []T    `json:"rows,omitempty"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
	Size  int    `json:"size"`
	Sort  Sort   `json:"sort"`
}

func NewResult[T any](p Page[T], q Query) Result[T] {
	r := Result[T]{View: p.View(), Total: p.Total, Page: q.Page, Size: q.Size, Sort: q.Sort}
	if r.View == ViewTable {
		r.Rows = p.Items
	}
	return r
}

// Row is an untyped record used by the generic resource screens.
type Row = json.RawMessage
