package query

import (
	"reflect"
	"strconv"
	"strings"
)

// SortField orders by a projected field. Fields the projection does not
// know are ignored, so client sort input never reaches SQL verbatim.
type SortField struct {
	Field      string
	Descending bool
}

// ParseSortFields reads "CreatedAt,-OccurredAt"; a leading "-" sorts
// descending. Empty input yields nil.
func ParseSortFields(s string) []SortField {
	var fields []SortField
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, desc := strings.CutPrefix(part, "-")
		fields = append(fields, SortField{Field: name, Descending: desc})
	}
	return fields
}

// Builder accumulates AND-ed conditions and an ordering for one projection.
type Builder struct {
	proj     *ProjectionMap
	where    []string
	args     []any
	sort     []SortField
	fallback []SortField
}

// NewBuilder orders by defaultSort until OrderByFields supplies another order.
func NewBuilder(proj *ProjectionMap, defaultSort ...SortField) *Builder {
	return &Builder{proj: proj, fallback: defaultSort}
}

// WhereEquals adds field = value. Nil values, including typed nil
// pointers, leave the builder unchanged so optional filters chain freely.
func (b *Builder) WhereEquals(field string, value any) *Builder {
	if isNil(value) {
		return b
	}
	b.where = append(b.where, b.proj.Column(field)+" = ?")
	b.args = append(b.args, value)
	return b
}

func (b *Builder) OrderByFields(fields []SortField) *Builder {
	b.sort = fields
	return b
}

// Build is the full filtered and ordered SELECT.
func (b *Builder) Build() (string, []any) {
	return b.proj.Select() + b.whereClause() + b.orderClause(), b.args
}

// BuildCount counts the rows Build would return.
func (b *Builder) BuildCount() (string, []any) {
	return "SELECT COUNT(*) FROM " + b.proj.Table() + b.whereClause(), b.args
}

// BuildPage is Build restricted to one 1-based page.
func (b *Builder) BuildPage(page, pageSize int) (string, []any) {
	offset := max(page-1, 0) * pageSize
	sql, args := b.Build()
	return sql + " LIMIT " + strconv.Itoa(pageSize) + " OFFSET " + strconv.Itoa(offset), args
}

func (b *Builder) whereClause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

func (b *Builder) orderClause() string {
	fields := b.sort
	if len(fields) == 0 {
		fields = b.fallback
	}

	var terms []string
	for _, f := range fields {
		if !b.proj.Has(f.Field) {
			continue
		}
		term := b.proj.Column(f.Field) + " ASC"
		if f.Descending {
			term = b.proj.Column(f.Field) + " DESC"
		}
		terms = append(terms, term)
	}
	if len(terms) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
