// Package query assembles the SELECT statements behind paged listings from
// a projection of logical field names onto table columns. Statements use ?
// placeholders; callers rebind them for the active dialect.
package query

import "strings"

// ProjectionMap binds logical field names (as exposed to sort and filter
// parameters) to alias-qualified columns of one table.
type ProjectionMap struct {
	table   string
	alias   string
	byField map[string]string
	ordered []string
}

func NewProjectionMap(table, alias string) *ProjectionMap {
	return &ProjectionMap{
		table:   table,
		alias:   alias,
		byField: make(map[string]string),
	}
}

// Project exposes column under field. Columns are selected in the order
// they are projected, which is the order scan functions must follow.
func (p *ProjectionMap) Project(column, field string) *ProjectionMap {
	qualified := p.alias + "." + column
	p.byField[field] = qualified
	p.ordered = append(p.ordered, qualified)
	return p
}

// Table is the FROM reference, "table alias".
func (p *ProjectionMap) Table() string {
	return p.table + " " + p.alias
}

// Column resolves field, passing unknown names through unchanged.
func (p *ProjectionMap) Column(field string) string {
	if col, ok := p.byField[field]; ok {
		return col
	}
	return field
}

func (p *ProjectionMap) Has(field string) bool {
	_, ok := p.byField[field]
	return ok
}

func (p *ProjectionMap) Columns() string {
	return strings.Join(p.ordered, ", ")
}

// Select is the unfiltered statement over every projected column.
func (p *ProjectionMap) Select() string {
	return "SELECT " + p.Columns() + " FROM " + p.Table()
}
