// Package query builds parameterized SELECT statements over a projection of
// view names onto table columns. Only mapped view names reach generated SQL
// as identifiers.
package query

import (
	"strings"
)

type projected struct {
	view   string
	column string
}

// ProjectionMap maps view names to columns of one aliased table. Projection
// order is the column order of generated SELECT and RETURNING lists.
type ProjectionMap struct {
	schema string
	table  string
	alias  string
	order  []projected
	index  map[string]int
}

// NewProjectionMap starts an empty projection over schema.table aliased as
// alias.
func NewProjectionMap(schema, table, alias string) *ProjectionMap {
	return &ProjectionMap{
		schema: schema,
		table:  table,
		alias:  alias,
		index:  make(map[string]int),
	}
}

// Project maps column to viewName. Projecting a view name twice replaces the
// earlier column in place.
func (p *ProjectionMap) Project(column, viewName string) *ProjectionMap {
	if i, ok := p.index[viewName]; ok {
		p.order[i].column = column
		return p
	}
	p.index[viewName] = len(p.order)
	p.order = append(p.order, projected{view: viewName, column: column})
	return p
}

// Same projects each column under its own name.
func (p *ProjectionMap) Same(columns ...string) *ProjectionMap {
	for _, c := range columns {
		p.Project(c, c)
	}
	return p
}

func (p *ProjectionMap) Alias() string {
	return p.alias
}

// Table returns "schema.table alias".
func (p *ProjectionMap) Table() string {
	return p.schema + "." + p.table + " " + p.alias
}

// Column returns the alias-qualified column for viewName, or viewName itself
// when it is not mapped.
func (p *ProjectionMap) Column(viewName string) string {
	i, ok := p.index[viewName]
	if !ok {
		return viewName
	}
	return p.alias + "." + p.order[i].column
}

func (p *ProjectionMap) Has(viewName string) bool {
	_, ok := p.index[viewName]
	return ok
}

// Columns returns the qualified SELECT list.
func (p *ProjectionMap) Columns() string {
	return p.join(func(c projected) string { return p.alias + "." + c.column })
}

// Returning returns the unqualified column list for RETURNING clauses.
func (p *ProjectionMap) Returning() string {
	return p.join(func(c projected) string { return c.column })
}

// Fields returns the view names in projection order.
func (p *ProjectionMap) Fields() []string {
	out := make([]string, len(p.order))
	for i, c := range p.order {
		out[i] = c.view
	}
	return out
}

func (p *ProjectionMap) join(render func(projected) string) string {
	var b strings.Builder
	for i, c := range p.order {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(render(c))
	}
	return b.String()
}
