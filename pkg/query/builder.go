package query

import (
	"reflect"
	"strconv"
	"strings"
	"time"
)

// SortField is one ORDER BY term. Field is a view name; unmapped names are
// dropped when the query is built.
type SortField struct {
	Field      string
	Descending bool
}

// ParseSortFields parses "status,-created_at" style input. A leading "-"
// sorts descending. Blank segments are skipped; empty input yields nil.
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

// params numbers positional parameters as conditions are rendered.
type params struct {
	args []any
}

// add records v and returns its placeholder.
func (p *params) add(v any) string {
	p.args = append(p.args, v)
	return "$" + strconv.Itoa(len(p.args))
}

// condition renders one WHERE term, allocating its placeholders from p.
type condition func(p *params) string

// Builder assembles SELECT statements over a projection. Where* methods are
// no-ops for nil or empty values so optional filters chain unconditionally.
type Builder struct {
	projection  *ProjectionMap
	conditions  []condition
	order       []SortField
	defaultSort []SortField
}

func NewBuilder(projection *ProjectionMap, defaultSort ...SortField) *Builder {
	return &Builder{projection: projection, defaultSort: defaultSort}
}

// OrderByFields replaces the default sort. If none of fields is mapped the
// default sort still applies.
func (b *Builder) OrderByFields(fields []SortField) *Builder {
	b.order = fields
	return b
}

func (b *Builder) where(c condition) *Builder {
	b.conditions = append(b.conditions, c)
	return b
}

// compare adds "column op $n" unless value is nil.
func (b *Builder) compare(field, op string, value any) *Builder {
	value, ok := deref(value)
	if !ok {
		return b
	}
	col := b.projection.Column(field)
	return b.where(func(p *params) string {
		return col + " " + op + " " + p.add(value)
	})
}

// WhereEquals matches field = value. Pointer values are dereferenced.
func (b *Builder) WhereEquals(field string, value any) *Builder {
	return b.compare(field, "=", value)
}

// WhereSince matches field >= t.
func (b *Builder) WhereSince(field string, t *time.Time) *Builder {
	return b.compare(field, ">=", t)
}

// WhereBefore matches field < t.
func (b *Builder) WhereBefore(field string, t *time.Time) *Builder {
	return b.compare(field, "<", t)
}

// WhereIn matches field against any of values.
func (b *Builder) WhereIn(field string, values []any) *Builder {
	if len(values) == 0 {
		return b
	}
	col := b.projection.Column(field)
	return b.where(func(p *params) string {
		holders := make([]string, len(values))
		for i, v := range values {
			holders[i] = p.add(v)
		}
		return col + " IN (" + strings.Join(holders, ", ") + ")"
	})
}

// WhereContains matches field case-insensitively containing value.
func (b *Builder) WhereContains(field string, value *string) *Builder {
	return b.WhereSearch(value, field)
}

// WhereSearch matches when any of fields contains search, ignoring case.
// LIKE wildcards in search match literally.
func (b *Builder) WhereSearch(search *string, fields ...string) *Builder {
	if search == nil || *search == "" || len(fields) == 0 {
		return b
	}
	pattern := "%" + EscapeLike(*search) + "%"
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = b.projection.Column(f)
	}

	return b.where(func(p *params) string {
		terms := make([]string, len(cols))
		for i, col := range cols {
			terms[i] = col + " ILIKE " + p.add(pattern)
		}
		if len(terms) == 1 {
			return terms[0]
		}
		return "(" + strings.Join(terms, " OR ") + ")"
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes the LIKE metacharacters in s using the default
// backslash escape.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Build returns the SELECT with conditions and ordering.
func (b *Builder) Build() (string, []any) {
	where, args := b.renderWhere()
	return b.selectFrom() + where + b.renderOrder(), args
}

// BuildCount returns a COUNT(*) over the same conditions.
func (b *Builder) BuildCount() (string, []any) {
	where, args := b.renderWhere()
	return "SELECT COUNT(*) FROM " + b.projection.Table() + where, args
}

// BuildPage returns Build limited to one 1-based page.
func (b *Builder) BuildPage(page, pageSize int) (string, []any) {
	sql, args := b.Build()
	offset := max(page-1, 0) * pageSize
	return sql + " LIMIT " + strconv.Itoa(pageSize) + " OFFSET " + strconv.Itoa(offset), args
}

// BuildSingle selects the row whose idField equals id. Other conditions and
// ordering are ignored.
func (b *Builder) BuildSingle(idField string, id any) (string, []any) {
	return b.selectFrom() + " WHERE " + b.projection.Column(idField) + " = $1", []any{id}
}

func (b *Builder) selectFrom() string {
	return "SELECT " + b.projection.Columns() + " FROM " + b.projection.Table()
}

func (b *Builder) renderWhere() (string, []any) {
	if len(b.conditions) == 0 {
		return "", nil
	}
	var p params
	terms := make([]string, len(b.conditions))
	for i, c := range b.conditions {
		terms[i] = c(&p)
	}
	return " WHERE " + strings.Join(terms, " AND "), p.args
}

func (b *Builder) renderOrder() string {
	terms := b.orderTerms(b.order)
	if len(terms) == 0 {
		terms = b.orderTerms(b.defaultSort)
	}
	if len(terms) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

func (b *Builder) orderTerms(fields []SortField) []string {
	var terms []string
	for _, f := range fields {
		if !b.projection.Has(f.Field) {
			continue
		}
		dir := " ASC"
		if f.Descending {
			dir = " DESC"
		}
		terms = append(terms, b.projection.Column(f.Field)+dir)
	}
	return terms
}

// deref unwraps pointers. It reports false for nil values, including typed
// nil pointers, slices and maps.
func deref(value any) (any, bool) {
	if value == nil {
		return nil, false
	}
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return nil, false
		}
	}
	return v.Interface(), true
}
