package postgres

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/docstore"
)

var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func buildQuery(q docstore.Query) (string, []any, error) {
	var sb strings.Builder
	args := []any{q.Collection}
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)

	for _, f := range q.Filters {
		if !fieldRe.MatchString(f.Field) {
			return "", nil, fmt.Errorf("query %s: bad field %q", q.Collection, f.Field)
		}
		expr, arg, err := filterExpr(f, len(args)+1)
		if err != nil {
			return "", nil, fmt.Errorf("query %s: %w", q.Collection, err)
		}
		sb.WriteString(" AND ")
		sb.WriteString(expr)
		args = append(args, arg)
	}

	if q.OrderBy != "" {
		if !fieldRe.MatchString(q.OrderBy) {
			return "", nil, fmt.Errorf("query %s: bad order field %q", q.Collection, q.OrderBy)
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s, id", orderExpr(q.OrderBy, q.OrderAs), dir)
	} else {
		sb.WriteString(" ORDER BY id")
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args, nil
}

// orderExpr casts timestamps before sorting: RFC 3339 text with trimmed
// fractional seconds does not sort chronologically.
func orderExpr(field string, kind docstore.SortKind) string {
	switch kind {
	case docstore.SortTime:
		return fmt.Sprintf("(data->>'%s')::timestamptz", field)
	case docstore.SortNumber:
		return fmt.Sprintf("(data->>'%s')::numeric", field)
	}
	return fmt.Sprintf("data->'%s'", field)
}

var sqlOps = map[docstore.Op]string{
	docstore.OpEq:  "=",
	docstore.OpLt:  "<",
	docstore.OpLte: "<=",
	docstore.OpGt:  ">",
	docstore.OpGte: ">=",
}

func filterExpr(f docstore.Filter, n int) (string, any, error) {
	col := fmt.Sprintf("data->>'%s'", f.Field)

	if f.Op == docstore.OpIn {
		rv := reflect.ValueOf(f.Value)
		if rv.Kind() != reflect.Slice {
			return "", nil, fmt.Errorf("%s in: want a slice, got %T", f.Field, f.Value)
		}
		vals := make([]string, rv.Len())
		for i := range vals {
			vals[i] = fmt.Sprint(rv.Index(i).Interface())
		}
		return fmt.Sprintf("%s = ANY($%d::text[])", col, n), vals, nil
	}

	op, ok := sqlOps[f.Op]
	if !ok {
		return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
	}
	switch v := f.Value.(type) {
	case time.Time:
		return fmt.Sprintf("(%s)::timestamptz %s $%d", col, op, n), v, nil
	case bool:
		return fmt.Sprintf("(%s)::boolean %s $%d", col, op, n), v, nil
	}
	rv := reflect.ValueOf(f.Value)
	switch rv.Kind() {
	case reflect.String:
		return fmt.Sprintf("%s %s $%d", col, op, n), rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("(%s)::numeric %s $%d", col, op, n), float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("(%s)::numeric %s $%d", col, op, n), float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("(%s)::numeric %s $%d", col, op, n), rv.Float(), nil
	}
	return "", nil, fmt.Errorf("%s: unsupported filter value %T", f.Field, f.Value)
}
