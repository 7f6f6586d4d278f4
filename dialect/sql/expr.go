package sql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/syssam/norm/dialect"
)

// Op represents an expression operator.
type Op uint8

// Expression operators.
const (
	OpEQ Op = iota
	OpNEQ
	OpGT
	OpGTE
	OpLT
	OpLTE
	OpIn
	OpNotIn
	OpLike
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
)

var opText = [...]string{
	OpEQ:    "=",
	OpNEQ:   "<>",
	OpGT:    ">",
	OpGTE:   ">=",
	OpLT:    "<",
	OpLTE:   "<=",
	OpIn:    "IN",
	OpNotIn: "NOT IN",
	OpLike:  "LIKE",
	OpAdd:   "+",
	OpSub:   "-",
	OpMul:   "*",
	OpDiv:   "/",
	OpAnd:   "AND",
	OpOr:    "OR",
}

// String returns the SQL text of the operator.
func (o Op) String() string {
	if int(o) < len(opText) {
		return opText[o]
	}
	return ""
}

// Column is a reference to a table column. It is implemented by
// field descriptors and by the raw reference returned from C.
type Column interface {
	// ColumnName returns the database column name.
	ColumnName() string
	// TableName returns the table the column belongs to,
	// or an empty string for an unbound reference.
	TableName() string
}

type rawColumn string

func (c rawColumn) ColumnName() string { return string(c) }
func (c rawColumn) TableName() string  { return "" }

// C returns an unbound column reference for the given name.
// Unbound references skip table-membership validation at render time.
func C(name string) Column { return rawColumn(name) }

// Expr is an immutable binary expression node. Operands are Column
// references, literal values, nested *Expr or *CaseExpr values.
// Expressions are pure data; rendering them is a separate step
// driven by a Marker.
type Expr struct {
	op    Op
	left  any
	right any
}

// Op returns the node operator.
func (e *Expr) Op() Op { return e.op }

// EQ returns a `left = right` expression.
func EQ(left, right any) *Expr { return &Expr{op: OpEQ, left: left, right: right} }

// NEQ returns a `left <> right` expression.
func NEQ(left, right any) *Expr { return &Expr{op: OpNEQ, left: left, right: right} }

// GT returns a `left > right` expression.
func GT(left, right any) *Expr { return &Expr{op: OpGT, left: left, right: right} }

// GTE returns a `left >= right` expression.
func GTE(left, right any) *Expr { return &Expr{op: OpGTE, left: left, right: right} }

// LT returns a `left < right` expression.
func LT(left, right any) *Expr { return &Expr{op: OpLT, left: left, right: right} }

// LTE returns a `left <= right` expression.
func LTE(left, right any) *Expr { return &Expr{op: OpLTE, left: left, right: right} }

// In returns a `left IN (vs...)` expression.
func In(left any, vs ...any) *Expr { return &Expr{op: OpIn, left: left, right: vs} }

// NotIn returns a `left NOT IN (vs...)` expression.
func NotIn(left any, vs ...any) *Expr { return &Expr{op: OpNotIn, left: left, right: vs} }

// Like returns a `left LIKE pattern` expression.
func Like(left any, pattern string) *Expr { return &Expr{op: OpLike, left: left, right: pattern} }

// Add returns a `left + right` expression.
func Add(left, right any) *Expr { return &Expr{op: OpAdd, left: left, right: right} }

// Sub returns a `left - right` expression.
func Sub(left, right any) *Expr { return &Expr{op: OpSub, left: left, right: right} }

// Mul returns a `left * right` expression.
func Mul(left, right any) *Expr { return &Expr{op: OpMul, left: left, right: right} }

// Div returns a `left / right` expression.
func Div(left, right any) *Expr { return &Expr{op: OpDiv, left: left, right: right} }

// And returns a new expression combining e and o with AND.
// The receiver is never mutated.
func (e *Expr) And(o *Expr) *Expr { return &Expr{op: OpAnd, left: e, right: o} }

// Or returns a new expression combining e and o with OR.
func (e *Expr) Or(o *Expr) *Expr { return &Expr{op: OpOr, left: e, right: o} }

// Add returns a `e + v` expression.
func (e *Expr) Add(v any) *Expr { return Add(e, v) }

// Sub returns a `e - v` expression.
func (e *Expr) Sub(v any) *Expr { return Sub(e, v) }

// GT returns a `e > v` expression.
func (e *Expr) GT(v any) *Expr { return GT(e, v) }

// caseWhen is one WHEN...THEN... branch of a CaseExpr.
type caseWhen struct {
	cond  *Expr
	value any
}

// CaseExpr is a `CASE WHEN ... THEN ... [ELSE ...] END` expression.
// Branch-appending methods return a new value; existing expressions
// are never mutated.
type CaseExpr struct {
	whens    []caseWhen
	elseVal  any
	withElse bool
}

// Case starts a CASE expression with a first WHEN cond THEN value branch.
func Case(cond *Expr, value any) *CaseExpr {
	return &CaseExpr{whens: []caseWhen{{cond: cond, value: value}}}
}

// When returns a copy of the CASE expression with an additional branch.
func (c *CaseExpr) When(cond *Expr, value any) *CaseExpr {
	nc := &CaseExpr{elseVal: c.elseVal, withElse: c.withElse}
	nc.whens = append(append(nc.whens, c.whens...), caseWhen{cond: cond, value: value})
	return nc
}

// Else returns a copy of the CASE expression with an ELSE branch.
// Without it the database supplies NULL for unmatched rows.
func (c *CaseExpr) Else(value any) *CaseExpr {
	nc := &CaseExpr{whens: c.whens, elseVal: value, withElse: true}
	return nc
}

// RenderError reports a binding or render failure, such as a field that
// does not belong to the rendered table or a malformed expression tree.
type RenderError struct {
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("dialect/sql: render: %s", e.Reason)
}

func renderErrorf(format string, args ...any) error {
	return &RenderError{Reason: fmt.Sprintf(format, args...)}
}

// Marker assigns stable placeholder names to literal values while an
// expression tree is rendered to text. One Marker is created per
// statement and discarded after execution; sharing one across
// statements would leak bindings between unrelated statements.
type Marker struct {
	n    int
	vars map[string]any
}

// NewMarker returns an empty Marker.
func NewMarker() *Marker {
	return &Marker{vars: make(map[string]any)}
}

// Bind records the value and returns a fresh placeholder name (var0, var1, ...).
// Identical values bound twice get two distinct placeholders.
func (m *Marker) Bind(v any) string {
	name := "var" + strconv.Itoa(m.n)
	m.n++
	m.vars[name] = v
	return name
}

// Vars returns the mapping from placeholder name to bound value.
func (m *Marker) Vars() map[string]any { return m.vars }

// Len returns the number of bound placeholders.
func (m *Marker) Len() int { return m.n }

// Statement is rendered statement text plus its bound values. The two
// must be handed to the driver together, never separately; no bound
// value is ever interpolated into the text.
type Statement struct {
	Query string
	Vars  map[string]any
}

var markerPattern = regexp.MustCompile(`:(var[0-9]+)`)

// Positional compiles the named-placeholder text into the positional
// form of the given dialect (`?` for MySQL/SQLite, `$n` for Postgres)
// and the value list in placeholder appearance order.
func (s *Statement) Positional(d string) (string, []any, error) {
	var (
		args []any
		rerr error
	)
	query := markerPattern.ReplaceAllStringFunc(s.Query, func(tok string) string {
		name := tok[1:]
		v, ok := s.Vars[name]
		if !ok {
			rerr = renderErrorf("unbound placeholder %q", name)
			return tok
		}
		args = append(args, v)
		if d == dialect.Postgres {
			return "$" + strconv.Itoa(len(args))
		}
		return "?"
	})
	if rerr != nil {
		return "", nil, rerr
	}
	return query, args, nil
}

// exprRenderer renders expression trees for a single statement.
type exprRenderer struct {
	dialect string
	table   string // expected table for bound columns, empty to skip the check
	marker  *Marker
}

func (r *exprRenderer) quote(ident string) string {
	if r.dialect == dialect.Postgres {
		return `"` + ident + `"`
	}
	return "`" + ident + "`"
}

// render writes the SQL text of the operand x into b, binding literal
// operands through the marker.
func (r *exprRenderer) render(x any, b *strings.Builder) error {
	switch x := x.(type) {
	case nil:
		return renderErrorf("nil operand")
	case error:
		// Deferred construction failures, e.g. an enum value with no
		// declared ordinal, surface at render time.
		return x
	case *Expr:
		return r.renderExpr(x, b)
	case *CaseExpr:
		return r.renderCase(x, b)
	case Column:
		if t := x.TableName(); t != "" && r.table != "" && t != r.table {
			return renderErrorf("column %q belongs to table %q, not %q", x.ColumnName(), t, r.table)
		}
		b.WriteString(r.quote(x.ColumnName()))
		return nil
	default:
		b.WriteString(":" + r.marker.Bind(x))
		return nil
	}
}

func (r *exprRenderer) renderExpr(e *Expr, b *strings.Builder) error {
	if e == nil {
		return renderErrorf("nil expression")
	}
	switch e.op {
	case OpIn, OpNotIn:
		vs, ok := e.right.([]any)
		if !ok {
			return renderErrorf("%s operand must be a value list, got %T", e.op, e.right)
		}
		if len(vs) == 0 {
			return renderErrorf("%s with an empty value list", e.op)
		}
		if err := r.renderOperand(e.left, b); err != nil {
			return err
		}
		b.WriteString(" " + e.op.String() + " (")
		for i, v := range vs {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := r.render(v, b); err != nil {
				return err
			}
		}
		b.WriteString(")")
		return nil
	case OpAnd, OpOr:
		l, lok := e.left.(*Expr)
		rt, rok := e.right.(*Expr)
		if !lok || !rok {
			return renderErrorf("%s operands must be expressions", e.op)
		}
		b.WriteString("(")
		if err := r.renderExpr(l, b); err != nil {
			return err
		}
		b.WriteString(") " + e.op.String() + " (")
		if err := r.renderExpr(rt, b); err != nil {
			return err
		}
		b.WriteString(")")
		return nil
	default:
		if e.op.String() == "" {
			return renderErrorf("unknown operator %d", e.op)
		}
		if err := r.renderOperand(e.left, b); err != nil {
			return err
		}
		b.WriteString(" " + e.op.String() + " ")
		return r.renderOperand(e.right, b)
	}
}

// renderOperand renders x, parenthesizing nested expressions.
func (r *exprRenderer) renderOperand(x any, b *strings.Builder) error {
	if e, ok := x.(*Expr); ok {
		b.WriteString("(")
		if err := r.renderExpr(e, b); err != nil {
			return err
		}
		b.WriteString(")")
		return nil
	}
	return r.render(x, b)
}

func (r *exprRenderer) renderCase(c *CaseExpr, b *strings.Builder) error {
	if len(c.whens) == 0 {
		return renderErrorf("CASE without WHEN branches")
	}
	b.WriteString("CASE")
	for _, w := range c.whens {
		b.WriteString(" WHEN ")
		if err := r.renderExpr(w.cond, b); err != nil {
			return err
		}
		b.WriteString(" THEN ")
		if err := r.render(w.value, b); err != nil {
			return err
		}
	}
	if c.withElse {
		b.WriteString(" ELSE ")
		if err := r.render(c.elseVal, b); err != nil {
			return err
		}
	}
	b.WriteString(" END")
	return nil
}

// RenderExpr renders the expression for the given dialect and table,
// binding literals through the marker. Table-membership of bound column
// references is validated here, not at construction time.
func RenderExpr(e *Expr, d, table string, m *Marker) (string, error) {
	r := &exprRenderer{dialect: d, table: table, marker: m}
	var b strings.Builder
	if err := r.renderExpr(e, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RenderCase renders a CASE expression, as used in grouped bulk updates.
func RenderCase(c *CaseExpr, d, table string, m *Marker) (string, error) {
	r := &exprRenderer{dialect: d, table: table, marker: m}
	var b strings.Builder
	if err := r.renderCase(c, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}
