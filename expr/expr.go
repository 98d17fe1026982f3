package expr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

var (
	// ErrFieldNotFound is returned when an expression references a column
	// that is not part of the schema or record it is bound to.
	ErrFieldNotFound = errors.New("field not found")

	// ErrTypeMismatch is returned when a literal cannot be compared with the
	// type of the column it is compared against.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Op is a comparison or logical operator
type Op int

const (
	OpEqual        Op = iota // =
	OpLess                   // <
	OpGreater                // >
	OpLessEqual              // <=
	OpGreaterEqual           // >=
	OpAnd                    // and
)

func (o Op) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpLess:
		return "<"
	case OpGreater:
		return ">"
	case OpLessEqual:
		return "<="
	case OpGreaterEqual:
		return ">="
	case OpAnd:
		return "and"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Expr is an immutable boolean expression over the columns of a record batch.
type Expr interface {
	// Evaluate returns one boolean per row of rec. Rows for which the
	// expression evaluates to null are reported as false.
	Evaluate(rec arrow.Record) ([]bool, error)

	// Bind checks that every referenced field exists in schema and that
	// literals are comparable with the field types.
	Bind(schema *arrow.Schema) error

	// MayMatch reports whether any row could satisfy the expression given
	// per-column value ranges. Columns without statistics never exclude rows.
	MayMatch(stats StatsFunc) bool

	// Fields returns the referenced column names in first-use order.
	Fields() []string

	String() string
}

// FieldRef references a column by name.
type FieldRef struct {
	Name string
}

// Field returns a reference to the named column.
func Field(name string) FieldRef {
	return FieldRef{Name: name}
}

// Literal is a constant operand. Supported values are time.Time and Go
// numeric types.
type Literal struct {
	Value interface{}
}

// Lit wraps v as a literal operand.
func Lit(v interface{}) Literal {
	return Literal{Value: v}
}

func (l Literal) String() string {
	if t, ok := l.Value.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%v", l.Value)
}

// Comparison compares a column against a literal.
type Comparison struct {
	Op    Op
	Field FieldRef
	Value Literal
}

// Conjunction is the logical AND of its operands.
type Conjunction struct {
	Operands []Expr
}

// Equal builds field = value.
func Equal(f FieldRef, v Literal) *Comparison {
	return &Comparison{Op: OpEqual, Field: f, Value: v}
}

// Less builds field < value.
func Less(f FieldRef, v Literal) *Comparison {
	return &Comparison{Op: OpLess, Field: f, Value: v}
}

// Greater builds field > value.
func Greater(f FieldRef, v Literal) *Comparison {
	return &Comparison{Op: OpGreater, Field: f, Value: v}
}

// LessEqual builds field <= value.
func LessEqual(f FieldRef, v Literal) *Comparison {
	return &Comparison{Op: OpLessEqual, Field: f, Value: v}
}

// GreaterEqual builds field >= value.
func GreaterEqual(f FieldRef, v Literal) *Comparison {
	return &Comparison{Op: OpGreaterEqual, Field: f, Value: v}
}

// And combines operands with logical AND. A single operand is returned as is.
func And(operands ...Expr) Expr {
	if len(operands) == 1 {
		return operands[0]
	}
	flat := make([]Expr, 0, len(operands))
	for _, op := range operands {
		// Nested conjunctions are flattened so evaluation stays one level deep
		if c, ok := op.(*Conjunction); ok {
			flat = append(flat, c.Operands...)
			continue
		}
		flat = append(flat, op)
	}
	return &Conjunction{Operands: flat}
}

// Fields returns the compared column.
func (c *Comparison) Fields() []string {
	return []string{c.Field.Name}
}

func (c *Comparison) String() string {
	return fmt.Sprintf("(%s %s %s)", c.Field.Name, c.Op, c.Value)
}

// Bind validates the comparison against schema
func (c *Comparison) Bind(schema *arrow.Schema) error {
	idx := schema.FieldIndices(c.Field.Name)
	if len(idx) == 0 {
		return fmt.Errorf("%w: %q", ErrFieldNotFound, c.Field.Name)
	}
	dt := schema.Field(idx[0]).Type
	return checkComparable(c.Field.Name, dt, c.Value.Value)
}

// Fields returns the columns referenced by all operands, without duplicates.
func (a *Conjunction) Fields() []string {
	seen := make(map[string]bool)
	fields := make([]string, 0, len(a.Operands))
	for _, op := range a.Operands {
		for _, f := range op.Fields() {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	return fields
}

func (a *Conjunction) String() string {
	parts := make([]string, len(a.Operands))
	for i, op := range a.Operands {
		parts[i] = op.String()
	}
	return "(" + strings.Join(parts, " and ") + ")"
}

// Bind validates every operand against schema
func (a *Conjunction) Bind(schema *arrow.Schema) error {
	if len(a.Operands) == 0 {
		return errors.New("empty conjunction")
	}
	for _, op := range a.Operands {
		if err := op.Bind(schema); err != nil {
			return err
		}
	}
	return nil
}

// checkComparable reports whether literal v can be compared with a column of type dt
func checkComparable(name string, dt arrow.DataType, v interface{}) error {
	if _, ok := dt.(*arrow.TimestampType); ok {
		if _, ok := v.(time.Time); !ok {
			return fmt.Errorf("%w: column %q is %s, literal is %T", ErrTypeMismatch, name, dt, v)
		}
		return nil
	}
	if IsNumeric(dt) {
		if _, ok := toFloat64(v); !ok {
			return fmt.Errorf("%w: column %q is %s, literal is %T", ErrTypeMismatch, name, dt, v)
		}
		return nil
	}
	return fmt.Errorf("%w: column %q has unsupported type %s", ErrTypeMismatch, name, dt)
}
