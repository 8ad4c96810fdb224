package engine

import (
	"strings"

	"github.com/razeghi71/logq/ast"
	"github.com/razeghi71/logq/record"
)

// evalExpr evaluates an expression against a record. Evaluation is total:
// every coercion has a defined outcome and undefined combinations resolve to
// null, never a panic or an aborted run. Field references resolve at this
// point; a missing field is null.
func evalExpr(e ast.Expr, rec *record.Record) record.Value {
	switch ex := e.(type) {
	case *ast.LiteralExpr:
		return evalLiteral(ex)
	case *ast.FieldExpr:
		return rec.Get(ex.Name)
	case *ast.BinaryExpr:
		return evalBinary(ex, rec)
	case *ast.UnaryExpr:
		return evalUnary(ex, rec)
	default:
		return record.Null()
	}
}

func evalLiteral(e *ast.LiteralExpr) record.Value {
	switch e.Kind {
	case "int":
		return record.IntVal(e.Int)
	case "float":
		return record.FloatVal(e.Float)
	case "string":
		return record.StrVal(e.Str)
	case "bool":
		return record.BoolVal(e.Bool)
	default:
		return record.Null()
	}
}

func evalBinary(e *ast.BinaryExpr, rec *record.Record) record.Value {
	left := evalExpr(e.Left, rec)
	right := evalExpr(e.Right, rec)

	switch e.Op {
	case "+", "-", "*", "/":
		return evalArith(e.Op, left, right)
	case "==", "!=", "<", ">", "<=", ">=":
		return evalComparison(e.Op, left, right)
	case "and":
		return evalLogical(left, right, func(a, b bool) bool { return a && b })
	case "or":
		return evalLogical(left, right, func(a, b bool) bool { return a || b })
	default:
		return record.Null()
	}
}

func evalArith(op string, left, right record.Value) record.Value {
	if left.IsNull() || right.IsNull() {
		return record.Null()
	}

	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()

	// String concatenation with + when either side is non-numeric text.
	if op == "+" && left.Kind == record.KindStr && right.Kind == record.KindStr && !(lok && rok) {
		return record.StrVal(left.Str + right.Str)
	}
	if !lok || !rok {
		return record.Null()
	}

	switch op {
	case "+":
		return numeric(lf+rf, left, right)
	case "-":
		return numeric(lf-rf, left, right)
	case "*":
		return numeric(lf*rf, left, right)
	case "/":
		if rf == 0 {
			return record.Null()
		}
		return record.FloatVal(lf / rf)
	}
	return record.Null()
}

// numeric keeps integer-ness when both operands were integers.
func numeric(f float64, left, right record.Value) record.Value {
	if left.Kind == record.KindInt && right.Kind == record.KindInt {
		return record.IntVal(int64(f))
	}
	return record.FloatVal(f)
}

func evalComparison(op string, left, right record.Value) record.Value {
	// Null semantics: null == null is true, null against anything else is
	// unequal, and ordering against null is undefined.
	if left.IsNull() && right.IsNull() {
		switch op {
		case "==":
			return record.BoolVal(true)
		case "!=":
			return record.BoolVal(false)
		}
		return record.Null()
	}
	if left.IsNull() || right.IsNull() {
		switch op {
		case "==":
			return record.BoolVal(false)
		case "!=":
			return record.BoolVal(true)
		}
		return record.Null()
	}

	// Numeric comparison whenever both sides coerce, so that a field parsed
	// out of log text as "404" compares equal to the literal 404.
	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()
	if lok && rok {
		var cmp int
		if lf < rf {
			cmp = -1
		} else if lf > rf {
			cmp = 1
		}
		return record.BoolVal(cmpResult(op, cmp))
	}

	if left.Kind == record.KindStr && right.Kind == record.KindStr {
		return record.BoolVal(cmpResult(op, strings.Compare(left.Str, right.Str)))
	}

	if left.Kind == record.KindBool && right.Kind == record.KindBool {
		switch op {
		case "==":
			return record.BoolVal(left.Bool == right.Bool)
		case "!=":
			return record.BoolVal(left.Bool != right.Bool)
		}
		return record.Null()
	}

	// Mismatched kinds: equality is defined (structurally unequal), ordering
	// is not.
	switch op {
	case "==":
		return record.BoolVal(left.Equal(right))
	case "!=":
		return record.BoolVal(!left.Equal(right))
	}
	return record.Null()
}

func cmpResult(op string, cmp int) bool {
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<":
		return cmp < 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func evalLogical(left, right record.Value, combine func(a, b bool) bool) record.Value {
	lb, lok := left.AsBool()
	rb, rok := right.AsBool()
	if !lok || !rok {
		return record.Null()
	}
	return record.BoolVal(combine(lb, rb))
}

func evalUnary(e *ast.UnaryExpr, rec *record.Record) record.Value {
	operand := evalExpr(e.Operand, rec)

	switch e.Op {
	case "not":
		b, ok := operand.AsBool()
		if !ok {
			return record.Null()
		}
		return record.BoolVal(!b)
	case "-":
		switch operand.Kind {
		case record.KindInt:
			return record.IntVal(-operand.Int)
		case record.KindFloat:
			return record.FloatVal(-operand.Float)
		}
		if f, ok := operand.AsFloat(); ok {
			return record.FloatVal(-f)
		}
		return record.Null()
	}
	return record.Null()
}
