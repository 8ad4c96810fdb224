package ast

import "time"

// Expr represents an expression tree used in where filters.
type Expr interface {
	exprNode()
}

// LiteralExpr represents a literal value: number, string, bool, null.
type LiteralExpr struct {
	// Kind: "int", "float", "string", "bool", "null"
	Kind  string
	Int   int64
	Float float64
	Str   string
	Bool  bool
}

func (e *LiteralExpr) exprNode() {}

// FieldExpr references a record field by name. Resolution happens at
// execution time; a missing field evaluates to null.
type FieldExpr struct {
	Name string
}

func (e *FieldExpr) exprNode() {}

// BinaryExpr represents a binary operation: a op b.
type BinaryExpr struct {
	Op    string // +, -, *, /, ==, !=, <, >, <=, >=, and, or
	Left  Expr
	Right Expr
}

func (e *BinaryExpr) exprNode() {}

// UnaryExpr represents a unary operation.
type UnaryExpr struct {
	Op      string // "not", "-"
	Operand Expr
}

func (e *UnaryExpr) exprNode() {}

// --- Stages (pipeline operators) ---

// Stage represents a single operator in the pipeline. The set is closed so
// that parsing, validation, and execution can switch exhaustively over it.
type Stage interface {
	stageNode()
}

// ParseStage extracts fields from text using a wildcard pattern. Each * in
// the pattern binds one output field; a trailing * captures through the end
// of the input. Non-matching records are dropped unless NoDrop is set.
type ParseStage struct {
	Pattern string
	Fields  []string
	From    string // source field; empty means the raw line
	NoDrop  bool
}

func (s *ParseStage) stageNode() {}

// JSONStage parses a JSON object into record fields.
type JSONStage struct {
	From string // source field; empty means the raw line
}

func (s *JSONStage) stageNode() {}

// LogfmtStage parses logfmt key=value pairs into record fields.
type LogfmtStage struct {
	From string // source field; empty means the raw line
}

func (s *LogfmtStage) stageNode() {}

// FieldsStage projects records down to (or drops) the named fields.
type FieldsStage struct {
	Except bool
	Fields []string
}

func (s *FieldsStage) stageNode() {}

// WhereStage filters records by a boolean expression.
type WhereStage struct {
	Expr Expr
}

func (s *WhereStage) stageNode() {}

// AggFunc is one aggregate computation inside an AggregateStage.
type AggFunc struct {
	// Op: "count", "sum", "average", "min", "max", "count_distinct",
	// "percentile"
	Op          string
	Field       string    // input field; empty for count
	Percentiles []float64 // for percentile: values in (0, 100)
	As          string    // output field override; empty uses the default
}

// AggregateStage groups records by the GroupBy fields (an empty list means a
// single global group) and computes the aggregate functions per group.
// Results are emitted only at drain, in first-seen group order.
type AggregateStage struct {
	Aggs    []AggFunc
	GroupBy []string
}

func (s *AggregateStage) stageNode() {}

// TimesliceStage stamps each record with the start of its fixed-width time
// window, derived from a timestamp field, into the _timeslice field. Records
// whose timestamp is missing or unparseable are dropped.
type TimesliceStage struct {
	Field string
	Width time.Duration
}

func (s *TimesliceStage) stageNode() {}

// SortStage buffers the whole stream and emits it ordered by the named
// fields at drain. The sort is stable: ties keep input order.
type SortStage struct {
	Fields []string
	Desc   bool
}

func (s *SortStage) stageNode() {}

// TopStage keeps only the N best records by a metric field, emitting them in
// order at drain. Desc (the default) means largest first.
type TopStage struct {
	N     int
	Field string
	Desc  bool
}

func (s *TopStage) stageNode() {}

// LimitStage passes through the first N records and drops the rest.
type LimitStage struct {
	N int
}

func (s *LimitStage) stageNode() {}

// Query is a full parsed pipeline.
type Query struct {
	Stages []Stage
}

// IsAggregate reports whether the stage buffers the stream and emits only at
// drain. Everything downstream of an aggregate sees its emitted records, not
// the raw stream.
func IsAggregate(s Stage) bool {
	switch s.(type) {
	case *AggregateStage, *SortStage, *TopStage:
		return true
	}
	return false
}

// IsTransform reports whether the stage reinterprets or reshapes individual
// records. Transforms are meaningless after an aggregation boundary.
func IsTransform(s Stage) bool {
	switch s.(type) {
	case *ParseStage, *JSONStage, *LogfmtStage, *TimesliceStage:
		return true
	}
	return false
}

// AcceptsRaw reports whether the stage can head a pipeline, consuming raw
// unparsed records. Every built-in stage can; the validator checks the
// capability rather than assuming it.
func AcceptsRaw(s Stage) bool {
	switch s.(type) {
	case *ParseStage, *JSONStage, *LogfmtStage, *FieldsStage, *WhereStage,
		*AggregateStage, *TimesliceStage, *SortStage, *TopStage, *LimitStage:
		return true
	}
	return false
}

// CloneStages deep-copies a stage sequence. Alias rendering relies on this:
// splicing an alias into a pipeline must never share mutable state with
// another pipeline.
func CloneStages(stages []Stage) []Stage {
	out := make([]Stage, len(stages))
	for i, s := range stages {
		out[i] = CloneStage(s)
	}
	return out
}

// CloneStage deep-copies a single stage.
func CloneStage(s Stage) Stage {
	switch st := s.(type) {
	case *ParseStage:
		c := *st
		c.Fields = append([]string(nil), st.Fields...)
		return &c
	case *JSONStage:
		c := *st
		return &c
	case *LogfmtStage:
		c := *st
		return &c
	case *FieldsStage:
		c := *st
		c.Fields = append([]string(nil), st.Fields...)
		return &c
	case *WhereStage:
		return &WhereStage{Expr: CloneExpr(st.Expr)}
	case *AggregateStage:
		c := &AggregateStage{
			Aggs:    make([]AggFunc, len(st.Aggs)),
			GroupBy: append([]string(nil), st.GroupBy...),
		}
		for i, a := range st.Aggs {
			a.Percentiles = append([]float64(nil), a.Percentiles...)
			c.Aggs[i] = a
		}
		return c
	case *TimesliceStage:
		c := *st
		return &c
	case *SortStage:
		c := *st
		c.Fields = append([]string(nil), st.Fields...)
		return &c
	case *TopStage:
		c := *st
		return &c
	case *LimitStage:
		c := *st
		return &c
	}
	return s
}

// CloneExpr deep-copies an expression tree.
func CloneExpr(e Expr) Expr {
	switch ex := e.(type) {
	case *LiteralExpr:
		c := *ex
		return &c
	case *FieldExpr:
		c := *ex
		return &c
	case *BinaryExpr:
		return &BinaryExpr{Op: ex.Op, Left: CloneExpr(ex.Left), Right: CloneExpr(ex.Right)}
	case *UnaryExpr:
		return &UnaryExpr{Op: ex.Op, Operand: CloneExpr(ex.Operand)}
	}
	return e
}
