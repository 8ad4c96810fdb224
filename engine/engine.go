// Package engine executes a parsed pipeline over a stream of log records.
//
// Execution is single-threaded and pull-driven: one line is read from the
// input, pushed synchronously through every operator in order, and only then
// is the next line read. Stateful operators buffer what they need and emit
// at drain, after the input is exhausted.
package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-logfmt/logfmt"

	"github.com/razeghi71/logq/ast"
	"github.com/razeghi71/logq/record"
)

// State tracks where the engine is in its lifecycle.
type State int

const (
	Idle State = iota
	Running
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrAlreadyRun is returned when Run is called on an engine that is not
// idle. An engine executes exactly one pipeline run.
var ErrAlreadyRun = errors.New("engine has already run")

// Sink receives final output records as soon as they become available.
type Sink interface {
	Emit(rec *record.Record) error
	Close() error
}

type emitFn func(rec *record.Record) error

// operator is one executable pipeline stage. Process consumes a record and
// emits zero or more downstream; Flush emits whatever terminal output the
// operator buffered, in drain order.
type operator interface {
	Process(rec *record.Record, emit emitFn) error
	Flush(emit emitFn) error
}

// Engine drives records from an input source through a compiled operator
// chain into a sink.
type Engine struct {
	ops   []operator
	sink  Sink
	state State
}

// New compiles a validated query into an engine writing to sink.
func New(q *ast.Query, sink Sink) (*Engine, error) {
	ops := make([]operator, len(q.Stages))
	for i, stage := range q.Stages {
		op, err := compileStage(stage)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return &Engine{ops: ops, sink: sink}, nil
}

// State returns the engine's lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// Run reads the input line by line to exhaustion, then drains every stateful
// operator in pipeline order. Per-record evaluation problems degrade to
// null/skip outcomes inside the operators; only source-read and sink-write
// failures abort the run.
func (e *Engine) Run(input io.Reader) error {
	if e.state != Idle {
		return ErrAlreadyRun
	}
	e.state = Running

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := e.process(0, record.New(scanner.Text())); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	e.state = Draining
	for i, op := range e.ops {
		next := i + 1
		if err := op.Flush(func(rec *record.Record) error { return e.process(next, rec) }); err != nil {
			return err
		}
	}

	e.state = Done
	return e.sink.Close()
}

// process pushes a record through operators i.. and into the sink.
func (e *Engine) process(i int, rec *record.Record) error {
	if i >= len(e.ops) {
		return e.sink.Emit(rec)
	}
	return e.ops[i].Process(rec, func(out *record.Record) error {
		return e.process(i+1, out)
	})
}

func compileStage(stage ast.Stage) (operator, error) {
	switch s := stage.(type) {
	case *ast.ParseStage:
		return newParseOp(s), nil
	case *ast.JSONStage:
		return &jsonOp{from: s.From}, nil
	case *ast.LogfmtStage:
		return &logfmtOp{from: s.From}, nil
	case *ast.FieldsStage:
		return &fieldsOp{except: s.Except, fields: s.Fields}, nil
	case *ast.WhereStage:
		return &whereOp{expr: s.Expr}, nil
	case *ast.AggregateStage:
		return newAggregateOp(s)
	case *ast.TimesliceStage:
		return &timesliceOp{field: s.Field, width: s.Width}, nil
	case *ast.SortStage:
		return &sortOp{fields: s.Fields, desc: s.Desc}, nil
	case *ast.TopStage:
		return &topOp{n: s.N, field: s.Field, desc: s.Desc}, nil
	case *ast.LimitStage:
		return &limitOp{n: s.N}, nil
	default:
		return nil, fmt.Errorf("unknown stage type %T", stage)
	}
}

// noFlush is embedded by stateless operators.
type noFlush struct{}

func (noFlush) Flush(emit emitFn) error { return nil }

// sourceText returns the text a parse-style operator should work on: the
// raw line, or a named field's value. The bool is false when the named
// field is absent.
func sourceText(rec *record.Record, from string) (string, bool) {
	if from == "" {
		return rec.Raw, true
	}
	if !rec.Has(from) {
		return "", false
	}
	return rec.Get(from).AsString(), true
}

// --- parse ---

type parseOp struct {
	noFlush
	segments []string // pattern split on *; len(segments) == len(fields)+1
	fields   []string
	from     string
	noDrop   bool
}

func newParseOp(s *ast.ParseStage) *parseOp {
	return &parseOp{
		segments: strings.Split(s.Pattern, "*"),
		fields:   s.Fields,
		from:     s.From,
		noDrop:   s.NoDrop,
	}
}

func (o *parseOp) Process(rec *record.Record, emit emitFn) error {
	src, ok := sourceText(rec, o.from)
	if ok {
		if caps, matched := o.match(src); matched {
			out := rec
			for i, f := range o.fields {
				out = out.With(f, record.StrVal(caps[i]))
			}
			return emit(out)
		}
	}
	if o.noDrop {
		return emit(rec)
	}
	return nil
}

// match applies the wildcard pattern. Each wildcard captures as little as
// possible up to the next literal segment; a trailing wildcard captures
// through the end of the input. The first literal segment may begin anywhere
// in the input.
func (o *parseOp) match(s string) ([]string, bool) {
	caps := make([]string, 0, len(o.segments)-1)
	pos := 0
	if o.segments[0] != "" {
		i := strings.Index(s, o.segments[0])
		if i < 0 {
			return nil, false
		}
		pos = i + len(o.segments[0])
	}
	for k := 1; k < len(o.segments); k++ {
		seg := o.segments[k]
		if seg == "" {
			caps = append(caps, s[pos:])
			pos = len(s)
			continue
		}
		i := strings.Index(s[pos:], seg)
		if i < 0 {
			return nil, false
		}
		caps = append(caps, s[pos:pos+i])
		pos += i + len(seg)
	}
	return caps, true
}

// --- json ---

type jsonOp struct {
	noFlush
	from string
}

func (o *jsonOp) Process(rec *record.Record, emit emitFn) error {
	src, ok := sourceText(rec, o.from)
	if !ok {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil || v.Kind != record.KindObject {
		// Not a JSON object: a per-record error, the record is dropped.
		return nil
	}
	out := rec
	for _, k := range v.Object.Keys() {
		out = out.With(k, v.Object.Get(k))
	}
	return emit(out)
}

// decodeJSONValue reads one JSON value off the decoder, preserving object
// key order. encoding/json's map decoding would lose it.
func decodeJSONValue(dec *json.Decoder) (record.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return record.Null(), err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := record.New("")
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return record.Null(), err
				}
				key, ok := keyTok.(string)
				if !ok {
					return record.Null(), fmt.Errorf("expected object key, got %v", keyTok)
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return record.Null(), err
				}
				obj = obj.With(key, val)
			}
			if _, err := dec.Token(); err != nil { // closing }
				return record.Null(), err
			}
			return record.ObjectVal(obj), nil
		case '[':
			var arr []record.Value
			for dec.More() {
				el, err := decodeJSONValue(dec)
				if err != nil {
					return record.Null(), err
				}
				arr = append(arr, el)
			}
			if _, err := dec.Token(); err != nil { // closing ]
				return record.Null(), err
			}
			return record.ArrayVal(arr), nil
		}
		return record.Null(), fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return record.StrVal(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return record.IntVal(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return record.Null(), err
		}
		return record.FloatVal(f), nil
	case bool:
		return record.BoolVal(t), nil
	case nil:
		return record.Null(), nil
	}
	return record.Null(), fmt.Errorf("unexpected token %v", tok)
}

// --- logfmt ---

type logfmtOp struct {
	noFlush
	from string
}

func (o *logfmtOp) Process(rec *record.Record, emit emitFn) error {
	src, ok := sourceText(rec, o.from)
	if !ok {
		return nil
	}
	out := rec
	d := logfmt.NewDecoder(strings.NewReader(src))
	for d.ScanRecord() {
		for d.ScanKeyval() {
			if len(d.Key()) == 0 {
				continue
			}
			out = out.With(string(d.Key()), record.StrVal(string(d.Value())))
		}
	}
	if d.Err() != nil {
		return nil
	}
	return emit(out)
}

// --- fields ---

type fieldsOp struct {
	noFlush
	except bool
	fields []string
}

func (o *fieldsOp) Process(rec *record.Record, emit emitFn) error {
	if o.except {
		return emit(rec.Without(o.fields))
	}
	return emit(rec.Project(o.fields))
}

// --- where ---

type whereOp struct {
	noFlush
	expr ast.Expr
}

func (o *whereOp) Process(rec *record.Record, emit emitFn) error {
	v := evalExpr(o.expr, rec)
	if b, ok := v.AsBool(); ok && b {
		return emit(rec)
	}
	// Non-boolean or null outcome: the record is filtered out, never an
	// aborted run.
	return nil
}

// --- timeslice ---

// TimesliceField is the field timeslice stamps the window start into.
const TimesliceField = "_timeslice"

type timesliceOp struct {
	noFlush
	field string
	width time.Duration
}

func (o *timesliceOp) Process(rec *record.Record, emit emitFn) error {
	v := rec.Get(o.field)
	if v.IsNull() {
		return nil
	}
	ts, err := dateparse.ParseAny(v.AsString())
	if err != nil {
		// Unparseable timestamp: per-record error, record skipped.
		return nil
	}
	bucket := ts.Truncate(o.width).UTC().Format(time.RFC3339)
	return emit(rec.With(TimesliceField, record.StrVal(bucket)))
}

// --- limit ---

type limitOp struct {
	noFlush
	n    int
	seen int
}

func (o *limitOp) Process(rec *record.Record, emit emitFn) error {
	if o.seen >= o.n {
		return nil
	}
	o.seen++
	return emit(rec)
}
