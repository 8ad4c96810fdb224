package engine

import (
	"container/heap"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/axiomhq/hyperloglog"
	"github.com/influxdata/tdigest"

	"github.com/razeghi71/logq/ast"
	"github.com/razeghi71/logq/record"
)

// accumulator is one aggregate computation over the records of a single
// group. Results returns one value per output field; every accumulator but
// percentile produces exactly one.
type accumulator interface {
	Consume(rec *record.Record)
	Results() []record.Value
}

// --- aggregate operator ---

type groupState struct {
	keyVals []record.Value
	accs    []accumulator
}

// aggregateOp groups records by the group-by fields and feeds each group's
// accumulators. Group state is created lazily per first-seen key and emitted
// at drain in first-seen order. Key cardinality is unbounded by design.
type aggregateOp struct {
	aggs    []ast.AggFunc
	groupBy []string
	names   [][]string // output field names, per agg func

	order  []string
	groups map[string]*groupState
}

func newAggregateOp(s *ast.AggregateStage) (*aggregateOp, error) {
	names := make([][]string, len(s.Aggs))
	for i, fn := range s.Aggs {
		n, err := outputNames(fn)
		if err != nil {
			return nil, err
		}
		names[i] = n
	}
	op := &aggregateOp{
		aggs:    s.Aggs,
		groupBy: s.GroupBy,
		names:   names,
		groups:  make(map[string]*groupState),
	}
	if len(s.GroupBy) == 0 {
		// A single global group exists even for an empty stream, so that
		// e.g. a bare count over no input still emits count=0.
		op.group("", nil)
	}
	return op, nil
}

func outputNames(fn ast.AggFunc) ([]string, error) {
	if fn.As != "" {
		return []string{fn.As}, nil
	}
	if fn.Op != "percentile" {
		return []string{fn.Op}, nil
	}
	names := make([]string, len(fn.Percentiles))
	for i, p := range fn.Percentiles {
		names[i] = "p" + strconv.FormatFloat(p, 'f', -1, 64)
	}
	return names, nil
}

func newAccumulator(fn ast.AggFunc) accumulator {
	switch fn.Op {
	case "count":
		return &countAcc{}
	case "sum":
		return &sumAcc{field: fn.Field, allInts: true}
	case "average":
		return &avgAcc{field: fn.Field}
	case "min":
		return &extremeAcc{field: fn.Field, min: true}
	case "max":
		return &extremeAcc{field: fn.Field}
	case "count_distinct":
		return &distinctAcc{field: fn.Field, sketch: hyperloglog.New()}
	case "percentile":
		return &percentileAcc{field: fn.Field, pcts: fn.Percentiles}
	}
	// Unreachable: the parser only builds the ops above.
	panic(fmt.Sprintf("unknown aggregate op %q", fn.Op))
}

func (o *aggregateOp) group(key string, keyVals []record.Value) *groupState {
	gs, ok := o.groups[key]
	if !ok {
		gs = &groupState{keyVals: keyVals, accs: make([]accumulator, len(o.aggs))}
		for i, fn := range o.aggs {
			gs.accs[i] = newAccumulator(fn)
		}
		o.groups[key] = gs
		o.order = append(o.order, key)
	}
	return gs
}

func (o *aggregateOp) Process(rec *record.Record, emit emitFn) error {
	var keyVals []record.Value
	var key string
	if len(o.groupBy) > 0 {
		keyVals = make([]record.Value, len(o.groupBy))
		parts := make([]string, len(o.groupBy))
		for i, f := range o.groupBy {
			keyVals[i] = rec.Get(f)
			parts[i] = keyString(keyVals[i])
		}
		key = strings.Join(parts, "\x00")
	}
	gs := o.group(key, keyVals)
	for _, acc := range gs.accs {
		acc.Consume(rec)
	}
	// Aggregation emits nothing per input record; results appear at drain.
	return nil
}

func (o *aggregateOp) Flush(emit emitFn) error {
	for _, key := range o.order {
		gs := o.groups[key]
		out := record.New("")
		for i, f := range o.groupBy {
			out = out.With(f, gs.keyVals[i])
		}
		for i, acc := range gs.accs {
			results := acc.Results()
			for j, name := range o.names[i] {
				out = out.With(name, results[j])
			}
		}
		if err := emit(out); err != nil {
			return err
		}
	}
	return nil
}

// keyString renders a value for grouping-key identity. The kind tag keeps
// null distinct from the empty string and "1" distinct from 1.
func keyString(v record.Value) string {
	return strconv.Itoa(int(v.Kind)) + ":" + v.AsString()
}

// --- accumulators ---

type countAcc struct {
	count int64
}

func (a *countAcc) Consume(rec *record.Record) {
	a.count++
}

func (a *countAcc) Results() []record.Value {
	return []record.Value{record.IntVal(a.count)}
}

// asInt reports whether the value is exactly an integer.
func asInt(v record.Value) (int64, bool) {
	switch v.Kind {
	case record.KindInt:
		return v.Int, true
	case record.KindStr:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		return n, err == nil
	}
	return 0, false
}

type sumAcc struct {
	field   string
	sum     float64
	sumInt  int64
	allInts bool
}

func (a *sumAcc) Consume(rec *record.Record) {
	v := rec.Get(a.field)
	f, ok := v.AsFloat()
	if !ok {
		// Non-numeric input is skipped, not a failure.
		return
	}
	a.sum += f
	if n, ok := asInt(v); ok && a.allInts {
		a.sumInt += n
	} else {
		a.allInts = false
	}
}

func (a *sumAcc) Results() []record.Value {
	if a.allInts {
		return []record.Value{record.IntVal(a.sumInt)}
	}
	return []record.Value{record.FloatVal(a.sum)}
}

type avgAcc struct {
	field string
	sum   float64
	count int64
}

func (a *avgAcc) Consume(rec *record.Record) {
	f, ok := rec.Get(a.field).AsFloat()
	if !ok {
		return
	}
	a.sum += f
	a.count++
}

func (a *avgAcc) Results() []record.Value {
	if a.count == 0 {
		return []record.Value{record.Null()}
	}
	return []record.Value{record.FloatVal(a.sum / float64(a.count))}
}

type extremeAcc struct {
	field   string
	min     bool
	seen    bool
	best    float64
	bestInt bool
}

func (a *extremeAcc) Consume(rec *record.Record) {
	v := rec.Get(a.field)
	f, ok := v.AsFloat()
	if !ok {
		return
	}
	_, isInt := asInt(v)
	if !a.seen || (a.min && f < a.best) || (!a.min && f > a.best) {
		a.seen = true
		a.best = f
		a.bestInt = isInt
	}
}

func (a *extremeAcc) Results() []record.Value {
	if !a.seen {
		return []record.Value{record.Null()}
	}
	if a.bestInt {
		return []record.Value{record.IntVal(int64(a.best))}
	}
	return []record.Value{record.FloatVal(a.best)}
}

// distinctAcc approximates the number of distinct values with a HyperLogLog
// sketch (14-bit registers, ~0.8% relative standard error).
type distinctAcc struct {
	field  string
	sketch *hyperloglog.Sketch
}

func (a *distinctAcc) Consume(rec *record.Record) {
	v := rec.Get(a.field)
	if v.IsNull() {
		return
	}
	a.sketch.Insert([]byte(keyString(v)))
}

func (a *distinctAcc) Results() []record.Value {
	return []record.Value{record.IntVal(int64(a.sketch.Estimate()))}
}

// percentileThreshold is the number of exact samples a percentile estimator
// holds per group before migrating to a streaming t-digest.
const percentileThreshold = 1024

// percentileAcc answers multiple percentiles from one pass: exact (linear
// interpolation over sorted samples) below the threshold, t-digest beyond.
type percentileAcc struct {
	field   string
	pcts    []float64
	samples []float64
	sketch  *tdigest.TDigest
}

func (a *percentileAcc) Consume(rec *record.Record) {
	f, ok := rec.Get(a.field).AsFloat()
	if !ok {
		return
	}
	if a.sketch != nil {
		a.sketch.Add(f, 1)
		return
	}
	a.samples = append(a.samples, f)
	if len(a.samples) > percentileThreshold {
		a.sketch = tdigest.New()
		for _, s := range a.samples {
			a.sketch.Add(s, 1)
		}
		a.samples = nil
	}
}

func (a *percentileAcc) Results() []record.Value {
	out := make([]record.Value, len(a.pcts))
	if a.sketch != nil {
		for i, p := range a.pcts {
			out[i] = record.FloatVal(a.sketch.Quantile(p / 100))
		}
		return out
	}
	if len(a.samples) == 0 {
		for i := range out {
			out[i] = record.Null()
		}
		return out
	}
	sorted := append([]float64(nil), a.samples...)
	sort.Float64s(sorted)
	for i, p := range a.pcts {
		out[i] = record.FloatVal(exactQuantile(sorted, p/100))
	}
	return out
}

func exactQuantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// --- sort ---

// sortOp buffers the entire stream and emits it ordered at drain. The sort
// is stable: records with equal keys keep their input order.
type sortOp struct {
	fields []string
	desc   bool
	buf    []*record.Record
}

func (o *sortOp) Process(rec *record.Record, emit emitFn) error {
	o.buf = append(o.buf, rec)
	return nil
}

func (o *sortOp) Flush(emit emitFn) error {
	sort.SliceStable(o.buf, func(i, j int) bool {
		for _, f := range o.fields {
			cmp := sortCompare(o.buf[i].Get(f), o.buf[j].Get(f))
			if cmp != 0 {
				if o.desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return false
	})
	for _, rec := range o.buf {
		if err := emit(rec); err != nil {
			return err
		}
	}
	o.buf = nil
	return nil
}

// sortCompare orders values for sort and top: numerically when both sides
// coerce, lexically otherwise, nulls last.
func sortCompare(a, b record.Value) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return 1
	}
	if b.IsNull() {
		return -1
	}
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if aok && bok {
		if af < bf {
			return -1
		}
		if af > bf {
			return 1
		}
		return 0
	}
	return strings.Compare(a.AsString(), b.AsString())
}

// --- top ---

type topEntry struct {
	rec    *record.Record
	metric record.Value
	seq    int
}

// topOp keeps only the n best records by the metric field in a bounded heap
// and emits them in order at drain, ties broken by input order.
type topOp struct {
	n     int
	field string
	desc  bool
	seq   int
	h     topHeap
}

func (o *topOp) Process(rec *record.Record, emit emitFn) error {
	o.h.desc = o.desc
	heap.Push(&o.h, topEntry{rec: rec, metric: rec.Get(o.field), seq: o.seq})
	o.seq++
	if o.h.Len() > o.n {
		heap.Pop(&o.h) // drop the current worst
	}
	return nil
}

func (o *topOp) Flush(emit emitFn) error {
	entries := o.h.entries
	o.h.entries = nil
	sort.Slice(entries, func(i, j int) bool {
		cmp := sortCompare(entries[i].metric, entries[j].metric)
		if cmp != 0 {
			if o.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return entries[i].seq < entries[j].seq
	})
	for _, e := range entries {
		if err := emit(e.rec); err != nil {
			return err
		}
	}
	return nil
}

// topHeap is a heap whose root is the worst entry kept so far, so that
// exceeding the bound pops the worst. Worse means a smaller metric when
// taking the largest (and vice versa); among ties a later arrival is worse.
type topHeap struct {
	entries []topEntry
	desc    bool
}

func (h *topHeap) Len() int { return len(h.entries) }

func (h *topHeap) Less(i, j int) bool {
	cmp := sortCompare(h.entries[i].metric, h.entries[j].metric)
	if cmp != 0 {
		if h.desc {
			return cmp < 0
		}
		return cmp > 0
	}
	return h.entries[i].seq > h.entries[j].seq
}

func (h *topHeap) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *topHeap) Push(x any) { h.entries = append(h.entries, x.(topEntry)) }

func (h *topHeap) Pop() any {
	n := len(h.entries)
	e := h.entries[n-1]
	h.entries = h.entries[:n-1]
	return e
}
