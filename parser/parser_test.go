package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/razeghi71/logq/ast"
)

func mustParse(t *testing.T, query string) *ast.Query {
	t.Helper()
	q, err := Parse(query, nil)
	require.NoError(t, err)
	return q
}

func TestParseStageShape(t *testing.T) {
	q := mustParse(t, `parse "* - *" as ip, user from msg nodrop`)
	require.Len(t, q.Stages, 1)
	ps := q.Stages[0].(*ast.ParseStage)
	require.Equal(t, "* - *", ps.Pattern)
	require.Equal(t, []string{"ip", "user"}, ps.Fields)
	require.Equal(t, "msg", ps.From)
	require.True(t, ps.NoDrop)
}

func TestParseWildcardFieldMismatch(t *testing.T) {
	_, err := Parse(`parse "* *" as one`, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "2 wildcards but 1 fields")
}

func TestParseNoWildcards(t *testing.T) {
	_, err := Parse(`parse "static" as x`, nil)
	require.Error(t, err)
}

func TestJSONAndLogfmtFrom(t *testing.T) {
	q := mustParse(t, `json from payload | logfmt from extra`)
	require.Equal(t, "payload", q.Stages[0].(*ast.JSONStage).From)
	require.Equal(t, "extra", q.Stages[1].(*ast.LogfmtStage).From)
}

func TestFieldsExcept(t *testing.T) {
	q := mustParse(t, `json | fields except level, caller`)
	fs := q.Stages[1].(*ast.FieldsStage)
	require.True(t, fs.Except)
	require.Equal(t, []string{"level", "caller"}, fs.Fields)
}

func TestFieldsOnlyIsCosmetic(t *testing.T) {
	a := mustParse(t, `json | fields only url, status`)
	b := mustParse(t, `json | fields url, status`)
	require.Equal(t, a.Stages[1], b.Stages[1])
}

func TestWherePrecedence(t *testing.T) {
	// not binds tighter than and, and tighter than or.
	q := mustParse(t, `where not a and b or c`)
	ws := q.Stages[0].(*ast.WhereStage)
	or := ws.Expr.(*ast.BinaryExpr)
	require.Equal(t, "or", or.Op)
	and := or.Left.(*ast.BinaryExpr)
	require.Equal(t, "and", and.Op)
	not := and.Left.(*ast.UnaryExpr)
	require.Equal(t, "not", not.Op)
}

func TestWhereArithmeticPrecedence(t *testing.T) {
	q := mustParse(t, `where a + b * c == 10`)
	eq := q.Stages[0].(*ast.WhereStage).Expr.(*ast.BinaryExpr)
	require.Equal(t, "==", eq.Op)
	add := eq.Left.(*ast.BinaryExpr)
	require.Equal(t, "+", add.Op)
	mul := add.Right.(*ast.BinaryExpr)
	require.Equal(t, "*", mul.Op)
}

func TestAggregateForms(t *testing.T) {
	q := mustParse(t, `count, sum(bytes), avg(ms) as mean, count_distinct(ip) by url, status`)
	agg := q.Stages[0].(*ast.AggregateStage)
	require.Len(t, agg.Aggs, 4)
	require.Equal(t, "count", agg.Aggs[0].Op)
	require.Equal(t, "sum", agg.Aggs[1].Op)
	require.Equal(t, "bytes", agg.Aggs[1].Field)
	require.Equal(t, "average", agg.Aggs[2].Op)
	require.Equal(t, "mean", agg.Aggs[2].As)
	require.Equal(t, "count_distinct", agg.Aggs[3].Op)
	require.Equal(t, []string{"url", "status"}, agg.GroupBy)
}

func TestPercentileForms(t *testing.T) {
	q := mustParse(t, `p50(latency), percentile(latency, 90, 99.9)`)
	agg := q.Stages[0].(*ast.AggregateStage)
	require.Equal(t, []float64{50}, agg.Aggs[0].Percentiles)
	require.Equal(t, []float64{90, 99.9}, agg.Aggs[1].Percentiles)
}

func TestPercentileOutOfRange(t *testing.T) {
	for _, query := range []string{`percentile(ms, 0)`, `percentile(ms, 100)`, `p0(ms)`} {
		_, err := Parse(query, nil)
		require.Error(t, err, query)
	}
}

func TestPercentileMultiRenameRejected(t *testing.T) {
	_, err := Parse(`percentile(ms, 50, 90) as q`, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple percentile")
}

func TestTimeslice(t *testing.T) {
	q := mustParse(t, `timeslice(ts) 5m | count by _timeslice`)
	tsStage := q.Stages[0].(*ast.TimesliceStage)
	require.Equal(t, "ts", tsStage.Field)
	require.Equal(t, 5*time.Minute, tsStage.Width)
}

func TestTimesliceBadWidth(t *testing.T) {
	_, err := Parse(`timeslice(ts) 5q`, nil)
	require.Error(t, err)
}

func TestSortAndTop(t *testing.T) {
	q := mustParse(t, `count by url | sort by count desc | top 5 by count | limit 3`)
	ss := q.Stages[1].(*ast.SortStage)
	require.Equal(t, []string{"count"}, ss.Fields)
	require.True(t, ss.Desc)
	ts := q.Stages[2].(*ast.TopStage)
	require.Equal(t, 5, ts.N)
	require.True(t, ts.Desc) // default for top is largest-first
	require.Equal(t, 3, q.Stages[3].(*ast.LimitStage).N)
}

func TestTopAsc(t *testing.T) {
	q := mustParse(t, `top 2 by latency asc`)
	require.False(t, q.Stages[0].(*ast.TopStage).Desc)
}

func TestEmptyPipelineRejected(t *testing.T) {
	_, err := Parse(``, nil)
	require.Error(t, err)
}

func TestTransformAfterAggregationRejected(t *testing.T) {
	for _, query := range []string{
		`count by url | json`,
		`count | parse "*" as x`,
		`sum(n) | timeslice(ts) 1m`,
	} {
		_, err := Parse(query, nil)
		require.Error(t, err, query)
		require.Contains(t, err.Error(), "cannot follow an aggregation stage")
	}
}

func TestWhereAndFieldsAfterAggregationAllowed(t *testing.T) {
	mustParse(t, `count by url | where count > 10`)
	mustParse(t, `count by url | fields url`)
}

func TestUnknownStage(t *testing.T) {
	_, err := Parse(`jsonify`, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown stage "jsonify"`)
}

type fakeAliases map[string][]ast.Stage

func (f fakeAliases) Render(keyword string) ([]ast.Stage, bool) {
	stages, ok := f[keyword]
	return ast.CloneStages(stages), ok
}

func TestAliasSplice(t *testing.T) {
	aliases := fakeAliases{
		"errors": {
			&ast.JSONStage{},
			&ast.WhereStage{Expr: &ast.BinaryExpr{
				Op:    "==",
				Left:  &ast.FieldExpr{Name: "level"},
				Right: &ast.LiteralExpr{Kind: "string", Str: "error"},
			}},
		},
	}
	q, err := Parse(`errors | count`, aliases)
	require.NoError(t, err)
	require.Len(t, q.Stages, 3)
	require.IsType(t, &ast.JSONStage{}, q.Stages[0])
	require.IsType(t, &ast.WhereStage{}, q.Stages[1])
	require.IsType(t, &ast.AggregateStage{}, q.Stages[2])
}

func TestAliasResolvesBeforeBuiltins(t *testing.T) {
	aliases := fakeAliases{"json": {&ast.LogfmtStage{}}}
	q, err := Parse(`json`, aliases)
	require.NoError(t, err)
	require.IsType(t, &ast.LogfmtStage{}, q.Stages[0])
}

func TestParseTemplateSkipsPipelineValidation(t *testing.T) {
	// A template may be a fragment invalid as a standalone query.
	stages, err := ParseTemplate(`where status >= 500`, nil)
	require.NoError(t, err)
	require.Len(t, stages, 1)
}
