package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/razeghi71/logq/ast"
	"github.com/razeghi71/logq/lexer"
)

// AliasSource resolves a keyword to a pre-rendered stage sequence. The
// returned slice must be a fresh clone on every call. A nil AliasSource
// disables expansion.
type AliasSource interface {
	Render(keyword string) ([]ast.Stage, bool)
}

// Parser converts a token stream into a validated Query.
type Parser struct {
	tokens  []lexer.Token
	pos     int
	aliases AliasSource
}

// Parse parses a full query string into a Query, expanding aliases at stage
// positions, and validates the resulting pipeline.
func Parse(input string, aliases AliasSource) (*ast.Query, error) {
	tokens, err := lexer.Lex(input)
	if err != nil {
		return nil, fmt.Errorf("lex error: %w", err)
	}
	p := &Parser{tokens: tokens, aliases: aliases}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if err := Validate(q); err != nil {
		return nil, err
	}
	return q, nil
}

// ParseTemplate parses an alias template into its stage sequence without
// pipeline-level validation: a template is a fragment, not a full query, and
// is validated in the context of the query it is spliced into.
func ParseTemplate(input string, aliases AliasSource) ([]ast.Stage, error) {
	tokens, err := lexer.Lex(input)
	if err != nil {
		return nil, fmt.Errorf("lex error: %w", err)
	}
	p := &Parser{tokens: tokens, aliases: aliases}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	return q.Stages, nil
}

// Validate checks pipeline-level invariants that the per-stage grammars
// cannot: the pipeline is non-empty, its first stage consumes raw records,
// and no record transform appears downstream of an aggregation boundary.
func Validate(q *ast.Query) error {
	if len(q.Stages) == 0 {
		return fmt.Errorf("empty pipeline")
	}
	if !ast.AcceptsRaw(q.Stages[0]) {
		return fmt.Errorf("stage %s cannot start a pipeline: it requires aggregated input", stageName(q.Stages[0]))
	}
	seenAggregate := false
	for _, s := range q.Stages {
		if seenAggregate && ast.IsTransform(s) {
			return fmt.Errorf("%s cannot follow an aggregation stage", stageName(s))
		}
		if ast.IsAggregate(s) {
			seenAggregate = true
		}
	}
	return nil
}

func stageName(s ast.Stage) string {
	switch s.(type) {
	case *ast.ParseStage:
		return "parse"
	case *ast.JSONStage:
		return "json"
	case *ast.LogfmtStage:
		return "logfmt"
	case *ast.FieldsStage:
		return "fields"
	case *ast.WhereStage:
		return "where"
	case *ast.AggregateStage:
		return "aggregation"
	case *ast.TimesliceStage:
		return "timeslice"
	case *ast.SortStage:
		return "sort"
	case *ast.TopStage:
		return "top"
	case *ast.LimitStage:
		return "limit"
	}
	return fmt.Sprintf("%T", s)
}

func (p *Parser) peek() lexer.Token {
	if p.pos >= len(p.tokens) {
		return lexer.Token{Type: lexer.TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(tt lexer.TokenType) (lexer.Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, fmt.Errorf("expected %s, got %s (%q) at position %d", tt, tok.Type, tok.Val, tok.Pos)
	}
	return tok, nil
}

func (p *Parser) parseQuery() (*ast.Query, error) {
	var stages []ast.Stage

	for {
		part, err := p.parseStage()
		if err != nil {
			return nil, err
		}
		stages = append(stages, part...)

		if p.peek().Type != lexer.TokenPipe {
			break
		}
		p.advance() // consume |
	}

	if p.peek().Type != lexer.TokenEOF {
		return nil, fmt.Errorf("unexpected token %s (%q) at position %d", p.peek().Type, p.peek().Val, p.peek().Pos)
	}

	return &ast.Query{Stages: stages}, nil
}

var percentileShorthand = regexp.MustCompile(`^p(\d{1,2}(?:\.\d+)?)$`)

// parseStage parses one stage position. It returns a slice because an alias
// keyword expands to a whole pre-rendered stage sequence, spliced in as if
// the user had typed the expansion literally.
func (p *Parser) parseStage() ([]ast.Stage, error) {
	tok := p.peek()
	if tok.Type != lexer.TokenIdent {
		return nil, fmt.Errorf("expected stage name, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
	}

	// Alias expansion happens before built-in dispatch. The alias collection
	// guarantees its pipelines were fully rendered at load time, so no
	// recursive expansion happens here.
	if p.aliases != nil {
		if stages, ok := p.aliases.Render(tok.Val); ok {
			p.advance()
			return stages, nil
		}
	}

	var (
		stage ast.Stage
		err   error
	)
	switch tok.Val {
	case "parse":
		stage, err = p.parseParse()
	case "json":
		stage, err = p.parseJSON()
	case "logfmt":
		stage, err = p.parseLogfmt()
	case "fields":
		stage, err = p.parseFields()
	case "where":
		stage, err = p.parseWhere()
	case "timeslice":
		stage, err = p.parseTimeslice()
	case "sort":
		stage, err = p.parseSort()
	case "top":
		stage, err = p.parseTop()
	case "limit":
		stage, err = p.parseLimit()
	default:
		if isAggFuncName(tok.Val) {
			stage, err = p.parseAggregate()
		} else {
			return nil, fmt.Errorf("unknown stage %q at position %d", tok.Val, tok.Pos)
		}
	}
	if err != nil {
		return nil, err
	}
	return []ast.Stage{stage}, nil
}

func isAggFuncName(name string) bool {
	switch name {
	case "count", "sum", "avg", "average", "min", "max", "count_distinct", "percentile":
		return true
	}
	return percentileShorthand.MatchString(name)
}

func (p *Parser) parseParse() (ast.Stage, error) {
	p.advance() // consume "parse"
	pat, err := p.expect(lexer.TokenString)
	if err != nil {
		return nil, fmt.Errorf("parse: expected pattern string: %w", err)
	}
	if _, err := p.expect(lexer.TokenAs); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	fields, err := p.parseFieldList()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	stage := &ast.ParseStage{Pattern: pat.Val, Fields: fields}
	for {
		switch {
		case p.peek().Type == lexer.TokenFrom:
			p.advance()
			f, err := p.expect(lexer.TokenIdent)
			if err != nil {
				return nil, fmt.Errorf("parse: expected field after 'from': %w", err)
			}
			stage.From = f.Val
		case p.peek().Type == lexer.TokenIdent && p.peek().Val == "nodrop":
			p.advance()
			stage.NoDrop = true
		default:
			wildcards := countWildcards(stage.Pattern)
			if wildcards != len(stage.Fields) {
				return nil, fmt.Errorf("parse: pattern has %d wildcards but %d fields were named", wildcards, len(stage.Fields))
			}
			if wildcards == 0 {
				return nil, fmt.Errorf("parse: pattern contains no wildcards")
			}
			return stage, nil
		}
	}
}

func countWildcards(pattern string) int {
	n := 0
	for _, ch := range pattern {
		if ch == '*' {
			n++
		}
	}
	return n
}

func (p *Parser) parseJSON() (ast.Stage, error) {
	p.advance() // consume "json"
	stage := &ast.JSONStage{}
	if p.peek().Type == lexer.TokenFrom {
		p.advance()
		f, err := p.expect(lexer.TokenIdent)
		if err != nil {
			return nil, fmt.Errorf("json: expected field after 'from': %w", err)
		}
		stage.From = f.Val
	}
	return stage, nil
}

func (p *Parser) parseLogfmt() (ast.Stage, error) {
	p.advance() // consume "logfmt"
	stage := &ast.LogfmtStage{}
	if p.peek().Type == lexer.TokenFrom {
		p.advance()
		f, err := p.expect(lexer.TokenIdent)
		if err != nil {
			return nil, fmt.Errorf("logfmt: expected field after 'from': %w", err)
		}
		stage.From = f.Val
	}
	return stage, nil
}

func (p *Parser) parseFields() (ast.Stage, error) {
	p.advance() // consume "fields"
	stage := &ast.FieldsStage{}
	switch {
	case p.peek().Type == lexer.TokenExcept:
		p.advance()
		stage.Except = true
	case p.peek().Type == lexer.TokenIdent && p.peek().Val == "only":
		// "only" is the default and purely cosmetic.
		p.advance()
	}
	fields, err := p.parseFieldList()
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	stage.Fields = fields
	return stage, nil
}

func (p *Parser) parseWhere() (ast.Stage, error) {
	p.advance() // consume "where"
	expr, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	return &ast.WhereStage{Expr: expr}, nil
}

func (p *Parser) parseTimeslice() (ast.Stage, error) {
	p.advance() // consume "timeslice"
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, fmt.Errorf("timeslice: %w", err)
	}
	field, err := p.expect(lexer.TokenIdent)
	if err != nil {
		return nil, fmt.Errorf("timeslice: expected timestamp field: %w", err)
	}
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return nil, fmt.Errorf("timeslice: %w", err)
	}
	dur, err := p.expect(lexer.TokenDuration)
	if err != nil {
		return nil, fmt.Errorf("timeslice: expected window width (e.g. 5m): %w", err)
	}
	width, err := time.ParseDuration(dur.Val)
	if err != nil {
		return nil, fmt.Errorf("timeslice: invalid window width %q at position %d", dur.Val, dur.Pos)
	}
	if width <= 0 {
		return nil, fmt.Errorf("timeslice: window width must be positive, got %s", width)
	}
	return &ast.TimesliceStage{Field: field.Val, Width: width}, nil
}

func (p *Parser) parseSort() (ast.Stage, error) {
	p.advance() // consume "sort"
	if _, err := p.expect(lexer.TokenBy); err != nil {
		return nil, fmt.Errorf("sort: %w", err)
	}
	fields, err := p.parseFieldList()
	if err != nil {
		return nil, fmt.Errorf("sort: %w", err)
	}
	stage := &ast.SortStage{Fields: fields}
	if dir, ok := p.parseDirection(); ok {
		stage.Desc = dir
	}
	return stage, nil
}

func (p *Parser) parseTop() (ast.Stage, error) {
	p.advance() // consume "top"
	n, err := p.parsePositiveInt()
	if err != nil {
		return nil, fmt.Errorf("top: %w", err)
	}
	if _, err := p.expect(lexer.TokenBy); err != nil {
		return nil, fmt.Errorf("top: %w", err)
	}
	field, err := p.expect(lexer.TokenIdent)
	if err != nil {
		return nil, fmt.Errorf("top: expected metric field: %w", err)
	}
	stage := &ast.TopStage{N: n, Field: field.Val, Desc: true}
	if dir, ok := p.parseDirection(); ok {
		stage.Desc = dir
	}
	return stage, nil
}

func (p *Parser) parseLimit() (ast.Stage, error) {
	p.advance() // consume "limit"
	n, err := p.parsePositiveInt()
	if err != nil {
		return nil, fmt.Errorf("limit: %w", err)
	}
	return &ast.LimitStage{N: n}, nil
}

// parseDirection consumes a trailing asc/desc, returning desc-ness.
func (p *Parser) parseDirection() (desc, ok bool) {
	if p.peek().Type != lexer.TokenIdent {
		return false, false
	}
	switch p.peek().Val {
	case "asc":
		p.advance()
		return false, true
	case "desc":
		p.advance()
		return true, true
	}
	return false, false
}

// parseAggregate parses one or more comma-separated aggregate functions with
// an optional trailing group-by list:
//
//	count as n, p50(latency) by url
func (p *Parser) parseAggregate() (ast.Stage, error) {
	stage := &ast.AggregateStage{}
	for {
		fn, err := p.parseAggFunc()
		if err != nil {
			return nil, err
		}
		stage.Aggs = append(stage.Aggs, fn)
		if p.peek().Type != lexer.TokenComma {
			break
		}
		p.advance() // consume comma
	}
	if p.peek().Type == lexer.TokenBy {
		p.advance()
		fields, err := p.parseFieldList()
		if err != nil {
			return nil, fmt.Errorf("by: %w", err)
		}
		stage.GroupBy = fields
	}
	return stage, nil
}

func (p *Parser) parseAggFunc() (ast.AggFunc, error) {
	tok := p.advance()
	if tok.Type != lexer.TokenIdent || !isAggFuncName(tok.Val) {
		return ast.AggFunc{}, fmt.Errorf("expected aggregate function, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
	}

	var fn ast.AggFunc
	switch tok.Val {
	case "count":
		fn = ast.AggFunc{Op: "count"}
	case "sum", "min", "max", "count_distinct":
		field, err := p.parseAggArg(tok.Val)
		if err != nil {
			return ast.AggFunc{}, err
		}
		fn = ast.AggFunc{Op: tok.Val, Field: field}
	case "avg", "average":
		field, err := p.parseAggArg(tok.Val)
		if err != nil {
			return ast.AggFunc{}, err
		}
		fn = ast.AggFunc{Op: "average", Field: field}
	case "percentile":
		var err error
		fn, err = p.parsePercentile()
		if err != nil {
			return ast.AggFunc{}, err
		}
	default:
		// pNN(field) shorthand.
		m := percentileShorthand.FindStringSubmatch(tok.Val)
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil || pct <= 0 || pct >= 100 {
			return ast.AggFunc{}, fmt.Errorf("%s: percentile must be between 0 and 100 exclusive", tok.Val)
		}
		field, err := p.parseAggArg(tok.Val)
		if err != nil {
			return ast.AggFunc{}, err
		}
		fn = ast.AggFunc{Op: "percentile", Field: field, Percentiles: []float64{pct}}
	}

	if p.peek().Type == lexer.TokenAs {
		p.advance()
		name, err := p.expect(lexer.TokenIdent)
		if err != nil {
			return ast.AggFunc{}, fmt.Errorf("%s: expected output name after 'as': %w", fn.Op, err)
		}
		if len(fn.Percentiles) > 1 {
			return ast.AggFunc{}, fmt.Errorf("percentile: 'as' cannot rename multiple percentile outputs")
		}
		fn.As = name.Val
	}
	return fn, nil
}

func (p *Parser) parseAggArg(op string) (string, error) {
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	field, err := p.expect(lexer.TokenIdent)
	if err != nil {
		return "", fmt.Errorf("%s: expected field name: %w", op, err)
	}
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return field.Val, nil
}

// parsePercentile parses percentile(field, n1[, n2...]). Multiple
// percentiles share one estimator pass at execution time.
func (p *Parser) parsePercentile() (ast.AggFunc, error) {
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return ast.AggFunc{}, fmt.Errorf("percentile: %w", err)
	}
	field, err := p.expect(lexer.TokenIdent)
	if err != nil {
		return ast.AggFunc{}, fmt.Errorf("percentile: expected field name: %w", err)
	}
	fn := ast.AggFunc{Op: "percentile", Field: field.Val}
	for p.peek().Type == lexer.TokenComma {
		p.advance()
		tok := p.advance()
		var pct float64
		switch tok.Type {
		case lexer.TokenInt:
			n, _ := strconv.ParseInt(tok.Val, 10, 64)
			pct = float64(n)
		case lexer.TokenFloat:
			pct, _ = strconv.ParseFloat(tok.Val, 64)
		default:
			return ast.AggFunc{}, fmt.Errorf("percentile: expected number, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
		}
		if pct <= 0 || pct >= 100 {
			return ast.AggFunc{}, fmt.Errorf("percentile: %v is not between 0 and 100 exclusive", pct)
		}
		fn.Percentiles = append(fn.Percentiles, pct)
	}
	if len(fn.Percentiles) == 0 {
		return ast.AggFunc{}, fmt.Errorf("percentile: expected at least one percentile value")
	}
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return ast.AggFunc{}, fmt.Errorf("percentile: %w", err)
	}
	return fn, nil
}

// parseFieldList parses a comma-separated list of one or more identifiers.
func (p *Parser) parseFieldList() ([]string, error) {
	var fields []string
	for {
		tok, err := p.expect(lexer.TokenIdent)
		if err != nil {
			return nil, fmt.Errorf("expected field name: %w", err)
		}
		fields = append(fields, tok.Val)
		if p.peek().Type != lexer.TokenComma {
			return fields, nil
		}
		p.advance() // consume comma
	}
}

// --- Expression parsing (precedence climbing) ---

// Precedence levels: not > comparisons/arithmetic > and > or.
const (
	precOr   = 1
	precAnd  = 2
	precComp = 3
	precAdd  = 4
	precMul  = 5
)

func (p *Parser) parseExpr() (ast.Expr, error) {
	return p.parseExprPrec(precOr)
}

func (p *Parser) parseExprPrec(minPrec int) (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		op, prec, ok := p.peekBinaryOp()
		if !ok || prec < minPrec {
			break
		}
		p.advance() // consume the operator token

		right, err := p.parseExprPrec(prec + 1) // left-associative
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right}
	}

	return left, nil
}

func (p *Parser) peekBinaryOp() (string, int, bool) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenOr:
		return "or", precOr, true
	case lexer.TokenAnd:
		return "and", precAnd, true
	case lexer.TokenEq:
		return "==", precComp, true
	case lexer.TokenNeq:
		return "!=", precComp, true
	case lexer.TokenLt:
		return "<", precComp, true
	case lexer.TokenGt:
		return ">", precComp, true
	case lexer.TokenLte:
		return "<=", precComp, true
	case lexer.TokenGte:
		return ">=", precComp, true
	case lexer.TokenPlus:
		return "+", precAdd, true
	case lexer.TokenMinus:
		return "-", precAdd, true
	case lexer.TokenStar:
		return "*", precMul, true
	case lexer.TokenSlash:
		return "/", precMul, true
	}
	return "", 0, false
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.peek().Type == lexer.TokenNot {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "not", Operand: operand}, nil
	}
	if p.peek().Type == lexer.TokenMinus {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.peek()

	switch tok.Type {
	case lexer.TokenInt:
		p.advance()
		v, err := strconv.ParseInt(tok.Val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", tok.Val, err)
		}
		return &ast.LiteralExpr{Kind: "int", Int: v}, nil

	case lexer.TokenFloat:
		p.advance()
		v, err := strconv.ParseFloat(tok.Val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q: %w", tok.Val, err)
		}
		return &ast.LiteralExpr{Kind: "float", Float: v}, nil

	case lexer.TokenString:
		p.advance()
		return &ast.LiteralExpr{Kind: "string", Str: tok.Val}, nil

	case lexer.TokenTrue:
		p.advance()
		return &ast.LiteralExpr{Kind: "bool", Bool: true}, nil

	case lexer.TokenFalse:
		p.advance()
		return &ast.LiteralExpr{Kind: "bool", Bool: false}, nil

	case lexer.TokenNull:
		p.advance()
		return &ast.LiteralExpr{Kind: "null"}, nil

	case lexer.TokenIdent:
		p.advance()
		return &ast.FieldExpr{Name: tok.Val}, nil

	case lexer.TokenLParen:
		p.advance() // consume (
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil

	default:
		return nil, fmt.Errorf("unexpected token %s (%q) at position %d in expression", tok.Type, tok.Val, tok.Pos)
	}
}

func (p *Parser) parsePositiveInt() (int, error) {
	tok := p.advance()
	if tok.Type != lexer.TokenInt {
		return 0, fmt.Errorf("expected integer, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
	}
	n, err := strconv.Atoi(tok.Val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", tok.Val, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("expected a positive integer, got %d", n)
	}
	return n, nil
}
