// Package lua implements the Lua-flavored frontend (spec.md §4.2): `local`
// declarations, `function ... end` instead of braces, `if/then/else/end`,
// `while/do/end`, a C-style numeric `for`, and Lua's keyword-delimited
// blocks everywhere a brace-delimited flavor would use `{ }`. It follows the
// same scanner/parser shape as lang/frontend/rss and lang/frontend/js
// (adapted from the teacher's lang/scanner/lang/parser); only the lexical
// rules and block-termination style differ.
//
// Non-goals (inherited from spec.md): tables, metatables, multiple
// return/assignment and varargs are out of scope — this frontend accepts
// only the statement and expression forms the shared IR can represent.
package lua

import (
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/mna/vmforge/lang/ir"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokKeyword
	tokPunct
)

type token struct {
	kind tokKind
	lit  string
	ival int64
	fval float64
	line int
}

var keywords = map[string]bool{
	"local": true, "function": true, "end": true, "if": true, "then": true,
	"else": true, "elseif": true, "while": true, "do": true, "for": true,
	"break": true, "return": true, "match": true, "case": true, "import": true,
	"as": true, "true": true, "false": true, "null": true, "nil": true,
	"try": true, "must": true, "capture": true, "and": true, "or": true,
	"not": true,
}

type scanner struct {
	src       []byte
	off, roff int
	cur       rune
	line      int
}

func newScanner(src []byte) *scanner {
	s := &scanner{src: src, line: 1}
	s.advance()
	return s
}

func (s *scanner) advance() {
	if s.cur == '\n' {
		s.line++
	}
	if s.roff >= len(s.src) {
		s.off = len(s.src)
		s.cur = -1
		return
	}
	s.off = s.roff
	r, w := rune(s.src[s.roff]), 1
	if r >= utf8.RuneSelf {
		r, w = utf8.DecodeRune(s.src[s.roff:])
	}
	s.roff += w
	s.cur = r
}

func (s *scanner) peek() byte {
	if s.roff < len(s.src) {
		return s.src[s.roff]
	}
	return 0
}

func isLetter(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isDigit(r rune) bool  { return r >= '0' && r <= '9' }

func (s *scanner) skip() {
	for {
		for s.cur == ' ' || s.cur == '\t' || s.cur == '\n' || s.cur == '\r' {
			s.advance()
		}
		if s.cur == '-' && s.peek() == '-' {
			for s.cur != '\n' && s.cur != -1 {
				s.advance()
			}
			continue
		}
		break
	}
}

var multiPunct = []string{"==", "~=", "<=", ">=", "<<", ">>"}

func (s *scanner) next() (token, error) {
	s.skip()
	line := s.line
	switch {
	case s.cur == -1:
		return token{kind: tokEOF, line: line}, nil
	case isLetter(s.cur):
		start := s.off
		for isLetter(s.cur) || isDigit(s.cur) {
			s.advance()
		}
		lit := string(s.src[start:s.off])
		if keywords[lit] {
			return token{kind: tokKeyword, lit: lit, line: line}, nil
		}
		return token{kind: tokIdent, lit: lit, line: line}, nil
	case isDigit(s.cur):
		start := s.off
		for isDigit(s.cur) {
			s.advance()
		}
		isFloat := false
		if s.cur == '.' && isDigit(rune(s.peek())) {
			isFloat = true
			s.advance()
			for isDigit(s.cur) {
				s.advance()
			}
		}
		lit := string(s.src[start:s.off])
		if isFloat {
			f, err := strconv.ParseFloat(lit, 64)
			return token{kind: tokFloat, lit: lit, fval: f, line: line}, err
		}
		i, err := strconv.ParseInt(lit, 10, 64)
		return token{kind: tokInt, lit: lit, ival: i, line: line}, err
	case s.cur == '"' || s.cur == '\'':
		return s.scanString(line)
	default:
		start := s.off
		c := s.cur
		for _, mp := range multiPunct {
			if len(s.src)-s.off >= len(mp) && string(s.src[s.off:s.off+len(mp)]) == mp {
				for range mp {
					s.advance()
				}
				return token{kind: tokPunct, lit: mp, line: line}, nil
			}
		}
		s.advance()
		single := string(c)
		switch single {
		case "(", ")", ",", "+", "-", "*", "/", "=", "<", ">", ".", ":":
			return token{kind: tokPunct, lit: single, line: line}, nil
		}
		return token{}, fmt.Errorf("line %d: illegal character %q", line, s.src[start:s.off])
	}
}

func (s *scanner) scanString(line int) (token, error) {
	quote := s.cur
	s.advance()
	var buf []byte
	for s.cur != quote {
		if s.cur == -1 {
			return token{}, fmt.Errorf("line %d: unterminated string literal", line)
		}
		if s.cur == '\\' {
			s.advance()
			switch s.cur {
			case 'n':
				buf = append(buf, '\n')
			case 't':
				buf = append(buf, '\t')
			default:
				buf = append(buf, byte(s.cur))
			}
			s.advance()
			continue
		}
		buf = append(buf, string(s.cur)...)
		s.advance()
	}
	s.advance()
	return token{kind: tokString, lit: string(buf), line: line}, nil
}

type parser struct {
	s    *scanner
	cur  token
	peek token
}

func newParser(src []byte) (*parser, error) {
	s := newScanner(src)
	p := &parser{s: s}
	var err error
	if p.cur, err = s.next(); err != nil {
		return nil, err
	}
	if p.peek, err = s.next(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) advance() error {
	p.cur = p.peek
	var err error
	p.peek, err = p.s.next()
	return err
}

func (p *parser) isPunct(lit string) bool { return p.cur.kind == tokPunct && p.cur.lit == lit }
func (p *parser) isKeyword(lit string) bool {
	return p.cur.kind == tokKeyword && p.cur.lit == lit
}

func (p *parser) expectPunct(lit string) error {
	if !p.isPunct(lit) {
		return fmt.Errorf("line %d: expected %q, got %q", p.cur.line, lit, p.cur.lit)
	}
	return p.advance()
}

func (p *parser) expectKeyword(lit string) error {
	if !p.isKeyword(lit) {
		return fmt.Errorf("line %d: expected %q, got %q", p.cur.line, lit, p.cur.lit)
	}
	return p.advance()
}

func (p *parser) expectIdent() (string, error) {
	if p.cur.kind != tokIdent {
		return "", fmt.Errorf("line %d: expected identifier, got %q", p.cur.line, p.cur.lit)
	}
	name := p.cur.lit
	return name, p.advance()
}

// Parse lowers one Lua source file to an *ir.Unit; it matches
// lang/loader.ParseFunc's signature.
func Parse(filename string, src []byte) (*ir.Unit, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	u := &ir.Unit{Filename: filename}
	for p.cur.kind != tokEOF {
		st, err := p.parseStmt()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		u.Stmts = append(u.Stmts, st)
	}
	return u, nil
}

// parseBlockUntil parses statements until one of the given terminator
// keywords is the current token (not consumed), the Lua equivalent of
// rss/js's brace-delimited block.
func (p *parser) parseBlockUntil(terminators ...string) ([]ir.Stmt, error) {
	var stmts []ir.Stmt
	for {
		if p.cur.kind == tokEOF {
			return nil, fmt.Errorf("line %d: unterminated block, expected one of %v", p.cur.line, terminators)
		}
		for _, t := range terminators {
			if p.isKeyword(t) {
				return stmts, nil
			}
		}
		st, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
}

func (p *parser) parseStmt() (ir.Stmt, error) {
	line := p.cur.line
	switch {
	case p.isKeyword("local"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return ir.Let{Base: ir.Base{LineNo: line}, Name: name, Value: val}, nil
	case p.isKeyword("function"):
		return p.parseFunction(line)
	case p.isKeyword("if"):
		return p.parseIf(line)
	case p.isKeyword("while"):
		return p.parseWhile(line)
	case p.isKeyword("for"):
		return p.parseFor(line)
	case p.isKeyword("break"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ir.Break{Base: ir.Base{LineNo: line}}, nil
	case p.isKeyword("return"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		var val ir.Expr
		if !p.atStmtEnd() {
			var err error
			val, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		return ir.Return{Base: ir.Base{LineNo: line}, Value: val}, nil
	case p.isKeyword("match"):
		return p.parseMatch(line)
	case p.isKeyword("import"):
		return p.parseImport(line)
	case p.cur.kind == tokIdent && p.peek.kind == tokPunct && p.peek.lit == "=":
		name := p.cur.lit
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return ir.Assign{Base: ir.Base{LineNo: line}, Name: name, Value: val}, nil
	default:
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return ir.ExprStmt{Base: ir.Base{LineNo: line}, Value: e}, nil
	}
}

// atStmtEnd reports whether the current token is EOF or one of the block
// terminators end/else/elseif, used to tell a bare `return` (no value)
// apart from `return expr` without a semicolon to anchor on (Lua has none).
func (p *parser) atStmtEnd() bool {
	if p.cur.kind == tokEOF {
		return true
	}
	for _, kw := range []string{"end", "else", "elseif"} {
		if p.isKeyword(kw) {
			return true
		}
	}
	return false
}

func (p *parser) parseParams() ([]string, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var params []string
	for !p.isPunct(")") {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		params = append(params, name)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return params, p.expectPunct(")")
}

func (p *parser) parseFunction(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlockUntil("end")
	if err != nil {
		return nil, err
	}
	return ir.FunctionDecl{Base: ir.Base{LineNo: line}, Name: name, Params: params, Body: body}, p.expectKeyword("end")
}

func (p *parser) parseIf(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("then"); err != nil {
		return nil, err
	}
	then, err := p.parseBlockUntil("else", "elseif", "end")
	if err != nil {
		return nil, err
	}
	var els []ir.Stmt
	switch {
	case p.isKeyword("elseif"):
		nested, err := p.parseElseif(p.cur.line)
		if err != nil {
			return nil, err
		}
		return ir.If{Base: ir.Base{LineNo: line}, Cond: cond, Then: then, Else: []ir.Stmt{nested}}, nil
	case p.isKeyword("else"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		els, err = p.parseBlockUntil("end")
		if err != nil {
			return nil, err
		}
	}
	return ir.If{Base: ir.Base{LineNo: line}, Cond: cond, Then: then, Else: els}, p.expectKeyword("end")
}

// parseElseif handles a chained "elseif". Lua has one "end" per if-chain,
// not one per elseif (unlike rss/js's brace-delimited "else if"), so the
// last link of the chain consumes that "end" and parseIf does not.
func (p *parser) parseElseif(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil { // "elseif"
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("then"); err != nil {
		return nil, err
	}
	then, err := p.parseBlockUntil("else", "elseif", "end")
	if err != nil {
		return nil, err
	}
	var els []ir.Stmt
	if p.isKeyword("elseif") {
		nested, err := p.parseElseif(p.cur.line)
		if err != nil {
			return nil, err
		}
		// the nested elseif's own terminal branch consumes the chain's "end".
		return ir.If{Base: ir.Base{LineNo: line}, Cond: cond, Then: then, Else: []ir.Stmt{nested}}, nil
	}
	if p.isKeyword("else") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		els, err = p.parseBlockUntil("end")
		if err != nil {
			return nil, err
		}
	}
	return ir.If{Base: ir.Base{LineNo: line}, Cond: cond, Then: then, Else: els}, p.expectKeyword("end")
}

func (p *parser) parseWhile(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	body, err := p.parseBlockUntil("end")
	if err != nil {
		return nil, err
	}
	return ir.While{Base: ir.Base{LineNo: line}, Cond: cond, Body: body}, p.expectKeyword("end")
}

// parseFor accepts the numeric for form generalized to the shared IR's
// 3-clause For: `for i = start, limit, step do ... end` (step optional,
// defaulting to 1 as in Lua), translated to ir.For's Init/Cond/Step shape.
func (p *parser) parseFor(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	start, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	limit, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	step := ir.Expr(ir.IntLit{Value: 1})
	if p.isPunct(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		step, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	body, err := p.parseBlockUntil("end")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	init := ir.Let{Base: ir.Base{LineNo: line}, Name: name, Value: start}
	cond := ir.BinOp{Op: "<=", Left: ir.Var{Name: name}, Right: limit}
	stepStmt := ir.Assign{Name: name, Value: ir.BinOp{Op: "+", Left: ir.Var{Name: name}, Right: step}}
	return ir.For{Base: ir.Base{LineNo: line}, Init: init, Cond: cond, Step: stepStmt, Body: body}, nil
}

// parseMatch parses Lua's `match expr case lit then ... case lit then ...
// else ... end` form: each arm is introduced by "case" (or "else" for the
// catch-all) and ends at the next "case"/"else"/"end", the same
// terminator-keyword style parseIf/parseFor use instead of rss/js's braces.
func (p *parser) parseMatch(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil { // "match"
		return nil, err
	}
	subj, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	var arms []ir.MatchArm
	for p.isKeyword("case") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		lit, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("then"); err != nil {
			return nil, err
		}
		body, err := p.parseBlockUntil("case", "else", "end")
		if err != nil {
			return nil, err
		}
		arms = append(arms, ir.MatchArm{Literal: lit, Body: body})
	}
	if p.isKeyword("else") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		body, err := p.parseBlockUntil("end")
		if err != nil {
			return nil, err
		}
		arms = append(arms, ir.MatchArm{Body: body})
	}
	return ir.Match{Base: ir.Base{LineNo: line}, Subject: subj, Arms: arms}, p.expectKeyword("end")
}

func (p *parser) parseImport(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.kind != tokString {
		return nil, fmt.Errorf("line %d: expected import path string, got %q", p.cur.line, p.cur.lit)
	}
	path := p.cur.lit
	if err := p.advance(); err != nil {
		return nil, err
	}
	var alias string
	if p.isKeyword("as") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		var err error
		alias, err = p.expectIdent()
		if err != nil {
			return nil, err
		}
	}
	return ir.Import{Base: ir.Base{LineNo: line}, Path: path, Alias: alias}, nil
}

func (p *parser) parseExpr() (ir.Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (ir.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		line := p.cur.line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ir.BinOp{Base: ir.Base{LineNo: line}, Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ir.Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		line := p.cur.line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = ir.BinOp{Base: ir.Base{LineNo: line}, Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (ir.Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.isPunct("==") || p.isPunct("~=") {
		op := "=="
		if p.cur.lit == "~=" {
			op = "!="
		}
		line := p.cur.line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = ir.BinOp{Base: ir.Base{LineNo: line}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseRelational() (ir.Expr, error) {
	left, err := p.parseShift()
	if err != nil {
		return nil, err
	}
	for p.isPunct("<") || p.isPunct(">") || p.isPunct("<=") || p.isPunct(">=") {
		op := p.cur.lit
		line := p.cur.line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseShift()
		if err != nil {
			return nil, err
		}
		left = ir.BinOp{Base: ir.Base{LineNo: line}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseShift() (ir.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isPunct("<<") || p.isPunct(">>") {
		op := p.cur.lit
		line := p.cur.line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = ir.BinOp{Base: ir.Base{LineNo: line}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (ir.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.cur.lit
		line := p.cur.line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = ir.BinOp{Base: ir.Base{LineNo: line}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (ir.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") {
		op := p.cur.lit
		line := p.cur.line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ir.BinOp{Base: ir.Base{LineNo: line}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (ir.Expr, error) {
	line := p.cur.line
	switch {
	case p.isPunct("-"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ir.UnaryOp{Base: ir.Base{LineNo: line}, Op: "-", Operand: operand}, nil
	case p.isKeyword("not"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ir.UnaryOp{Base: ir.Base{LineNo: line}, Op: "!", Operand: operand}, nil
	case p.isKeyword("try"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ir.UnaryOp{Base: ir.Base{LineNo: line}, Op: "try", Operand: operand}, nil
	case p.isKeyword("must"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ir.UnaryOp{Base: ir.Base{LineNo: line}, Op: "must", Operand: operand}, nil
	default:
		return p.parsePostfix()
	}
}

func (p *parser) parsePostfix() (ir.Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		line := p.cur.line
		if !p.isPunct(".") {
			return e, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if p.isPunct("(") {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			e = ir.MethodCall{Base: ir.Base{LineNo: line}, Receiver: e, Name: name, Args: args}
		} else {
			e = ir.MemberAccess{Base: ir.Base{LineNo: line}, Receiver: e, Field: name}
		}
	}
}

func (p *parser) parseArgs() ([]ir.Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var args []ir.Expr
	for !p.isPunct(")") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return args, p.expectPunct(")")
}

func (p *parser) parsePrimary() (ir.Expr, error) {
	line := p.cur.line
	switch {
	case p.cur.kind == tokInt:
		v := p.cur.ival
		return ir.IntLit{Base: ir.Base{LineNo: line}, Value: v}, p.advance()
	case p.cur.kind == tokFloat:
		v := p.cur.fval
		return ir.FloatLit{Base: ir.Base{LineNo: line}, Value: v}, p.advance()
	case p.cur.kind == tokString:
		v := p.cur.lit
		return ir.StringLit{Base: ir.Base{LineNo: line}, Value: v}, p.advance()
	case p.isKeyword("true"):
		return ir.BoolLit{Base: ir.Base{LineNo: line}, Value: true}, p.advance()
	case p.isKeyword("false"):
		return ir.BoolLit{Base: ir.Base{LineNo: line}, Value: false}, p.advance()
	case p.isKeyword("nil") || p.isKeyword("null"):
		return ir.NullLit{Base: ir.Base{LineNo: line}}, p.advance()
	case p.isPunct("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return e, p.expectPunct(")")
	case p.isKeyword("function"):
		return p.parseClosure(line)
	case p.cur.kind == tokIdent:
		name := p.cur.lit
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isPunct("(") {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return ir.Call{Base: ir.Base{LineNo: line}, Name: name, Args: args}, nil
		}
		return ir.Var{Base: ir.Base{LineNo: line}, Name: name}, nil
	default:
		return nil, fmt.Errorf("line %d: unexpected token %q in expression", line, p.cur.lit)
	}
}

// parseClosure parses an anonymous `function(params) [capture(names)] ...
// end` expression, Lua's closure form (functions are already expressions in
// Lua; capture(...) is the flavor-wide supplement naming which enclosing
// locals are snapshotted by value, spec.md §4.2).
func (p *parser) parseClosure(line int) (ir.Expr, error) {
	if err := p.advance(); err != nil { // "function"
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	var captures []string
	if p.isKeyword("capture") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		for !p.isPunct(")") {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			captures = append(captures, name)
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	body, err := p.parseBlockUntil("end")
	if err != nil {
		return nil, err
	}
	return ir.Closure{Base: ir.Base{LineNo: line}, Params: params, Captures: captures, Body: body}, p.expectKeyword("end")
}
