package rss

import (
	"fmt"

	"github.com/mna/vmforge/lang/ir"
)

// parser is a recursive-descent parser over the token stream, shaped after
// the teacher's lang/parser (one method per grammar production, a single
// current token plus one token of lookahead). It lowers directly to lang/ir
// rather than building an intermediate AST, since RSS's surface grammar has
// no constructs (no position-preserving pretty-printer, no macro layer) that
// would benefit from a separate AST stage.
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

func (p *parser) expectIdent() (string, error) {
	if p.cur.kind != tokIdent {
		return "", fmt.Errorf("line %d: expected identifier, got %q", p.cur.line, p.cur.lit)
	}
	name := p.cur.lit
	return name, p.advance()
}

// Parse lowers one RSS source file to an *ir.Unit; it matches
// lang/loader.ParseFunc's signature so it can be passed directly to
// loader.Load.
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

func (p *parser) parseBlock() ([]ir.Stmt, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var stmts []ir.Stmt
	for !p.isPunct("}") {
		if p.cur.kind == tokEOF {
			return nil, fmt.Errorf("line %d: unterminated block", p.cur.line)
		}
		st, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
	return stmts, p.expectPunct("}")
}

func (p *parser) parseStmt() (ir.Stmt, error) {
	line := p.cur.line
	switch {
	case p.isKeyword("let"):
		return p.parseLet(line)
	case p.isKeyword("fn"):
		return p.parseFn(line)
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
		return ir.Break{Base: ir.Base{LineNo: line}}, p.expectPunct(";")
	case p.isKeyword("continue"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ir.Continue{Base: ir.Base{LineNo: line}}, p.expectPunct(";")
	case p.isKeyword("return"):
		return p.parseReturn(line)
	case p.isKeyword("match"):
		return p.parseMatch(line)
	case p.isKeyword("import"):
		return p.parseImport(line)
	case p.cur.kind == tokIdent && p.peek.kind == tokPunct && p.peek.lit == "=":
		return p.parseAssign(line)
	default:
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return ir.ExprStmt{Base: ir.Base{LineNo: line}, Value: e}, nil
	}
}

func (p *parser) parseLet(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil { // "let"
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
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return ir.Let{Base: ir.Base{LineNo: line}, Name: name, Value: val}, nil
}

func (p *parser) parseAssign(line int) (ir.Stmt, error) {
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
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return ir.Assign{Base: ir.Base{LineNo: line}, Name: name, Value: val}, nil
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

func (p *parser) parseFn(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil { // "fn"
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
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return ir.FunctionDecl{Base: ir.Base{LineNo: line}, Name: name, Params: params, Body: body}, nil
}

func (p *parser) parseIf(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil { // "if"
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var els []ir.Stmt
	if p.isKeyword("else") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isKeyword("if") {
			nested, err := p.parseIf(p.cur.line)
			if err != nil {
				return nil, err
			}
			els = []ir.Stmt{nested}
		} else {
			els, err = p.parseBlock()
			if err != nil {
				return nil, err
			}
		}
	}
	return ir.If{Base: ir.Base{LineNo: line}, Cond: cond, Then: then, Else: els}, nil
}

func (p *parser) parseWhile(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil { // "while"
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return ir.While{Base: ir.Base{LineNo: line}, Cond: cond, Body: body}, nil
}

func (p *parser) parseFor(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil { // "for"
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var init ir.Stmt
	if !p.isPunct(";") {
		var err error
		if p.isKeyword("let") {
			init, err = p.parseLet(p.cur.line)
			if err != nil {
				return nil, err
			}
			// parseLet already consumed the trailing ';'
		} else {
			init, err = p.parseAssign(p.cur.line)
			if err != nil {
				return nil, err
			}
		}
	} else {
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
	}
	var cond ir.Expr
	if !p.isPunct(";") {
		var err error
		cond, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	var step ir.Stmt
	if !p.isPunct(")") {
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
		step = ir.Assign{Name: name, Value: val}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return ir.For{Base: ir.Base{LineNo: line}, Init: init, Cond: cond, Step: step, Body: body}, nil
}

func (p *parser) parseReturn(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil { // "return"
		return nil, err
	}
	var val ir.Expr
	if !p.isPunct(";") {
		var err error
		val, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return ir.Return{Base: ir.Base{LineNo: line}, Value: val}, p.expectPunct(";")
}

func (p *parser) parseMatch(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil { // "match"
		return nil, err
	}
	subj, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var arms []ir.MatchArm
	for !p.isPunct("}") {
		var lit ir.Expr
		if p.isPunct("_") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else {
			lit, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expectPunct("=>"); err != nil {
			return nil, err
		}
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		arms = append(arms, ir.MatchArm{Literal: lit, Body: body})
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return ir.Match{Base: ir.Base{LineNo: line}, Subject: subj, Arms: arms}, nil
}

func (p *parser) parseImport(line int) (ir.Stmt, error) {
	if err := p.advance(); err != nil { // "import"
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
	return ir.Import{Base: ir.Base{LineNo: line}, Path: path, Alias: alias}, p.expectPunct(";")
}

// --- expressions: precedence climbing, lowest to highest ---
// || -> && -> equality -> relational -> shift -> additive -> multiplicative
// -> unary -> postfix -> primary

func (p *parser) parseExpr() (ir.Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (ir.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isPunct("||") {
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
	for p.isPunct("&&") {
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
	for p.isPunct("==") || p.isPunct("!=") {
		op := p.cur.lit
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
	case p.isPunct("!"):
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
		switch {
		case p.isPunct(".") || p.isPunct("?."):
			optional := p.cur.lit == "?."
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
				e = ir.MemberAccess{Base: ir.Base{LineNo: line}, Receiver: e, Field: name, Optional: optional}
			}
		default:
			return e, nil
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
	case p.isKeyword("null"):
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
	case p.isPunct("|"):
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

// parseClosure parses `|params| capture(names)? block`, RSS's only closure
// syntax (spec.md §4.2: captured by value at declaration, not first-class).
func (p *parser) parseClosure(line int) (ir.Expr, error) {
	if err := p.advance(); err != nil { // leading "|"
		return nil, err
	}
	var params []string
	for !p.isPunct("|") {
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
	if err := p.expectPunct("|"); err != nil {
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
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return ir.Closure{Base: ir.Base{LineNo: line}, Params: params, Captures: captures, Body: body}, nil
}
