package backend_test

import (
	"testing"

	"github.com/mna/vmforge/lang/backend"
	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/interp"
	"github.com/mna/vmforge/lang/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stmts []ir.Stmt, hosts *interp.HostTable) *interp.VM {
	t.Helper()
	p, err := backend.Compile(stmts)
	require.NoError(t, err)
	if hosts == nil {
		hosts = interp.NewHostTable()
	}
	vm := interp.New(p, hosts)
	vm.Run()
	return vm
}

func TestLetAndArithmetic(t *testing.T) {
	// let x = 2 + 3; x * 2
	stmts := []ir.Stmt{
		ir.Let{Name: "x", Value: ir.BinOp{Op: "+", Left: ir.IntLit{Value: 2}, Right: ir.IntLit{Value: 3}}},
		ir.ExprStmt{Value: ir.BinOp{Op: "*", Left: ir.Var{Name: "x"}, Right: ir.IntLit{Value: 2}}},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Halted, vm.Status)
}

func TestIfElse(t *testing.T) {
	// let x = 10; let y = 0; if x > 5 { y = 1 } else { y = 2 }
	stmts := []ir.Stmt{
		ir.Let{Name: "x", Value: ir.IntLit{Value: 10}},
		ir.Let{Name: "y", Value: ir.IntLit{Value: 0}},
		ir.If{
			Cond: ir.BinOp{Op: ">", Left: ir.Var{Name: "x"}, Right: ir.IntLit{Value: 5}},
			Then: []ir.Stmt{ir.Assign{Name: "y", Value: ir.IntLit{Value: 1}}},
			Else: []ir.Stmt{ir.Assign{Name: "y", Value: ir.IntLit{Value: 2}}},
		},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(1), vm.Locals[1])
}

func TestWhileBreakContinue(t *testing.T) {
	// let i = 0; let sum = 0
	// while i < 10 {
	//   i = i + 1
	//   if i == 5 { continue }
	//   if i > 7 { break }
	//   sum = sum + i
	// }
	stmts := []ir.Stmt{
		ir.Let{Name: "i", Value: ir.IntLit{Value: 0}},
		ir.Let{Name: "sum", Value: ir.IntLit{Value: 0}},
		ir.While{
			Cond: ir.BinOp{Op: "<", Left: ir.Var{Name: "i"}, Right: ir.IntLit{Value: 10}},
			Body: []ir.Stmt{
				ir.Assign{Name: "i", Value: ir.BinOp{Op: "+", Left: ir.Var{Name: "i"}, Right: ir.IntLit{Value: 1}}},
				ir.If{
					Cond: ir.BinOp{Op: "==", Left: ir.Var{Name: "i"}, Right: ir.IntLit{Value: 5}},
					Then: []ir.Stmt{ir.Continue{}},
				},
				ir.If{
					Cond: ir.BinOp{Op: ">", Left: ir.Var{Name: "i"}, Right: ir.IntLit{Value: 7}},
					Then: []ir.Stmt{ir.Break{}},
				},
				ir.Assign{Name: "sum", Value: ir.BinOp{Op: "+", Left: ir.Var{Name: "sum"}, Right: ir.Var{Name: "i"}}},
			},
		},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Halted, vm.Status)
	// i takes 1..8 (break when i>7, i.e. after i=8); skips adding when i==5.
	// sum = 1+2+3+4+6+7 = 23 (5 skipped, loop stops before adding 8).
	assert.Equal(t, bytecode.Int(23), vm.Locals[1])
}

func TestForLoop(t *testing.T) {
	// let sum = 0; for (let i = 0; i < 5; i = i + 1) { sum = sum + i }
	stmts := []ir.Stmt{
		ir.Let{Name: "sum", Value: ir.IntLit{Value: 0}},
		ir.For{
			Init: ir.Let{Name: "i", Value: ir.IntLit{Value: 0}},
			Cond: ir.BinOp{Op: "<", Left: ir.Var{Name: "i"}, Right: ir.IntLit{Value: 5}},
			Step: ir.Assign{Name: "i", Value: ir.BinOp{Op: "+", Left: ir.Var{Name: "i"}, Right: ir.IntLit{Value: 1}}},
			Body: []ir.Stmt{
				ir.Assign{Name: "sum", Value: ir.BinOp{Op: "+", Left: ir.Var{Name: "sum"}, Right: ir.Var{Name: "i"}}},
			},
		},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(10), vm.Locals[0])
}

func TestShortCircuitAnd(t *testing.T) {
	hosts := interp.NewHostTable()
	var sideEffect bool
	hosts.Bind(0, func(args []bytecode.Value) (bytecode.Value, error) {
		sideEffect = true
		return bytecode.Bool(true), nil
	})
	// let x = false && side_effect()  -- side_effect must not run
	stmts := []ir.Stmt{
		ir.Let{Name: "x", Value: ir.BinOp{
			Op:   "&&",
			Left: ir.BoolLit{Value: false},
			Right: ir.Call{Name: "side_effect"},
		}},
	}
	vm := run(t, stmts, hosts)
	require.Equal(t, interp.Halted, vm.Status)
	assert.False(t, sideEffect)
	assert.Equal(t, bytecode.Bool(false), vm.Locals[0])
}

func TestFunctionInlineAndReturn(t *testing.T) {
	// function double(n) { return n * 2 }
	// let x = double(21)
	stmts := []ir.Stmt{
		ir.FunctionDecl{
			Name:   "double",
			Params: []string{"n"},
			Body: []ir.Stmt{
				ir.Return{Value: ir.BinOp{Op: "*", Left: ir.Var{Name: "n"}, Right: ir.IntLit{Value: 2}}},
			},
		},
		ir.Let{Name: "x", Value: ir.Call{Name: "double", Args: []ir.Expr{ir.IntLit{Value: 21}}}},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(42), vm.Locals[len(vm.Locals)-1])
}

func TestFunctionEarlyReturn(t *testing.T) {
	// function sign(n) { if n < 0 { return 0 - 1 }; return 1 }
	// let a = sign(-5); let b = sign(5)
	signFn := ir.FunctionDecl{
		Name:   "sign",
		Params: []string{"n"},
		Body: []ir.Stmt{
			ir.If{
				Cond: ir.BinOp{Op: "<", Left: ir.Var{Name: "n"}, Right: ir.IntLit{Value: 0}},
				Then: []ir.Stmt{ir.Return{Value: ir.UnaryOp{Op: "-", Operand: ir.IntLit{Value: 1}}}},
			},
			ir.Return{Value: ir.IntLit{Value: 1}},
		},
	}
	stmts := []ir.Stmt{
		signFn,
		ir.Let{Name: "a", Value: ir.Call{Name: "sign", Args: []ir.Expr{ir.UnaryOp{Op: "-", Operand: ir.IntLit{Value: 5}}}}},
		ir.Let{Name: "b", Value: ir.Call{Name: "sign", Args: []ir.Expr{ir.IntLit{Value: 5}}}},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Halted, vm.Status)
	// Each inlined call to sign binds its own fresh "n" slot (slots are
	// never reused across inlining instances), so "a" and "b" end up
	// interleaved with the two "n" instances: [n(-5), a, n(5), b].
	assert.Equal(t, bytecode.Int(-1), vm.Locals[1])
	assert.Equal(t, bytecode.Int(1), vm.Locals[3])
}

func TestRecursionRejected(t *testing.T) {
	stmts := []ir.Stmt{
		ir.FunctionDecl{
			Name:   "loop",
			Params: []string{"n"},
			Body: []ir.Stmt{
				ir.Return{Value: ir.Call{Name: "loop", Args: []ir.Expr{ir.Var{Name: "n"}}}},
			},
		},
		ir.ExprStmt{Value: ir.Call{Name: "loop", Args: []ir.Expr{ir.IntLit{Value: 1}}}},
	}
	_, err := backend.Compile(stmts)
	require.Error(t, err)
}

func TestClosureCaptureByValue(t *testing.T) {
	// let base = 10
	// let addBase = closure(n) captures [base] { return n + base }
	// base = 999          -- must not affect addBase, captured by value
	// let r = addBase(5)
	stmts := []ir.Stmt{
		ir.Let{Name: "base", Value: ir.IntLit{Value: 10}},
		ir.Let{Name: "addBase", Value: ir.Closure{
			Params:   []string{"n"},
			Captures: []string{"base"},
			Body: []ir.Stmt{
				ir.Return{Value: ir.BinOp{Op: "+", Left: ir.Var{Name: "n"}, Right: ir.Var{Name: "base"}}},
			},
		}},
		ir.Assign{Name: "base", Value: ir.IntLit{Value: 999}},
		ir.Let{Name: "r", Value: ir.Call{Name: "addBase", Args: []ir.Expr{ir.IntLit{Value: 5}}}},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(15), vm.Locals[len(vm.Locals)-1])
}

func TestMatchStatement(t *testing.T) {
	// let x = 2; let y = 0
	// match x { 1 => y = 10, 2 => y = 20, _ => y = -1 }
	stmts := []ir.Stmt{
		ir.Let{Name: "x", Value: ir.IntLit{Value: 2}},
		ir.Let{Name: "y", Value: ir.IntLit{Value: 0}},
		ir.Match{
			Subject: ir.Var{Name: "x"},
			Arms: []ir.MatchArm{
				{Literal: ir.IntLit{Value: 1}, Body: []ir.Stmt{ir.Assign{Name: "y", Value: ir.IntLit{Value: 10}}}},
				{Literal: ir.IntLit{Value: 2}, Body: []ir.Stmt{ir.Assign{Name: "y", Value: ir.IntLit{Value: 20}}}},
				{Literal: nil, Body: []ir.Stmt{ir.Assign{Name: "y", Value: ir.UnaryOp{Op: "-", Operand: ir.IntLit{Value: 1}}}}},
			},
		},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(20), vm.Locals[1])
}

func TestTryCatchesFault(t *testing.T) {
	// let x = try (1 / 0)
	stmts := []ir.Stmt{
		ir.Let{Name: "x", Value: ir.UnaryOp{Op: "try", Operand: ir.BinOp{
			Op: "/", Left: ir.IntLit{Value: 1}, Right: ir.IntLit{Value: 0},
		}}},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Null, vm.Locals[0])
}

func TestMustFaultsOnNull(t *testing.T) {
	stmts := []ir.Stmt{
		ir.ExprStmt{Value: ir.UnaryOp{Op: "must", Operand: ir.NullLit{}}},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Faulted, vm.Status)
}

func TestOptionalMemberAccessOnNull(t *testing.T) {
	// let x = null; let y = x?.field
	stmts := []ir.Stmt{
		ir.Let{Name: "x", Value: ir.NullLit{}},
		ir.Let{Name: "y", Value: ir.MemberAccess{Receiver: ir.Var{Name: "x"}, Field: "field", Optional: true}},
	}
	vm := run(t, stmts, nil)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Null, vm.Locals[1])
}

func TestHostImportCall(t *testing.T) {
	hosts := interp.NewHostTable()
	var got []bytecode.Value
	hosts.Bind(0, func(args []bytecode.Value) (bytecode.Value, error) {
		got = args
		return bytecode.Bool(true), nil
	})
	stmts := []ir.Stmt{
		ir.Let{Name: "ok", Value: ir.Call{Name: "print", Args: []ir.Expr{ir.IntLit{Value: 1}, ir.IntLit{Value: 2}}}},
	}
	vm := run(t, stmts, hosts)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Bool(true), vm.Locals[0])
	assert.Equal(t, []bytecode.Value{bytecode.Int(1), bytecode.Int(2)}, got)
}
