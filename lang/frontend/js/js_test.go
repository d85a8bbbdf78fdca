package js_test

import (
	"testing"

	"github.com/mna/vmforge/lang/backend"
	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/frontend/js"
	"github.com/mna/vmforge/lang/interp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, src string) *interp.VM {
	t.Helper()
	u, err := js.Parse("test.js", []byte(src))
	require.NoError(t, err)
	p, err := backend.Compile(u.Stmts)
	require.NoError(t, err)
	vm := interp.New(p, interp.NewHostTable())
	vm.Run()
	return vm
}

func TestLetArithmeticAndStrictEquality(t *testing.T) {
	vm := run(t, `
		let x = 2 + 3 * 4;
		let y = 0;
		if (x === 14) {
			y = 1;
		} else {
			y = 2;
		}
	`)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(14), vm.Locals[0])
	assert.Equal(t, bytecode.Int(1), vm.Locals[1])
}

func TestWhileLoop(t *testing.T) {
	vm := run(t, `
		let i = 0;
		let sum = 0;
		while (i < 5) {
			sum = sum + i;
			i = i + 1;
		}
	`)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(10), vm.Locals[1])
}

func TestForLoop(t *testing.T) {
	vm := run(t, `
		let total = 0;
		for (let i = 0; i < 4; i = i + 1) {
			total = total + i;
		}
	`)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(6), vm.Locals[0])
}

func TestFunctionInlineAndReturn(t *testing.T) {
	vm := run(t, `
		function square(n) {
			return n * n;
		}
		let a = square(6);
	`)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(36), vm.Locals[len(vm.Locals)-1])
}

func TestArrowClosureCaptureByValue(t *testing.T) {
	vm := run(t, `
		let base = 10;
		let addBase = (n) => capture(base) {
			return n + base;
		};
		let a = addBase(5);
		base = 999;
		let b = addBase(5);
	`)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(999), vm.Locals[0])
	assert.Equal(t, bytecode.Int(15), vm.Locals[len(vm.Locals)-1])
}

func TestParenthesizedExpressionIsNotMistakenForArrow(t *testing.T) {
	vm := run(t, `
		let x = (1 + 2) * 3;
	`)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(9), vm.Locals[0])
}

func TestMatchStatement(t *testing.T) {
	vm := run(t, `
		let code = 2;
		let label = 0;
		match (code) {
			1 => { label = 100; },
			2 => { label = 200; },
			_ => { label = -1; },
		}
	`)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(200), vm.Locals[1])
}

func TestTryAndMust(t *testing.T) {
	vm := run(t, `
		let safe = try (1 / 0);
		let checked = must 5;
	`)
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Null, vm.Locals[0])
	assert.Equal(t, bytecode.Int(5), vm.Locals[1])
}

func TestRecursionRejected(t *testing.T) {
	u, err := js.Parse("test.js", []byte(`
		function f(n) {
			return f(n);
		}
		let x = f(1);
	`))
	require.NoError(t, err)
	_, err = backend.Compile(u.Stmts)
	require.Error(t, err)
}
