// Package linker implements the linking phase named in spec.md §4.3: it
// merges the dependency-ordered units lang/loader produced into the
// single flat statement list lang/backend compiles. It is deliberately
// thin. Full name resolution — telling a local function call apart from
// an implicit host import, which needs complete lexical scope
// information — is the backend's job (lang/backend.Compiler.compileVar/
// compileCall), since scoping is a per-function, per-block concern the
// linker's whole-program view does not have. The linker's own
// responsibility is the part that genuinely is whole-program: a single
// global function namespace and one execution order for top-level code,
// grounded in the same "renumber/merge by declaration order" shape the
// teacher's lang/resolver package applies within one file, generalized
// across files.
package linker

import (
	"fmt"

	"github.com/mna/vmforge/lang/ir"
	"github.com/mna/vmforge/lang/vmerrors"
)

// Link concatenates units' statements in order (the order lang/loader
// returned them in: dependencies before dependents) into one program,
// failing with vmerrors.CompileError{DuplicateDefinition} if two units
// declare a function of the same name.
func Link(units []*ir.Unit) ([]ir.Stmt, error) {
	declaredIn := make(map[string]string)
	var merged []ir.Stmt
	for _, u := range units {
		for _, s := range u.Stmts {
			fd, ok := s.(ir.FunctionDecl)
			if !ok {
				continue
			}
			if prev, ok := declaredIn[fd.Name]; ok {
				return nil, &vmerrors.CompileError{
					Kind:    vmerrors.DuplicateDefinition,
					Subject: fmt.Sprintf("%s: declared in both %s and %s", fd.Name, prev, u.Filename),
				}
			}
			declaredIn[fd.Name] = u.Filename
		}
		merged = append(merged, u.Stmts...)
	}
	return merged, nil
}
