// Package pecompile compiles PolicyEngine-style tax and benefit formulas
// into standalone modules. Given a set of target variables and a date, it
// gathers every variable and parameter the targets depend on and emits one
// self-contained Python, JavaScript, TypeScript or Risor module that computes
// them from plain input values.
//
// # Pipeline
//
// A compilation runs in four stages:
//
//  1. Closure: starting from the targets, look up each variable in the
//     [Registry], analyze its formula for variable and parameter references,
//     and follow them until the dependency set is closed. Parameters are
//     resolved to the value in force on the compilation date.
//
//  2. Reform: optional overrides (a YAML or JSON document) replace parameter
//     values before anything is inlined.
//
//  3. Order: variables are sorted so each is computed after its
//     dependencies. Cycles produce a diagnostic and a partial order, or an
//     error when Request.Strict is set.
//
//  4. Synthesis: a target backend renders the ordered formulas, inlines the
//     parameter values and exposes input variables as module parameters.
//     The output is checked for leftover host syntax and, for the Python and
//     JavaScript families, parsed with the target grammar.
//
// # Usage
//
// Index a rule set into SQLite, then compile:
//
//	e, err := pecompile.New("rules.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	_, err = e.IndexDirectory(ctx, "path/to/country-package", false)
//
//	res, err := e.Compile(ctx, pecompile.Request{
//		Variables: []string{"income_tax"},
//		Date:      "2024",
//		Target:    "javascript",
//	})
//	fmt.Print(res.Module.Source)
//
// Callers holding definitions in memory pass [WithRegistry] with an empty
// database path instead of indexing.
//
// # Incremental Indexing
//
// [Engine.IndexDirectory] hashes every source file and skips the ones whose
// content is unchanged since the last run. Files that disappeared are
// dropped from the store. Parsing runs on a worker pool; each file's rows
// are committed in a single transaction. IndexResult.Changed lists the
// variables whose definitions differ from before the run.
//
// # Queries
//
// [Engine.Query] lists and inspects what was indexed: variables filtered by
// entity, kind, name glob or source, parameter trees and their dated values,
// and the direct dependencies or dependents of a variable.
//
// # Evaluation
//
// [Engine.Evaluate] compiles to Risor and runs the module in process, which
// is how rule sets are tested without an external interpreter.
// [Engine.RunCheck] runs a Risor script against the values it produced.
package pecompile
