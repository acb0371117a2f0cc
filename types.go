package pecompile

import (
	"github.com/jward/pecompile/internal/closure"
	"github.com/jward/pecompile/internal/config"
	"github.com/jward/pecompile/internal/diag"
	"github.com/jward/pecompile/internal/registry"
	"github.com/jward/pecompile/internal/store"
	"github.com/jward/pecompile/internal/synth"
)

// Public type aliases for internal types used in the Engine API.
// These are Go type aliases (=), identical to the internal types at compile
// time. External consumers use these names; no conversion is needed.

type Store = store.Store
type Table = config.Table
type Module = synth.Module
type Param = synth.Param
type JSOptions = synth.JSOptions
type Plan = closure.Plan
type PlanEntry = closure.PlanEntry
type Diagnostic = diag.Diagnostic
type DiagnosticKind = diag.Kind
type Registry = registry.Registry
type Definition = registry.Definition
