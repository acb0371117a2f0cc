package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jward/pecompile"
)

// formatIndexText prints an IndexResult summary.
func formatIndexText(w io.Writer, res *pecompile.IndexResult) {
	fmt.Fprintf(w, "Root: %s\n", res.Root)
	fmt.Fprintf(w, "Files: %d indexed, %d unchanged, %d removed\n", res.Indexed, res.Skipped, res.Removed)
	fmt.Fprintf(w, "Rows: %d variables, %d parameters\n", res.Variables, res.Parameters)
	if len(res.Changed) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Changed variables:")
		for _, name := range res.Changed {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
	if len(res.Failed) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Failed sources:")
		for _, path := range res.Failed {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}
}

// formatModuleText prints a compiled module's interface and diagnostics.
// The source itself goes to the -o file.
func formatModuleText(w io.Writer, m CLIModule) {
	fmt.Fprintf(w, "Target: %s\n", m.Target)
	if m.Path != "" {
		fmt.Fprintf(w, "Module: %s\n", m.Path)
	}
	if m.HTML != "" {
		fmt.Fprintf(w, "Demo: %s\n", m.HTML)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INPUT\tTYPE\tDEFAULT")
	for _, in := range m.Inputs {
		fmt.Fprintf(tw, "%s\t%s\t%v\n", in.Name, in.Type, in.Default)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nOutputs: %s\n", strings.Join(m.Outputs, ", "))
	formatDiagnosticsText(w, m.Diagnostics)
	if m.SyntaxError != "" {
		fmt.Fprintf(w, "\nSyntax error: %s\n", m.SyntaxError)
	}
}

func formatDiagnosticsText(w io.Writer, diags []pecompile.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	fmt.Fprintf(w, "\nDiagnostics (%d):\n", len(diags))
	for _, d := range diags {
		fmt.Fprintf(w, "  %s\n", d)
	}
}

// formatValuesText prints evaluated values as aligned columns.
func formatValuesText(w io.Writer, values CLIValues) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIABLE\tVALUE")
	for _, name := range sortedKeys(values) {
		fmt.Fprintf(tw, "%s\t%v\n", name, values[name])
	}
	tw.Flush()
}

// formatVariablesText prints variables as aligned columns.
func formatVariablesText(w io.Writer, vars []pecompile.VariableResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENTITY\tPERIOD\tTYPE\tKIND\tSOURCE")
	for _, v := range vars {
		kind := "formula"
		if v.Input {
			kind = "input"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", v.Name, v.Entity, v.Period, v.ValueType, kind, v.Source)
	}
	tw.Flush()
}

func formatDepsText(w io.Writer, deps *pecompile.VariableDeps) {
	fmt.Fprintf(w, "Variable: %s\n", deps.Name)
	if len(deps.Variables) > 0 {
		fmt.Fprintln(w, "\nVariables:")
		for _, name := range deps.Variables {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
	if len(deps.Parameters) > 0 {
		fmt.Fprintln(w, "\nParameters:")
		for _, path := range deps.Parameters {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}
}

func formatParametersText(w io.Writer, params []pecompile.ParameterResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tUNIT\tSOURCE")
	for _, p := range params {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Path, p.Unit, p.Source)
	}
	tw.Flush()
}

// formatParameterText prints one parameter with its value history.
func formatParameterText(w io.Writer, p *pecompile.ParameterResult) {
	fmt.Fprintf(w, "Parameter: %s\n", p.Path)
	if p.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", p.Description)
	}
	if p.Unit != "" {
		fmt.Fprintf(w, "Unit: %s\n", p.Unit)
	}
	if p.Reference != "" {
		fmt.Fprintf(w, "Reference: %s\n", p.Reference)
	}
	fmt.Fprintf(w, "Source: %s\n\n", p.Source)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tVALUE")
	for _, v := range p.Values {
		fmt.Fprintf(tw, "%s\t%v\n", v.From, v.Value)
	}
	tw.Flush()
}

func formatSummaryText(w io.Writer, sum *pecompile.Summary) {
	fmt.Fprintln(w, "Rule Set Summary")
	fmt.Fprintln(w, "================")
	if sum.Root != "" {
		fmt.Fprintf(w, "Root: %s\n", sum.Root)
	}
	if sum.IndexedAt != "" {
		fmt.Fprintf(w, "Indexed: %s\n", sum.IndexedAt)
	}
	fmt.Fprintf(w, "Sources: %d\n", sum.Sources)
	fmt.Fprintf(w, "Variables: %d (%d inputs)\n", sum.Variables, sum.Inputs)
	fmt.Fprintf(w, "Parameters: %d\n", sum.Parameters)
	if len(sum.Entities) > 0 {
		fmt.Fprintln(w, "\nEntities:")
		for _, entity := range sortedKeys(sum.Entities) {
			fmt.Fprintf(w, "  %s: %d\n", entity, sum.Entities[entity])
		}
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case *pecompile.IndexResult:
		formatIndexText(w, v)
	case CLIModule:
		formatModuleText(w, v)
	case *pecompile.Plan:
		return v.WriteText(w)
	case CLIValues:
		formatValuesText(w, v)
	case []pecompile.VariableResult:
		formatVariablesText(w, v)
	case *pecompile.VariableDeps:
		formatDepsText(w, v)
	case CLINames:
		for _, name := range v {
			fmt.Fprintln(w, name)
		}
	case []pecompile.ParameterResult:
		formatParametersText(w, v)
	case *pecompile.ParameterResult:
		formatParameterText(w, v)
	case *pecompile.Summary:
		formatSummaryText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}

	// Pagination footer.
	if result.TotalCount != nil {
		shown := resultLen(result.Results)
		if count := *result.TotalCount; shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}
	return nil
}

// resultLen returns the length of a paged result slice.
func resultLen(v any) int {
	switch r := v.(type) {
	case []pecompile.VariableResult:
		return len(r)
	case []pecompile.ParameterResult:
		return len(r)
	default:
		return 0
	}
}

// outputResult writes a CLIResult to the command's stdout in the selected
// format.
func (c *cli) outputResult(cmd *cobra.Command, result CLIResult) error {
	w := cmd.OutOrStdout()
	if c.format == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func (c *cli) outputError(cmd *cobra.Command, command string, err error) error {
	errorHandled = true
	if c.format == "text" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
