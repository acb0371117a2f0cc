package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jward/pecompile"
	"github.com/jward/pecompile/internal/reform"
)

// requestFlags are shared by compile, plan and eval.
type requestFlags struct {
	variables []string
	date      string
	year      int
	reform    string
	strict    bool
}

func (rf *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&rf.variables, "variables", "v", nil, "target variables (comma-separated or repeated)")
	cmd.Flags().StringVar(&rf.date, "date", "", "parameter date, YYYY or YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&rf.year, "year", 0, "parameter year; shorthand for --date YYYY-01-01")
	cmd.Flags().StringVar(&rf.reform, "reform", "", "reform overrides: a YAML/JSON file or inline document")
	cmd.Flags().BoolVar(&rf.strict, "strict", false, "fail on dependency cycles")
	cmd.MarkFlagsMutuallyExclusive("date", "year")
}

// request builds the pecompile.Request, filling unset flags from the
// project file.
func (rf *requestFlags) request(cmd *cobra.Command, c *cli) (pecompile.Request, error) {
	if len(rf.variables) == 0 {
		return pecompile.Request{}, errors.New("no target variables: pass --variables")
	}
	req := pecompile.Request{
		Variables: rf.variables,
		Date:      rf.date,
		Strict:    rf.strict,
	}
	if rf.year != 0 {
		req.Date = reform.DateForYear(rf.year)
	}
	if req.Date == "" {
		req.Date = c.file.Compile.Date
	}
	if !cmd.Flags().Changed("strict") {
		req.Strict = c.file.Compile.Strict
	}
	if rf.reform != "" {
		spec, err := loadReform(rf.reform)
		if err != nil {
			return req, err
		}
		req.Reform = spec
	}
	return req, nil
}

// loadReform reads arg as a file when one exists there, otherwise as an
// inline document.
func loadReform(arg string) (*reform.Spec, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return reform.Load(arg)
	}
	return reform.Parse(arg)
}

// --- compile ---

func (c *cli) compileCmd() *cobra.Command {
	var (
		rf                   requestFlags
		target, module       string
		typescript, jsdoc    bool
		output, html, title  string
		dryRun, allowInvalid bool
	)
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile target variables into a standalone module",
		Long:  "Gathers the dependency closure of the target variables, inlines parameter values in force on the date and writes one self-contained module.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := rf.request(cmd, c)
			if err != nil {
				return c.outputError(cmd, "compile", err)
			}
			req.DryRun = dryRun
			req.Target = target
			if !cmd.Flags().Changed("target") && c.file.Compile.Target != "" {
				req.Target = c.file.Compile.Target
			}
			if typescript || (!cmd.Flags().Changed("typescript") && c.file.Compile.TypeScript) {
				req.Target = "typescript"
			}
			req.JS.Module = module
			if !cmd.Flags().Changed("module") {
				req.JS.Module = c.file.Compile.Module
			}
			req.JS.JSDoc = jsdoc || (!cmd.Flags().Changed("jsdoc") && c.file.Compile.JSDoc)

			engine, err := c.openEngine()
			if err != nil {
				return c.outputError(cmd, "compile", err)
			}
			defer engine.Close()
			ctx := c.context(cmd)

			var res *pecompile.Result
			if html != "" {
				var page string
				page, res, err = engine.Demo(ctx, req, title)
				if err == nil {
					err = os.WriteFile(html, []byte(page), 0o644)
				}
			} else {
				res, err = engine.Compile(ctx, req)
			}
			if err != nil {
				return c.outputError(cmd, "compile", err)
			}
			if res.Module == nil {
				return c.outputResult(cmd, CLIResult{Command: "compile", Results: res.Plan})
			}

			out := newCLIModule(res)
			if output != "" {
				if err := os.WriteFile(output, []byte(res.Module.Source), 0o644); err != nil {
					return c.outputError(cmd, "compile", err)
				}
				out.Path = output
			}
			if html != "" {
				out.HTML = html
			}
			if output == "" && html == "" && c.format == "text" {
				fmt.Fprint(cmd.OutOrStdout(), res.Module.Source)
			} else if err := c.outputResult(cmd, CLIResult{Command: "compile", Results: out}); err != nil {
				return err
			}
			if res.SyntaxError != nil && !allowInvalid {
				return fmt.Errorf("emitted %s module does not parse: %w", res.Module.Target, res.SyntaxError)
			}
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVarP(&target, "target", "t", "python", "output language: "+strings.Join(pecompile.Targets(), "|"))
	cmd.Flags().StringVar(&module, "module", "", "javascript module format: esm|commonjs|iife|none")
	cmd.Flags().BoolVar(&typescript, "typescript", false, "shorthand for --target typescript")
	cmd.Flags().BoolVar(&jsdoc, "jsdoc", false, "emit JSDoc comments in javascript output")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the module to this file")
	cmd.Flags().StringVar(&html, "html", "", "write an HTML demo page embedding the javascript module")
	cmd.Flags().StringVar(&title, "title", "", "title of the HTML demo page")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan instead of compiling")
	cmd.Flags().BoolVar(&allowInvalid, "allow-invalid", false, "exit zero even when the output fails its syntax check")
	return cmd
}

// --- plan ---

func (c *cli) planCmd() *cobra.Command {
	var rf requestFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a compilation would include",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := rf.request(cmd, c)
			if err != nil {
				return c.outputError(cmd, "plan", err)
			}
			engine, err := c.openEngine()
			if err != nil {
				return c.outputError(cmd, "plan", err)
			}
			defer engine.Close()

			plan, err := engine.Plan(c.context(cmd), req)
			if err != nil {
				return c.outputError(cmd, "plan", err)
			}
			return c.outputResult(cmd, CLIResult{Command: "plan", Results: plan})
		},
	}
	rf.register(cmd)
	return cmd
}

// --- eval ---

func (c *cli) evalCmd() *cobra.Command {
	var (
		rf         requestFlags
		inputs     []string
		inputsFile string
		check      string
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Compile to Risor and evaluate in process",
		Long:  "Compiles the target variables to Risor, runs the module with the given inputs and prints every computed value. With --check, a Risor script then asserts on the results.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := rf.request(cmd, c)
			if err != nil {
				return c.outputError(cmd, "eval", err)
			}
			values, err := parseInputs(inputsFile, inputs)
			if err != nil {
				return c.outputError(cmd, "eval", err)
			}
			engine, err := c.openEngine()
			if err != nil {
				return c.outputError(cmd, "eval", err)
			}
			defer engine.Close()
			ctx := c.context(cmd)

			results, res, err := engine.Evaluate(ctx, req, values)
			if err != nil {
				return c.outputError(cmd, "eval", err)
			}
			if check != "" {
				if _, err := engine.RunCheck(ctx, check, res, results, values); err != nil {
					return c.outputError(cmd, "eval", err)
				}
			}
			return c.outputResult(cmd, CLIResult{Command: "eval", Results: CLIValues(results)})
		},
	}
	rf.register(cmd)
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "input value as name=value (repeatable)")
	cmd.Flags().StringVar(&inputsFile, "inputs", "", "YAML or JSON file mapping input names to values")
	cmd.Flags().StringVar(&check, "check", "", "Risor script run against the results")
	return cmd
}

// parseInputs merges an inputs file with name=value pairs; pairs win. Values
// are decoded as YAML scalars, so 1 is an int, 1.5 a float and true a bool.
func parseInputs(file string, pairs []string) (map[string]any, error) {
	out := map[string]any{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading inputs: %w", err)
		}
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("inputs %s: %w", file, err)
		}
	}
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid input %q: want name=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid input %q: %w", pair, err)
		}
		out[name] = v
	}
	return out, nil
}

// sortedKeys returns m's keys in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
