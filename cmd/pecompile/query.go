package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/pecompile"
)

// queryFlags are the paging and sort flags shared by list subcommands.
type queryFlags struct {
	limit  int
	offset int
	sort   string
	order  string
}

func (qf *queryFlags) pagination() pecompile.Pagination {
	return pecompile.Pagination{Limit: qf.limit, Offset: qf.offset}
}

// sortSpec maps the --sort and --order flags onto a pecompile.Sort.
func (qf *queryFlags) sortSpec() pecompile.Sort {
	var field pecompile.SortField
	switch qf.sort {
	case "entity":
		field = pecompile.SortByEntity
	case "source":
		field = pecompile.SortBySource
	default:
		field = pecompile.SortByName
	}
	order := pecompile.Asc
	if qf.order == "desc" {
		order = pecompile.Desc
	}
	return pecompile.Sort{Field: field, Order: order}
}

func (c *cli) queryCmd() *cobra.Command {
	qf := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the indexed rule set",
		Long:  "Lists and inspects indexed variables and parameters. Redefined names report their winning definition only.",
	}
	pf := cmd.PersistentFlags()
	pf.IntVar(&qf.limit, "limit", 50, "pagination limit (max 500)")
	pf.IntVar(&qf.offset, "offset", 0, "pagination offset")
	pf.StringVar(&qf.sort, "sort", "", "sort field: name|entity|source")
	pf.StringVar(&qf.order, "order", "asc", "sort order: asc|desc")

	cmd.AddCommand(c.variablesCmd(qf))
	cmd.AddCommand(c.depsCmd())
	cmd.AddCommand(c.dependentsCmd())
	cmd.AddCommand(c.paramsCmd(qf))
	cmd.AddCommand(c.paramCmd())
	cmd.AddCommand(c.summaryCmd())
	return cmd
}

// withQuery opens the engine and hands its QueryBuilder to fn.
func (c *cli) withQuery(cmd *cobra.Command, command string, fn func(*pecompile.QueryBuilder) (CLIResult, error)) error {
	engine, err := c.openEngine()
	if err != nil {
		return c.outputError(cmd, command, err)
	}
	defer engine.Close()

	result, err := fn(engine.Query())
	if err != nil {
		return c.outputError(cmd, command, err)
	}
	result.Command = command
	return c.outputResult(cmd, result)
}

func (c *cli) variablesCmd(qf *queryFlags) *cobra.Command {
	var (
		entities         []string
		inputs, computed bool
		name, source     string
	)
	cmd := &cobra.Command{
		Use:   "variables",
		Short: "List variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := pecompile.VariableFilter{
				Entities:     entities,
				NamePattern:  name,
				SourcePrefix: source,
			}
			if inputs {
				filter.Input = &inputs
			} else if computed {
				no := false
				filter.Input = &no
			}
			return c.withQuery(cmd, "query variables", func(q *pecompile.QueryBuilder) (CLIResult, error) {
				page, err := q.Variables(filter, qf.sortSpec(), qf.pagination())
				if err != nil {
					return CLIResult{}, err
				}
				items := page.Items
				if items == nil {
					items = []pecompile.VariableResult{}
				}
				return CLIResult{Results: items, TotalCount: &page.TotalCount}, nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&entities, "entity", nil, "filter by entity (repeatable)")
	cmd.Flags().BoolVar(&inputs, "inputs", false, "only variables without a formula")
	cmd.Flags().BoolVar(&computed, "computed", false, "only variables with a formula")
	cmd.Flags().StringVar(&name, "name", "", "name glob, e.g. '*_income'")
	cmd.Flags().StringVar(&source, "source", "", "filter by source path prefix")
	cmd.MarkFlagsMutuallyExclusive("inputs", "computed")
	return cmd
}

func (c *cli) depsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps <variable>",
		Short: "Show what a variable's formula reads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery(cmd, "query deps", func(q *pecompile.QueryBuilder) (CLIResult, error) {
				deps, err := q.Dependencies(args[0])
				if err != nil {
					return CLIResult{}, err
				}
				if deps == nil {
					return CLIResult{}, fmt.Errorf("variable not found: %s", args[0])
				}
				return CLIResult{Results: deps}, nil
			})
		},
	}
}

func (c *cli) dependentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dependents <variable>",
		Short: "List variables whose formulas read a variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery(cmd, "query dependents", func(q *pecompile.QueryBuilder) (CLIResult, error) {
				names, err := q.Dependents(args[0])
				if err != nil {
					return CLIResult{}, err
				}
				if names == nil {
					names = []string{}
				}
				return CLIResult{Results: CLINames(names)}, nil
			})
		},
	}
}

func (c *cli) paramsCmd(qf *queryFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "params [prefix]",
		Short: "List parameters at or under a dotted path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) > 0 {
				prefix = args[0]
			}
			return c.withQuery(cmd, "query params", func(q *pecompile.QueryBuilder) (CLIResult, error) {
				page, err := q.Parameters(prefix, qf.pagination())
				if err != nil {
					return CLIResult{}, err
				}
				items := page.Items
				if items == nil {
					items = []pecompile.ParameterResult{}
				}
				return CLIResult{Results: items, TotalCount: &page.TotalCount}, nil
			})
		},
	}
}

func (c *cli) paramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "param <path>",
		Short: "Show a parameter and its dated values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery(cmd, "query param", func(q *pecompile.QueryBuilder) (CLIResult, error) {
				p, err := q.ParameterHistory(args[0])
				if err != nil {
					return CLIResult{}, err
				}
				if p == nil {
					return CLIResult{}, fmt.Errorf("parameter not found: %s", args[0])
				}
				return CLIResult{Results: p}, nil
			})
		},
	}
}

func (c *cli) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Count indexed variables, parameters and sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery(cmd, "query summary", func(q *pecompile.QueryBuilder) (CLIResult, error) {
				sum, err := q.Summary()
				if err != nil {
					return CLIResult{}, err
				}
				return CLIResult{Results: sum}, nil
			})
		},
	}
}
