// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/resquery/core/csql"
	"github.com/relabs-tech/resquery/core/filter"
	"github.com/relabs-tech/resquery/core/query"
	"github.com/relabs-tech/resquery/core/sorting"
	"github.com/relabs-tech/resquery/core/store/postgres"
)

type explainOptions struct {
	filter    string
	sort      string
	direction string
	limit     int
	cursor    string
	sql       bool
	schema    string
}

type explanation struct {
	Plan map[string]interface{} `json:"plan"`
	SQL  string                 `json:"sql,omitempty"`
	Args []interface{}          `json:"args,omitempty"`
}

func newExplainCmd(opts *options) *cobra.Command {
	eopts := &explainOptions{}
	cmd := &cobra.Command{
		Use:   "explain <resource>",
		Short: "Print the storage pipeline of a query",
		Long: `Compile a query without executing it and print its pipeline.

Examples:
  queryd explain patient --filter '{"field":"age_gte","value":18}' --sort age --direction desc
  queryd explain form --sort recordsCount --sql`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfiguration(opts.config)
			if err != nil {
				return err
			}
			engine, err := offlineEngine(cmd.Context(), config)
			if err != nil {
				return err
			}

			request := query.Request{Resource: args[0], Limit: eopts.limit, Cursor: eopts.cursor}
			if eopts.filter != "" {
				if request.Filter, err = filter.Parse([]byte(eopts.filter)); err != nil {
					return err
				}
			}
			if eopts.sort != "" {
				request.Sort = &sorting.Descriptor{Field: eopts.sort, Direction: eopts.direction}
			}

			plan, err := engine.Plan(cmd.Context(), request)
			if err != nil {
				return err
			}
			result := explanation{Plan: plan.Describe()}
			if eopts.sql {
				documents := postgres.New(&csql.DB{Schema: eopts.schema})
				if result.SQL, result.Args, err = documents.SQL(plan.Collection, plan.Stages); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&eopts.filter, "filter", "", "filter tree as JSON")
	cmd.Flags().StringVar(&eopts.sort, "sort", "", "sort field")
	cmd.Flags().StringVar(&eopts.direction, "direction", "asc", "sort direction, asc or desc")
	cmd.Flags().IntVar(&eopts.limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&eopts.cursor, "cursor", "", "pagination cursor")
	cmd.Flags().BoolVar(&eopts.sql, "sql", false, "also print the postgres query")
	cmd.Flags().StringVar(&eopts.schema, "schema", "resquery", "database schema of the postgres query")
	return cmd
}

func newFilterFieldsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "filter-fields <resource>",
		Short: "Print the filter keys of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfiguration(opts.config)
			if err != nil {
				return err
			}
			engine, err := offlineEngine(cmd.Context(), config)
			if err != nil {
				return err
			}
			filterFields, err := engine.FilterFields(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), filterFields)
		},
	}
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfiguration(opts.config)
			if err != nil {
				return err
			}
			engine, err := offlineEngine(cmd.Context(), config)
			if err != nil {
				return err
			}
			if _, err := config.Enforcer(); err != nil {
				return fmt.Errorf("invalid policies: %w", err)
			}
			resources := engine.Resources()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration %s is valid\n", opts.config)
			for _, resource := range resources {
				filterFields, _ := engine.FilterFields(resource)
				fmt.Fprintf(out, "  %s: %d filter keys\n", resource, len(filterFields))
			}
			if len(config.Policies) > 0 {
				fmt.Fprintf(out, "  %d field policies\n", len(config.Policies))
			}
			return nil
		},
	}
}
