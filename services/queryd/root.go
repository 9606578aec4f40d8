// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/resquery/core/backend"
	"github.com/relabs-tech/resquery/core/query"
	"github.com/relabs-tech/resquery/core/store"
)

// options are the global flags
type options struct {
	config string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "queryd",
		Short: "Query service for dynamically typed resources",
		Long: `queryd compiles filter trees and sort descriptors of configured
resources into storage pipelines and executes them on postgres.

  queryd serve          # start the REST service
  queryd explain        # print the pipeline of a query
  queryd filter-fields  # print the filter keys of a resource
  queryd validate       # validate the configuration`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.config, "config", "c", "resquery.yaml", "configuration file path")

	root.AddCommand(
		newServeCmd(opts),
		newExplainCmd(opts),
		newFilterFieldsCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

func loadConfiguration(path string) (*backend.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read configuration: %w", err)
	}
	config, err := backend.ParseConfiguration(data)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return config, nil
}

// offlineEngine returns an engine for the configured resources which is not
// connected to any database
func offlineEngine(ctx context.Context, config *backend.Configuration) (*query.Engine, error) {
	return query.New(ctx, &query.Builder{
		Resources: config.Resources,
		Executor:  store.NewMemory(),
		Settings:  config.Settings(query.Settings{}),
	})
}

func printJSON(w io.Writer, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
