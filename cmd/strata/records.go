package main

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jacentio/strata/mapping"
	"github.com/jacentio/strata/store"
)

func (c *cli) printRecord(cmd *cobra.Command, rec *mapping.Record) error {
	v, err := viewOf(rec, time.Now())
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), c.settings.Output, v)
}

func notFound(set, id string) error {
	return fmt.Errorf("%s/%s: %w", set, id, store.ErrNotFound)
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get SET ID",
		Short: "Print a live record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.id(args[1])
			if err != nil {
				return err
			}
			rec, err := c.tmpl.GetRecord(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			if rec == nil {
				return notFound(args[0], args[1])
			}
			return c.printRecord(cmd, rec)
		},
	}
}

func (c *cli) putCmd() *cobra.Command {
	var (
		data       string
		bins       []string
		createOnly bool
		updateOnly bool
		generation int64
		expiration int32
	)

	cmd := &cobra.Command{
		Use:   "put SET [ID]",
		Short: "Write bins to a record",
		Long: `Write bins to a record, creating it unless --update-only is given.
Bins come from --data (a YAML or JSON mapping) and repeated --bin name=value
flags. Without an ID a random UUID is used.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if createOnly && updateOnly {
				return fmt.Errorf("--create-only and --update-only are exclusive")
			}

			raw := uuid.NewString()
			if len(args) == 2 {
				raw = args[1]
			}
			id, err := c.id(raw)
			if err != nil {
				return err
			}

			values := map[string]types.AttributeValue{}
			if data != "" {
				if values, err = parseDocument(data); err != nil {
					return err
				}
			}
			for _, b := range bins {
				name, value, err := splitPair(b)
				if err != nil {
					return err
				}
				if values[name], err = parseValue(value); err != nil {
					return err
				}
			}
			if len(values) == 0 {
				return fmt.Errorf("no bins given, use --data or --bin")
			}

			policy := store.WritePolicy{Expiration: expiration}
			switch {
			case createOnly:
				policy.ExistsAction = store.CreateOnly
			case updateOnly:
				policy.ExistsAction = store.ReplaceOnly
			}
			if cmd.Flags().Changed("generation") {
				policy.GenerationPolicy = store.GenerationExpectEqual
				policy.Generation = generation
			}

			gen, err := c.tmpl.PutRecord(cmd.Context(), args[0], id, values, policy)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.settings.Output, map[string]any{"id": id, "generation": gen})
		},
	}

	f := cmd.Flags()
	f.StringVar(&data, "data", "", "bins as a YAML or JSON mapping")
	f.StringArrayVar(&bins, "bin", nil, "bin as name=value, repeatable")
	f.BoolVar(&createOnly, "create-only", false, "fail when a live record exists")
	f.BoolVar(&updateOnly, "update-only", false, "fail when no live record exists")
	f.Int64Var(&generation, "generation", 0, "write only at this generation (0 expects no record)")
	f.Int32Var(&expiration, "expiration", store.ExpirationDefault, "lifetime in seconds, -1 never expires, -2 keeps the current expiry")
	return cmd
}

func (c *cli) existsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists SET ID",
		Short: "Report whether a live record exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.id(args[1])
			if err != nil {
				return err
			}
			ok, err := c.tmpl.ExistsRecord(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.settings.Output, map[string]any{"id": id, "exists": ok})
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete SET ID",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.id(args[1])
			if err != nil {
				return err
			}
			ok, err := c.tmpl.DeleteRecord(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.settings.Output, map[string]any{"id": id, "deleted": ok})
		},
	}
}

func (c *cli) touchCmd() *cobra.Command {
	var expiration int32

	cmd := &cobra.Command{
		Use:   "touch SET ID",
		Short: "Reset the expiry of a live record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.id(args[1])
			if err != nil {
				return err
			}
			rec, err := c.tmpl.TouchRecord(cmd.Context(), args[0], id, expiration)
			if err != nil {
				return err
			}
			if rec == nil {
				return notFound(args[0], args[1])
			}
			return c.printRecord(cmd, rec)
		},
	}
	cmd.Flags().Int32Var(&expiration, "expiration", store.ExpirationDefault, "lifetime in seconds, -1 never expires")
	return cmd
}
