package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jacentio/strata/store"
)

func (c *cli) addCmd() *cobra.Command {
	var expiration int32

	cmd := &cobra.Command{
		Use:     "add SET ID BIN=DELTA...",
		Short:   "Increment numeric bins, creating the record when missing",
		Example: "  strata add counters home hits=1 bytes=512",
		Args:    cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.id(args[1])
			if err != nil {
				return err
			}
			deltas := make(map[string]int64, len(args)-2)
			for _, arg := range args[2:] {
				name, raw, err := splitPair(arg)
				if err != nil {
					return err
				}
				n, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return fmt.Errorf("delta for %s is not an integer: %q", name, raw)
				}
				deltas[name] = n
			}
			rec, err := c.tmpl.AddRecord(cmd.Context(), args[0], id, deltas, expiration)
			if err != nil {
				return err
			}
			return c.printRecord(cmd, rec)
		},
	}
	cmd.Flags().Int32Var(&expiration, "expiration", store.ExpirationDefault, "lifetime in seconds, -1 never expires")
	return cmd
}

func (c *cli) concatCmd(name string, prepend bool) *cobra.Command {
	where := "end"
	if prepend {
		where = "start"
	}

	return &cobra.Command{
		Use:   name + " SET ID BIN=VALUE...",
		Short: fmt.Sprintf("Add text to the %s of string bins, creating the record when missing", where),
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.id(args[1])
			if err != nil {
				return err
			}
			values := make(map[string]string, len(args)-2)
			for _, arg := range args[2:] {
				bin, value, err := splitPair(arg)
				if err != nil {
					return err
				}
				values[bin] = value
			}

			concat := c.tmpl.AppendRecord
			if prepend {
				concat = c.tmpl.PrependRecord
			}
			rec, err := concat(cmd.Context(), args[0], id, values)
			if err != nil {
				return err
			}
			return c.printRecord(cmd, rec)
		},
	}
}
