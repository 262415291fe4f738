package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacentio/strata/query"
)

func (c *cli) scanCmd() *cobra.Command {
	var (
		where  []string
		filter string
		sorts  []string
		offset int64
		limit  int64
		count  bool
	)

	cmd := &cobra.Command{
		Use:   "scan SET",
		Short: "List or count live records of a set",
		Long: `List or count live records of a set.
--where bin=value filters on equality and is evaluated by DynamoDB. --filter
takes a CEL expression over "bins", evaluated client side. The record id is
addressed as "id". --sort takes a field with an optional ":desc" suffix.`,
		Example: `  strata scan users --where city=Lisbon --sort age:desc --limit 10
  strata scan users --filter 'bins.age > 30 && bins.name.startsWith("A")' --count`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := buildCriteria(where, filter)
			if err != nil {
				return err
			}

			if count {
				if len(sorts) > 0 || offset > 0 || limit > 0 {
					return fmt.Errorf("--count does not take --sort, --offset or --limit")
				}
				n, err := c.tmpl.CountRecords(cmd.Context(), args[0], criteria)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c.settings.Output, map[string]any{"count": n})
			}

			sort, err := parseSort(sorts)
			if err != nil {
				return err
			}
			q := query.New(criteria).With(sort).Skip(offset).Limit(limit)

			now := time.Now()
			views := []recordView{}
			for rec, err := range c.tmpl.ScanRecords(cmd.Context(), args[0], q) {
				if err != nil {
					return err
				}
				v, err := viewOf(rec, now)
				if err != nil {
					return err
				}
				views = append(views, v)
			}
			return render(cmd.OutOrStdout(), c.settings.Output, views)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&where, "where", nil, "equality filter as bin=value, repeatable")
	f.StringVar(&filter, "filter", "", "CEL filter expression")
	f.StringArrayVar(&sorts, "sort", nil, "sort field, optionally field:desc, repeatable")
	f.Int64Var(&offset, "offset", 0, "skip this many matches, requires --sort")
	f.Int64Var(&limit, "limit", 0, "return at most this many records")
	f.BoolVar(&count, "count", false, "print the number of matches only")
	return cmd
}

// buildCriteria joins --where and --filter into one qualifier, nil when empty.
func buildCriteria(where []string, filter string) (*query.Qualifier, error) {
	var qs []*query.Qualifier
	for _, w := range where {
		name, raw, err := splitPair(w)
		if err != nil {
			return nil, err
		}
		v, err := parseNative(raw)
		if err != nil {
			return nil, err
		}
		qs = append(qs, query.Eq(name, v))
	}
	if filter != "" {
		qs = append(qs, query.Expr(filter))
	}

	switch len(qs) {
	case 0:
		return nil, nil
	case 1:
		return qs[0], nil
	default:
		return query.And(qs...), nil
	}
}

func parseSort(fields []string) (query.Sort, error) {
	var sort query.Sort
	for _, f := range fields {
		name, dir, _ := strings.Cut(f, ":")
		if name == "" {
			return nil, fmt.Errorf("empty sort field in %q", f)
		}
		switch strings.ToLower(dir) {
		case "", "asc":
			sort = append(sort, query.Ascending(name))
		case "desc":
			sort = append(sort, query.Descending(name))
		default:
			return nil, fmt.Errorf("unknown sort direction %q", dir)
		}
	}
	return sort, nil
}
