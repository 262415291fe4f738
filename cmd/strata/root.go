package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/jacentio/strata/internal/telemetry"
	"github.com/jacentio/strata/store"
)

// settings is the CLI configuration. Flags override the environment.
type settings struct {
	Store store.Config `envPrefix:"STRATA_"`

	Endpoint string `env:"STRATA_ENDPOINT"`
	Region   string `env:"AWS_REGION"`
	Profile  string `env:"AWS_PROFILE"`
	Output   string `env:"STRATA_OUTPUT" envDefault:"json"`
	IDType   string `env:"STRATA_ID_TYPE" envDefault:"string"`
	Verbose  bool   `env:"STRATA_VERBOSE"`
}

// connector builds the DynamoDB client for a command.
type connector func(ctx context.Context, s settings) (store.Client, error)

type cli struct {
	connect  connector
	flags    settings
	settings settings
	tmpl     *store.Template
	logger   *slog.Logger
	shutdown func(context.Context) error
}

func newRootCmd(connect connector) *cobra.Command {
	c := &cli{connect: connect}

	root := &cobra.Command{
		Use:   "strata",
		Short: "Read and write strata records in DynamoDB",
		Long: `strata addresses records by set and id. Each set is a DynamoDB table named
"namespace.set" with the record id in the key attribute, a generation counter
and a TTL attribute. Expired records are treated as absent.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  c.setup,
		PersistentPostRunE: c.teardown,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.Store.Namespace, "namespace", "", "table namespace (STRATA_NAMESPACE)")
	pf.StringVar(&c.flags.Endpoint, "endpoint", "", "DynamoDB endpoint URL (STRATA_ENDPOINT)")
	pf.StringVar(&c.flags.Region, "region", "", "AWS region (AWS_REGION)")
	pf.StringVar(&c.flags.Profile, "profile", "", "AWS shared config profile (AWS_PROFILE)")
	pf.StringVarP(&c.flags.Output, "output", "o", "", "output format: json or yaml (STRATA_OUTPUT)")
	pf.StringVar(&c.flags.IDType, "id-type", "", "record id type: string or number (STRATA_ID_TYPE)")
	pf.BoolVarP(&c.flags.Verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.getCmd(),
		c.putCmd(),
		c.existsCmd(),
		c.deleteCmd(),
		c.touchCmd(),
		c.scanCmd(),
		c.addCmd(),
		c.concatCmd("append", false),
		c.concatCmd("prepend", true),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	var s settings
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.override(cmd, &s)
	if s.Output != "json" && s.Output != "yaml" {
		return fmt.Errorf("unknown output format %q", s.Output)
	}
	if s.IDType != "string" && s.IDType != "number" {
		return fmt.Errorf("unknown id type %q", s.IDType)
	}
	c.settings = s

	level := slog.LevelWarn
	if s.Verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	ctx := cmd.Context()
	shutdown, err := telemetry.Setup(ctx, "strata-cli")
	if err != nil {
		return err
	}
	c.shutdown = shutdown

	client, err := c.connect(ctx, s)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.tmpl = store.New(client, s.Store, store.WithLogger(c.logger))
	c.logger.Debug("configured", "namespace", s.Store.Namespace, "endpoint", s.Endpoint, "output", s.Output)
	return nil
}

func (c *cli) override(cmd *cobra.Command, s *settings) {
	flags := cmd.Flags()
	if flags.Changed("namespace") {
		s.Store.Namespace = c.flags.Store.Namespace
	}
	if flags.Changed("endpoint") {
		s.Endpoint = c.flags.Endpoint
	}
	if flags.Changed("region") {
		s.Region = c.flags.Region
	}
	if flags.Changed("profile") {
		s.Profile = c.flags.Profile
	}
	if flags.Changed("output") {
		s.Output = c.flags.Output
	}
	if flags.Changed("id-type") {
		s.IDType = c.flags.IDType
	}
	if flags.Changed("verbose") {
		s.Verbose = c.flags.Verbose
	}
}

func (c *cli) teardown(cmd *cobra.Command, _ []string) error {
	if c.shutdown == nil {
		return nil
	}
	return c.shutdown(cmd.Context())
}

// id converts a command line id to the configured key type.
func (c *cli) id(arg string) (any, error) {
	if c.settings.IDType != "number" {
		return arg, nil
	}
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("id %q is not a number", arg)
	}
	return n, nil
}

func connectDynamo(ctx context.Context, s settings) (store.Client, error) {
	var opts []func(*config.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	if s.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(s.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
		}
	}), nil
}
