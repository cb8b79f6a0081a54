// Package commands implements the catalogctl commands.
package commands

import (
	"context"
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-query-cache/catalog"
	"github.com/goliatone/go-query-cache/pkg/di"
)

// CLI is the catalogctl command tree. The container is built on first use
// from the persistent flags.
type CLI struct {
	rootCmd       *cobra.Command
	containerOpts []di.Option
	container     *di.Container

	configPath    string
	baseURL       string
	logLevel      string
	responseCache bool
}

// Option configures a CLI.
type Option func(*CLI)

// WithContainerOptions passes opts to di.NewContainer.
func WithContainerOptions(opts ...di.Option) Option {
	return func(c *CLI) {
		c.containerOpts = append(c.containerOpts, opts...)
	}
}

// New creates the command tree.
func New(opts ...Option) *CLI {
	c := &CLI{}
	for _, opt := range opts {
		opt(c)
	}

	rootCmd := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Query and update the library catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringVar(&c.baseURL, "base-url", "", "Catalog API base URL (overrides the config file)")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.BoolVar(&c.responseCache, "response-cache", false, "Reuse HTTP responses until a write touches them")

	c.rootCmd = rootCmd
	rootCmd.AddCommand(
		c.newListCmd(),
		c.newGetCmd(),
		c.newSearchCmd(),
		c.newCreateCmd(),
		c.newUpdateCmd(),
		c.newDeleteCmd(),
		c.newBorrowCmd(),
		c.newReturnCmd(),
		c.newSummaryCmd(),
	)
	return c
}

// Execute runs the root command and closes the container afterwards.
func (c *CLI) Execute(ctx context.Context) error {
	defer func() {
		if c.container != nil {
			_ = c.container.Close()
			c.container = nil
		}
	}()
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

func (c *CLI) api() (*catalog.API, error) {
	if c.container != nil {
		return c.container.API(), nil
	}

	cfg := di.DefaultConfig()
	if c.configPath != "" {
		loaded, err := di.LoadConfig(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.responseCache {
		cfg.ResponseCache.Enabled = true
	}

	container, err := di.NewContainer(cfg, c.containerOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create client")
	}
	c.container = container
	return container.API(), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
