// Package cli implements the htmlpdfsign command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digitorus/htmlpdfsign"
	"github.com/digitorus/htmlpdfsign/config"
	"github.com/digitorus/htmlpdfsign/internal/logger"
	"github.com/digitorus/htmlpdfsign/internal/metrics"
)

var osExit = os.Exit

// app holds the state shared by the commands of one invocation.
type app struct {
	version string

	configPath string
	logLevel   string
	logEnv     string

	// keystore and signature overrides from flags
	keystorePath string
	keystoreType string
	alias        string
	strict       bool
	outputDir    string
	name         string
	location     string
	reason       string
	contact      string
	pageSize     string

	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version}

	root := &cobra.Command{
		Use:   "htmlpdfsign",
		Short: "Render HTML to PDF and sign PDF documents",
		Long: "Render HTML documents to PDF and append a visible, CMS signed signature as an\n" +
			"incremental update, using a key from a PKCS#12 or JKS keystore.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file, TOML or YAML (default "+config.DefaultLocation+" when present)")
	root.PersistentFlags().StringVarP(&a.logLevel, "log-level", "l", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logEnv, "log-format", "", "Log format: dev or prod (default: dev on a terminal)")

	root.AddCommand(a.signCommand())
	root.AddCommand(a.renderCommand())
	root.AddCommand(a.keystoreCommand())
	root.AddCommand(a.serveCommand())
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute(version string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, NewRootCommand(version), os.Args[1:], os.Stderr)
	stop()
	osExit(code)
}

func run(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", htmlpdfsign.Kind(err), err)
		return 1
	}
	return 0
}

// signingFlags registers the flags that override the config file.
func (a *app) signingFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&a.keystorePath, "keystore", "k", "", "Keystore file (PKCS#12 or JKS)")
	f.StringVar(&a.keystoreType, "keystore-type", "", "Keystore type: auto, pkcs12 or jks")
	f.StringVarP(&a.alias, "alias", "a", "", "Alias of the signing key")
	f.BoolVar(&a.strict, "strict", false, "Reject certificates not meant for document signing")
	f.StringVarP(&a.outputDir, "output-dir", "o", "", "Directory for signed files (default: next to the input)")
	f.StringVar(&a.name, "name", "", "Name of the signatory (default: certificate common name)")
	f.StringVar(&a.location, "location", "", "Location of the signatory")
	f.StringVar(&a.reason, "reason", "", "Reason for signing")
	f.StringVar(&a.contact, "contact", "", "Contact information for signatory")
}

// setup loads the configuration, applies flag overrides and builds the
// logger and metrics.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.applyFlags(cmd, cfg)
	if err := cfg.ValidateFields(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	a.log = logger.New(logger.Config{
		Env:         cfg.Log.Env,
		Level:       cfg.Log.Level,
		ServiceName: "htmlpdfsign",
		Version:     a.version,
	})

	a.metrics, err = metrics.New()
	return err
}

func (a *app) loadConfig() (*config.Config, error) {
	path := a.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultLocation); err != nil {
			cfg := config.Default()
			return cfg, nil
		}
		path = config.DefaultLocation
	}
	return config.Read(path)
}

func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("keystore") {
		cfg.Keystore.Path = a.keystorePath
	}
	if changed("keystore-type") {
		cfg.Keystore.Type = a.keystoreType
	}
	if changed("alias") {
		cfg.Keystore.Alias = a.alias
	}
	if changed("strict") {
		cfg.Policy.Strict = a.strict
	}
	if changed("output-dir") {
		cfg.Output.Directory = a.outputDir
	}
	if changed("name") {
		cfg.Signature.Name = a.name
	}
	if changed("location") {
		cfg.Signature.Location = a.location
	}
	if changed("reason") {
		cfg.Signature.Reason = a.reason
	}
	if changed("contact") {
		cfg.Signature.Contact = a.contact
	}
	if changed("page-size") {
		cfg.Render.PageSize = a.pageSize
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logEnv != "" {
		cfg.Log.Env = a.logEnv
	}

	// A password from the config file wins over the environment.
	if cfg.Keystore.Password == "" {
		if err := cfg.ResolvePassword(".env"); err != nil {
			a.warn(cmd, err)
		}
	}
}

func (a *app) warn(cmd *cobra.Command, err error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
}

// finish flushes the logger and writes the metrics textfile when one is
// configured.
func (a *app) finish() error {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.cfg == nil || a.cfg.Metrics.Textfile == "" {
		return nil
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		return &htmlpdfsign.IOError{Op: "write", Path: a.cfg.Metrics.Textfile, Err: err}
	}
	return nil
}

// withFinish runs fn and then finish, joining their errors.
func (a *app) withFinish(fn func() error) error {
	err := fn()
	if ferr := a.finish(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	return err
}
