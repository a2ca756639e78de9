// Command adaptor is the CLI entry point that drives an external,
// subprocess-implemented adaptor through the framework in this repo: it
// parses -D key=value overrides and an optional properties file the way
// the teacher's cli/root.go binds cobra/pflag/viper flags, builds an
// Application, and runs it until an interrupt signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/contentbridge/adaptor/adaptor"
	"github.com/contentbridge/adaptor/app"
	"github.com/contentbridge/adaptor/cmdstream"
	"github.com/contentbridge/adaptor/config"
	"github.com/contentbridge/adaptor/errkind"
	"github.com/contentbridge/adaptor/logging"
)

var (
	configFile     string
	sysPropsFile   string
	defines        []string
	startupRetries int
)

func main() {
	root := &cobra.Command{
		Use:   "adaptor <command> [args...]",
		Short: "Run a subprocess-backed adaptor against a GSA-style indexer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}
	root.Flags().StringVarP(&configFile, "configfile", "c", "", "path to the adaptor's .properties config file")
	root.Flags().StringVar(&sysPropsFile, "sysproperties", "", "path to a java-style system properties file (must exist; its contents are not read)")
	root.Flags().StringArrayVarP(&defines, "define", "D", nil, "override a config key, e.g. -Dgsa.hostname=gsa.example.com")
	root.Flags().IntVar(&startupRetries, "startup-retries", 5, "number of STARTUP_TRANSIENT retries before giving up")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "adaptor:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errkind.Is(err, errkind.InvalidConfiguration):
		return 2
	case errkind.Is(err, errkind.StartupFatal), errkind.Is(err, errkind.StartupTransient):
		return 1
	default:
		return 1
	}
}

func run(cmd *cobra.Command, args []string) error {
	command, subArgs := args[0], args[1:]

	cfg := config.New()
	if err := app.DeclareKeys(cfg); err != nil {
		return err
	}
	if sysPropsFile != "" {
		if _, err := os.Stat(sysPropsFile); err != nil {
			return errkind.Wrap(errkind.InvalidConfiguration, "adaptor: read system properties file", err)
		}
	}
	if configFile != "" {
		if err := cfg.Load(configFile); err != nil {
			return err
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return err
	}
	if err := applyDefines(cfg, defines); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Configure(logLevel(cfg), false, os.Stdout.Write, os.Stderr.Write)

	sub := &cmdstream.SubprocessAdaptor{Command: command, Args: subArgs}
	markAllPublic, _ := strconv.ParseBool(mustGetValue(cfg, "adaptor.markAllDocsAsPublic"))
	ad := adaptor.Adaptor{
		Lister:        sub,
		Incremental:   sub,
		Retriever:     sub,
		Authorizer:    sub,
		MarkAllPublic: markAllPublic,
	}

	application, err := buildWithRetry(cfg, ad)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Logger().WithField("signal", sig.String()).Info("adaptor: shutdown signal received")
		cancel()
	}()

	if err := application.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	if !application.Stop(30 * time.Second) {
		return errkind.New(errkind.ShutDown, "adaptor: shutdown deadline exceeded, some work did not finish")
	}
	return nil
}

// buildWithRetry retries app.Build when it fails with STARTUP_TRANSIENT
// (a dependency Build constructs, such as the S3 feed archive or the
// Postgres journal store, was not yet reachable), with a linearly growing
// backoff, and gives up
// immediately on any other error kind.
func buildWithRetry(cfg *config.Config, ad adaptor.Adaptor) (*app.Application, error) {
	var lastErr error
	for attempt := 1; attempt <= startupRetries; attempt++ {
		built, err := app.Build(cfg, ad)
		if err == nil {
			return built, nil
		}
		if !errkind.Is(err, errkind.StartupTransient) {
			return nil, err
		}
		lastErr = err
		logging.Logger().WithError(err).WithField("attempt", attempt).Warn("adaptor: startup dependency unavailable, retrying")
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return nil, lastErr
}

// applyEnvOverrides layers environment-variable overrides onto cfg
// beneath -D flags but above the loaded properties file, the way the
// teacher's cli/root.go layers viper.AutomaticEnv beneath bound
// persistent flags: a key declared as "gsa.hostname" is read from
// ADAPTOR_GSA_HOSTNAME.
func applyEnvOverrides(cfg *config.Config) error {
	viper.SetEnvPrefix("adaptor")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for _, key := range cfg.DeclaredKeys() {
		v := viper.GetString(key)
		if v == "" {
			continue
		}
		if err := cfg.SetValue(key, v); err != nil {
			return err
		}
	}
	return nil
}

// applyDefines applies a set of "-D key=value" overrides to cfg in order,
// so a later -D for the same key wins, matching the teacher's viper flag
// precedence (explicit flags override file and defaults).
func applyDefines(cfg *config.Config, defines []string) error {
	for _, d := range defines {
		k, v, ok := strings.Cut(d, "=")
		if !ok {
			return errkind.New(errkind.InvalidConfiguration, "adaptor: malformed -D flag, expected key=value: "+d)
		}
		if err := cfg.SetValue(k, v); err != nil {
			return err
		}
	}
	return nil
}

func mustGetValue(cfg *config.Config, key string) string {
	v, _ := cfg.GetValue(key)
	return v
}

func logLevel(cfg *config.Config) logrus.Level {
	raw, _ := cfg.GetValue("log.level")
	lvl, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
