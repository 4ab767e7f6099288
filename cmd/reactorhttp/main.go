// Command reactorhttp boots the reactor core as a standalone process: it
// parses the `config:<path>` / `module:<name>` / `no_debug_log` token
// surface (preserved from original_source/core/main.c's argv grammar,
// expressed through cobra args instead of hand-rolled argv scanning),
// loads configuration, starts logging, constructs the reactor, and hands
// control to the named module's Bootstrap.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/WhileEndless/reactorhttp/pkg/config"
	"github.com/WhileEndless/reactorhttp/pkg/logging"
	"github.com/WhileEndless/reactorhttp/pkg/module"
	"github.com/WhileEndless/reactorhttp/pkg/reactor"
	"github.com/WhileEndless/reactorhttp/pkg/resolver"

	_ "github.com/WhileEndless/reactorhttp/pkg/proxyref"
)

// args is the parsed form of the `key:value` token surface.
type args struct {
	configPath string
	moduleName string
	noDebugLog bool
}

func parseTokens(tokens []string) (args, error) {
	var a args
	for _, tok := range tokens {
		switch {
		case tok == "no_debug_log":
			a.noDebugLog = true
		case strings.HasPrefix(tok, "config:"):
			a.configPath = strings.TrimPrefix(tok, "config:")
		case strings.HasPrefix(tok, "module:"):
			a.moduleName = strings.TrimPrefix(tok, "module:")
		default:
			return a, fmt.Errorf("unrecognized argument %q (expected config:<path>, module:<name>, or no_debug_log)", tok)
		}
	}
	if a.moduleName == "" {
		return a, fmt.Errorf("module:<name> is required (available: %v)", module.Names())
	}
	return a, nil
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reactorhttp config:<path> module:<name> [no_debug_log]",
		Short: "Run the reactor HTTP core with a named bootstrap module",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, rawArgs []string) error {
			a, err := parseTokens(rawArgs)
			if err != nil {
				return err
			}
			return run(a)
		},
	}
	cmd.SilenceUsage = true
	return cmd
}

func run(a args) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := logrus.DebugLevel
	if a.noDebugLog {
		logLevel = logrus.InfoLevel
	}
	logger, err := logging.New(cfg.LoggerLogfile(), cfg.LoggerRotateInterval(), logging.WithLevel(logLevel))
	if err != nil {
		return fmt.Errorf("start logging: %w", err)
	}
	logger.Start()
	defer logger.Stop()

	if _, isTest := cfg.CertFile(); isTest {
		logger.LogThrowawayCertWarning()
	}

	r, err := reactor.New(reactor.WithMaxFDs(cfg.MaxFDs()))
	if err != nil {
		return fmt.Errorf("start reactor: %w", err)
	}
	defer r.Close()

	res := resolver.New(cfg.ResolverRefreshInterval())
	res.Start()
	defer res.Stop()
	if _, err := res.ArmPeriodicRefresh(r.GlobalTimers()); err != nil {
		return fmt.Errorf("arm resolver refresh: %w", err)
	}

	ctx := &module.Context{Reactor: r, Config: cfg, Logger: logger}
	if err := module.Run(a.moduleName, ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.WithField("module", a.moduleName).Info("reactorhttp started")
	return r.Run(runCtx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "reactorhttp:", err)
		os.Exit(1)
	}
}
