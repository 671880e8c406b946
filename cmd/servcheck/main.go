package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/config"
	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/logging"
	"github.com/servcheck/prober/internal/probe"
	"github.com/servcheck/prober/internal/repo/memory"
	"github.com/servcheck/prober/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, cfg, os.Args[2:], os.Stdout)
	case "validate":
		err = validate(ctx, cfg, os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "servcheck")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  servcheck run (--id N [--id M ...] | --all) [--config servcheck.yaml] [--debug]")
	fmt.Fprintln(w, "  servcheck validate [--config servcheck.yaml]")
}

// idList collects repeated --id flags.
type idList []int

func (l *idList) String() string {
	parts := make([]string, len(*l))
	for i, id := range *l {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func (l *idList) Set(v string) error {
	for _, p := range strings.Split(v, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid test id %q", p)
		}
		*l = append(*l, id)
	}
	return nil
}

func run(ctx context.Context, cfg config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var ids idList
	fs.Var(&ids, "id", "test id to probe, repeatable")
	all := fs.Bool("all", false, "probe every configured test")
	fs.StringVar(&cfg.CatalogPath, "config", cfg.CatalogPath, "path to the test catalog")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "debug logging, mirrored to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(ids) == 0 && !*all {
		return errors.New("nothing to run: pass --id or --all")
	}

	logger, err := logging.NewLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cat, err := config.LoadCatalog(ctx, cfg.CatalogPath)
	if err != nil {
		return err
	}
	store := memory.New()
	store.Load(cat.Tests, cat.CAs, cat.Proxies)

	specs, err := selectTests(ctx, store, ids, *all)
	if err != nil {
		return err
	}

	exec := transport.New(
		transport.WithLogger(logger),
		transport.WithCertificateStore(store),
		transport.WithProxyStore(store),
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithCABundle(cfg.CABundle),
		transport.WithTempDir(cfg.TmpDir),
		transport.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	prober := &probe.RetryProber{
		Inner:    probe.NewEngine(exec, logger),
		Attempts: cfg.RetryAttempts,
		Backoff:  cfg.RetryBackoff,
	}

	logger.Info("run_start", zap.Int("tests", len(specs)), zap.Int("concurrency", cfg.MaxConcurrent))
	enc := json.NewEncoder(stdout)
	for _, res := range probe.RunAll(ctx, prober, specs, cfg.MaxConcurrent) {
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	return nil
}

func selectTests(ctx context.Context, store *memory.Store, ids idList, all bool) ([]domain.TestSpec, error) {
	if all {
		return store.Tests(ctx)
	}
	specs := make([]domain.TestSpec, 0, len(ids))
	var errs error
	for _, id := range ids {
		t, err := store.Test(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		specs = append(specs, t)
	}
	return specs, errs
}

func validate(ctx context.Context, cfg config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.StringVar(&cfg.CatalogPath, "config", cfg.CatalogPath, "path to the test catalog")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cat, err := config.LoadCatalog(ctx, cfg.CatalogPath)
	if err != nil {
		return err
	}
	if err := cat.Validate(); err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Fprintln(stdout, "✖", e)
		}
		return fmt.Errorf("%d problems in %s", len(multierr.Errors(err)), cfg.CatalogPath)
	}
	if len(cfg.AdminAPIKeys) == 0 {
		fmt.Fprintln(stdout, "⚠ ADMIN_API_KEYS is empty (test probe route is open, ad-hoc route refused).")
	}
	fmt.Fprintf(stdout, "✔ %d tests, %d CAs, %d proxies\n", len(cat.Tests), len(cat.CAs), len(cat.Proxies))
	return nil
}
