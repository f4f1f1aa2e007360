package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/artipie/conan-revindex/pkg/conan"
	"github.com/artipie/conan-revindex/pkg/conanhttp"
	"github.com/artipie/conan-revindex/pkg/lock"
	"github.com/artipie/conan-revindex/pkg/store"
)

var version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	root := flag.NewFlagSet("conanrevd", flag.ContinueOnError)
	root.SetOutput(os.Stderr)

	var backendType string
	var repoRoot string
	var logLevel string
	var showVersion bool
	var s3Endpoint string
	root.StringVar(&backendType, "backend", "fs", "backend to use (fs, s3)")
	root.StringVar(&repoRoot, "repo-root", "", "repository root path or URI")
	root.StringVar(&logLevel, "log-level", "info", "log level (info, debug)")
	root.BoolVar(&showVersion, "version", false, "print version and exit")
	root.StringVar(&s3Endpoint, "s3-endpoint", "", "S3 endpoint URL for S3-compatible storage (e.g., MinIO)")
	root.Usage = func() {
		fmt.Fprintf(root.Output(), "Usage: conanrevd [global flags] <command> [args]\n")
		fmt.Fprintf(root.Output(), "Commands: index, check, serve\n\n")
		root.PrintDefaults()
	}

	if err := root.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintf(os.Stdout, "%s\n", version)
		return nil
	}

	remaining := root.Args()
	if len(remaining) == 0 {
		root.Usage()
		return fmt.Errorf("missing command")
	}

	switch remaining[0] {
	case "index":
		return runIndex(ctx, backendType, repoRoot, s3Endpoint, logLevel, remaining[1:])
	case "check":
		return runCheck(ctx, backendType, repoRoot, s3Endpoint, logLevel, remaining[1:])
	case "serve":
		return runServe(ctx, backendType, repoRoot, s3Endpoint, logLevel, remaining[1:])
	default:
		return fmt.Errorf("unknown command %q", remaining[0])
	}
}

func runIndex(ctx context.Context, backendType, repoRoot, s3Endpoint, logLevel string, args []string) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if repoRoot == "" {
		return fmt.Errorf("--repo-root is required")
	}
	pkgs := fs.Args()
	if len(pkgs) == 0 {
		return fmt.Errorf("index requires at least one package coordinate (name/version/user/channel)")
	}
	s, err := buildStore(ctx, backendType, repoRoot, s3Endpoint)
	if err != nil {
		return err
	}
	logger := newLogger(logLevel)
	locker := lock.NewStorageLock(s)
	for _, pkg := range pkgs {
		api := conan.New(s, locker, pkg)
		if err := api.FullIndexUpdate(ctx); err != nil {
			return fmt.Errorf("index %s: %w", pkg, err)
		}
		logger.Printf("indexed %s", pkg)
	}
	return nil
}

func runCheck(ctx context.Context, backendType, repoRoot, s3Endpoint, logLevel string, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if repoRoot == "" {
		return fmt.Errorf("--repo-root is required")
	}
	pkgs := fs.Args()
	if len(pkgs) == 0 {
		return fmt.Errorf("check requires at least one package coordinate")
	}
	s, err := buildStore(ctx, backendType, repoRoot, s3Endpoint)
	if err != nil {
		return err
	}
	locker := lock.NewStorageLock(s)
	var failed bool
	for _, pkg := range pkgs {
		api := conan.New(s, locker, pkg)
		api.WithLogger(os.Stderr)
		if err := api.Check(ctx); err != nil {
			failed = true
			fmt.Fprintf(os.Stdout, "%s: FAILED (see warnings above)\n", pkg)
			continue
		}
		fmt.Fprintf(os.Stdout, "%s ok\n", pkg)
	}
	if failed {
		return fmt.Errorf("one or more packages failed consistency check")
	}
	return nil
}

func runServe(ctx context.Context, backendType, repoRoot, s3Endpoint, logLevel string, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var addr string
	fs.StringVar(&addr, "addr", ":9300", "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if repoRoot == "" {
		return fmt.Errorf("--repo-root is required")
	}
	s, err := buildStore(ctx, backendType, repoRoot, s3Endpoint)
	if err != nil {
		return err
	}
	logger := newLogger(logLevel)
	logger.Printf("serving %s on %s", repoRoot, addr)
	return http.ListenAndServe(addr, conanhttp.NewRouter(s))
}

func buildStore(ctx context.Context, backendType, repoRoot, s3Endpoint string) (store.Store, error) {
	switch backendType {
	case "fs":
		return store.NewFSStore(repoRoot), nil
	case "s3":
		return store.NewS3Store(ctx, repoRoot, s3Endpoint)
	default:
		return nil, fmt.Errorf("backend %q not implemented", backendType)
	}
}

// newLogger matches pkg/conan.New's default (log.New(os.Stderr, "", 0));
// -log-level debug adds a time prefix, everything else stays unadorned.
func newLogger(level string) *log.Logger {
	flags := 0
	if level == "debug" {
		flags = log.Ltime
	}
	return log.New(os.Stderr, "", flags)
}
