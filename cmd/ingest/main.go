package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ngirimana/finindex/internal/cache"
	"github.com/ngirimana/finindex/internal/config"
	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/finapi"
	"github.com/ngirimana/finindex/internal/importer"
	"github.com/ngirimana/finindex/internal/logging"
	"github.com/ngirimana/finindex/internal/remote"
	"github.com/ngirimana/finindex/internal/service"
	"github.com/ngirimana/finindex/internal/session"
)

var errMissingCredentials = errors.New("no stored session; set FINDEX_EMAIL and FINDEX_PASSWORD")

func main() {
	var (
		year     = flag.Int("year", time.Now().Year(), "year assigned to rows without a year column")
		dryRun   = flag.Bool("dry-run", false, "validate the file without uploading it")
		startups = flag.Bool("startups", false, "treat the file as a startup spreadsheet")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] FILE.csv|FILE.xlsx\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewWithWriter(os.Stderr, cfg.Logging).With("component", "ingest")

	raw, err := readImportFile(path)
	if err != nil {
		logger.Error("failed to read import file", "error", err, "path", path)
		os.Exit(1)
	}

	if !*startups {
		if ok := checkRows(path, raw, *year); !ok {
			os.Exit(1)
		}
		if *dryRun {
			fmt.Println("Validation passed; nothing uploaded (dry run).")
			return
		}
	} else if *dryRun {
		logger.Error("dry-run only applies to country data")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := session.Open(ctx, logger, cfg.Session, false)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	client, err := remote.NewHTTPClient(remote.Options{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout})
	if err != nil {
		logger.Error("failed to create API client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	api := finapi.New(logger, client, cache.New(logger, cfg.Cache.KeepUnused), store)
	defer store.Subscribe(api.OnSessionChange)()
	services := service.New(logger, api, store, service.Options{Workers: cfg.Cache.Workers})

	if err := ensureSession(ctx, services.Auth); err != nil {
		logger.Error("sign-in failed", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	var notice service.Notice
	if *startups {
		notice, err = services.Startups.BulkUpload(ctx, path, bytes.NewReader(raw))
	} else {
		var report service.ImportReport
		report, err = services.Dataset.ImportFile(ctx, path, bytes.NewReader(raw), *year)
		notice = report.Notice
	}
	printNotice(notice)
	if err != nil {
		logger.Error("upload failed", "error", err)
		os.Exit(1)
	}
	logger.Info("upload complete", "path", path, "duration", time.Since(start).String())
}

func readImportFile(path string) ([]byte, error) {
	if _, err := importer.FormatOf(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > importer.MaxFileSize {
		return nil, fmt.Errorf("%s: %w", path, importer.ErrTooLarge)
	}
	return os.ReadFile(path)
}

// checkRows validates country rows locally and prints every failing row.
func checkRows(path string, raw []byte, year int) bool {
	table, err := importer.Read(path, bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to process file: %v\n", err)
		return false
	}
	res := importer.Validate(table.Rows, year)
	if !res.IsValid {
		fmt.Fprintln(os.Stderr, "Validation failed:")
		for _, msg := range res.Errors {
			fmt.Fprintf(os.Stderr, "  %s\n", msg)
		}
		return false
	}
	fmt.Printf("%d rows valid\n", len(res.ValidData))
	return true
}

func ensureSession(ctx context.Context, auth *service.AuthService) error {
	if _, ok := auth.Current(); ok {
		return nil
	}
	email, password := os.Getenv("FINDEX_EMAIL"), os.Getenv("FINDEX_PASSWORD")
	if email == "" || password == "" {
		return errMissingCredentials
	}
	_, notice, err := auth.Login(ctx, domain.Credentials{Email: email, Password: password})
	printNotice(notice)
	return err
}

func printNotice(n service.Notice) {
	if n.Message == "" {
		return
	}
	out := os.Stdout
	if n.Kind == service.NoticeError {
		out = os.Stderr
	}
	fmt.Fprintln(out, n.Message)
	for _, d := range n.Details {
		fmt.Fprintf(out, "  %s\n", d)
	}
}
