// Package main provides the fitsync command-line tool. It runs one
// operation against the local database and exits.
//
//	fitsync [-config path] <command> [flags]
//
// Commands: version, status, sync, drain, summary, export, import.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kimhsiao/fitsync/backend/internal/app"
	"github.com/kimhsiao/fitsync/backend/internal/config"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/export"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fitsync: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: fitsync [-config path] <version|status|sync|drain|summary|export|import> [flags]")
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("fitsync", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	configPath := global.String("config", "", "path to config.yaml")
	dataDir := global.String("data-dir", "", "override the data directory")
	if err := global.Parse(args); err != nil {
		usage(out)
		return err
	}
	if global.NArg() == 0 {
		usage(out)
		return apperrors.New(apperrors.ErrInvalid, "missing command")
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	if cmd == "version" {
		fmt.Fprintf(out, "fitsync v%s\n", Version)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	app.InitLogging(cfg)

	switch cmd {
	case "status":
		return withCore(ctx, cfg, func(core *app.App) error {
			return printJSON(out, core.Status(ctx))
		})
	case "drain":
		return withCore(ctx, cfg, func(core *app.App) error {
			return printJSON(out, core.Drain(ctx))
		})
	case "sync":
		fs := flag.NewFlagSet("sync", flag.ContinueOnError)
		userID := fs.String("user", os.Getenv("FITSYNC_USER"), "user to sync")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return withCore(ctx, cfg, func(core *app.App) error {
			if err := core.SignIn(ctx, *userID); err != nil {
				return err
			}
			results, err := core.SyncNow(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, results)
		})
	case "summary":
		fs := flag.NewFlagSet("summary", flag.ContinueOnError)
		userID := fs.String("user", os.Getenv("FITSYNC_USER"), "user to summarize")
		date := fs.String("date", "", "day as YYYY-MM-DD, default today")
		weekly := fs.Bool("weekly", false, "summarize the week containing date")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		day := time.Now().In(loc)
		if *date != "" {
			if day, err = time.ParseInLocation(time.DateOnly, *date, loc); err != nil {
				return apperrors.New(apperrors.ErrInvalid, "invalid date: want YYYY-MM-DD")
			}
		}
		if *userID == "" {
			return apperrors.New(apperrors.ErrInvalid, "user id is required")
		}
		return withCore(ctx, cfg, func(core *app.App) error {
			if *weekly {
				summary, err := core.Food.WeeklySummary(ctx, *userID, day)
				if err != nil {
					return err
				}
				return printJSON(out, summary)
			}
			summary, err := core.Food.DailySummary(ctx, *userID, day)
			if err != nil {
				return err
			}
			return printJSON(out, summary)
		})
	case "export", "import":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		userID := fs.String("user", os.Getenv("FITSYNC_USER"), "user whose logs to back up")
		path := fs.String("file", "", "archive path; export defaults to the backup directory")
		password := fs.String("password", os.Getenv("FITSYNC_BACKUP_PASSWORD"), "archive passphrase")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *userID == "" {
			return apperrors.New(apperrors.ErrInvalid, "user id is required")
		}
		if cmd == "import" && *path == "" {
			return apperrors.New(apperrors.ErrInvalid, "-file is required")
		}
		return withCore(ctx, cfg, func(core *app.App) error {
			if cmd == "export" {
				result, err := core.Export.Export(ctx, *userID, export.ExportConfig{OutputPath: *path, Password: *password})
				if err != nil {
					return err
				}
				return printJSON(out, result)
			}
			result, err := core.Export.Import(ctx, *userID, export.ImportConfig{ArchivePath: *path, Password: *password})
			if err != nil {
				return err
			}
			return printJSON(out, result)
		})
	default:
		usage(out)
		return apperrors.Newf(apperrors.ErrInvalid, "unknown command %q", cmd)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadConfig(path)
}

// withCore opens the core for the duration of fn.
func withCore(ctx context.Context, cfg *config.Config, fn func(*app.App) error) error {
	core, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	runErr := fn(core)
	if err := core.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
