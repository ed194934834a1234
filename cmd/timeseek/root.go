package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/unijord/timeseek/pkg/config"
	"github.com/unijord/timeseek/pkg/ledger"
	"github.com/unijord/timeseek/pkg/metrics"
)

// app holds what every command shares: flags, configuration and logger.
type app struct {
	configPath string
	dir        string
	logLevel   string

	cfg        *config.Config
	logger     *slog.Logger
	metricsSrv *http.Server
}

// newRootCommand builds the command tree. Run it through execute so the
// metrics server stops on failures too.
func newRootCommand() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:           "timeseek",
		Short:         "Append-only segment log with timestamp seeking cursors",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&a.dir, "dir", "", "data directory (overrides storage.dir)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newProduceCommand(a),
		newSealCommand(a),
		newTrimCommand(a),
		newSegmentsCommand(a),
		newFindCommand(a),
		newResetCommand(a),
		newExpireCommand(a),
		newReadCommand(a),
		newCursorsCommand(a),
	)
	return root, a
}

func execute(root *cobra.Command, a *app) error {
	defer a.shutdown()
	return root.Execute()
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dir != "" {
		if cfg.Catalog.Path == "" || cfg.Catalog.Path == defaultCatalogPath(cfg.Storage.Dir) {
			cfg.Catalog.Path = defaultCatalogPath(a.dir)
		}
		cfg.Storage.Dir = a.dir
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(a.logger)

	if cfg.Metrics.Enabled {
		a.metricsSrv = metrics.StartMetricsServer(cfg.Metrics.Addr)
	}
	return nil
}

func (a *app) shutdown() {
	if a.metricsSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.metricsSrv.Shutdown(ctx); err != nil {
		a.logger.Warn("metrics server shutdown", "error", err)
	}
}

func defaultCatalogPath(dir string) string {
	cfg := config.Default()
	cfg.Storage.Dir = dir
	cfg.Normalize()
	return cfg.Catalog.Path
}

func (a *app) openLedger() (*ledger.Ledger, error) {
	return ledger.Open(ledger.Config{
		Dir:             a.cfg.Storage.Dir,
		SegmentExt:      a.cfg.Storage.SegmentExt,
		MaxSegmentSize:  a.cfg.Storage.MaxSegmentSize,
		BytesPerSync:    a.cfg.Storage.BytesPerSync,
		MSyncEveryWrite: a.cfg.Storage.MSyncEveryWrite,
		CatalogPath:     a.cfg.Catalog.Path,
		Logger:          a.logger,
	})
}

// withLedger opens the ledger for the duration of fn.
func (a *app) withLedger(fn func(l *ledger.Ledger) error) (err error) {
	l, err := a.openLedger()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := l.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(l)
}

// parseTime accepts epoch milliseconds or RFC3339.
func parseTime(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q; expected epoch ms or RFC3339", s)
	}
	return t.UnixMilli(), nil
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
