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
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"daygrid/internal/agenda"
	"daygrid/internal/capture"
	"daygrid/internal/config"
	appLog "daygrid/internal/log"
	"daygrid/internal/metrics"
	"daygrid/internal/render"
	"daygrid/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	date       string
	format     string
	out        string
	debug      bool
}

func main() {
	if err := run(); err != nil {
		appLog.Error("daygrid failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Sync()
}

func run() error {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	if err := appLog.Setup(conf.Log.Level, conf.Log.Format); err != nil {
		return err
	}
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("daygrid starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"step", conf.Layout.Step,
		"orientation", conf.Layout.Orientation,
		"ics_count", len(conf.ICS),
		"item_count", len(conf.Items),
		"once", flags.once,
	)

	// Root context cancelled on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	svc, err := agenda.New(conf, agenda.WithMetrics(m))
	if err != nil {
		return err
	}

	if flags.once {
		return runOnce(ctx, svc, conf, flags)
	}
	return serve(ctx, svc, conf, m)
}

// runOnce refreshes, lays out one day and writes it as JSON or SVG.
func runOnce(ctx context.Context, svc *agenda.Service, conf *config.Config, flags flagConfig) error {
	if err := svc.Refresh(ctx); err != nil {
		// Static items still render.
		appLog.Error("refresh failed; continuing with cached agenda", err)
	}

	day := time.Now().In(svc.Location())
	if flags.date != "" {
		d, err := time.ParseInLocation(time.DateOnly, flags.date, svc.Location())
		if err != nil {
			return fmt.Errorf("-date %q: %w", flags.date, err)
		}
		day = d
	}

	scale, err := conf.Layout.Scale()
	if err != nil {
		return err
	}
	sm, err := svc.ScaledDay(day, agenda.LayoutOptions{Step: svc.Step(), Scale: scale})
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if flags.out != "" {
		f, err := os.Create(flags.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	switch flags.format {
	case "svg":
		return render.SVG(w, sm, render.Options{})
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sm)
	default:
		return fmt.Errorf("-format %q: want json or svg", flags.format)
	}
}

// serve runs the HTTP server and the refresh scheduler until ctx is done.
func serve(ctx context.Context, svc *agenda.Service, conf *config.Config, m *metrics.Metrics) error {
	var hooks []agenda.Hook
	if conf.Capture.Enabled {
		user, pass := "", ""
		if conf.BasicAuth != nil {
			user, pass = conf.BasicAuth.Username, conf.BasicAuth.Password
		}
		opts := capture.Options{
			URL:        capture.DayURL(conf.Listen, user, pass),
			OutputPath: conf.Capture.Output,
			Width:      conf.Capture.Width,
			Height:     conf.Capture.Height,
		}
		hooks = append(hooks, func(ctx context.Context) error {
			return capture.DayPNG(ctx, opts)
		})
	}

	sched, err := agenda.NewScheduler(svc, conf.RefreshCron, conf.Location(), hooks...)
	if err != nil {
		return err
	}
	srv := web.NewServer(conf, svc, m)
	// Bound before the first refresh so the capture hook can reach /day.svg.
	ln, err := srv.Listen()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	g.Go(func() error {
		if err := sched.RunOnce(gctx); err != nil {
			appLog.Error("initial refresh failed", err)
		}
		sched.Start()
		appLog.Info("next refresh scheduled", "at", sched.Next().Format(time.RFC3339))

		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return sched.Stop(stopCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appLog.Info("daygrid exiting")
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh, print one day layout and exit")
	flag.StringVar(&cfg.date, "date", "", "Day to lay out with -once (YYYY-MM-DD, default today)")
	flag.StringVar(&cfg.format, "format", "json", "Output format with -once: json or svg")
	flag.StringVar(&cfg.out, "out", "", "Output file with -once (default stdout)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
