package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/video-stream/subtitler/internal/api"
	"github.com/video-stream/subtitler/internal/config"
	"github.com/video-stream/subtitler/internal/db"
	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/ffmpeg"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/pipeline"
	"github.com/video-stream/subtitler/internal/render"
	"github.com/video-stream/subtitler/internal/subtitle/ocr"
	"github.com/video-stream/subtitler/internal/subtitle/translate"
	"github.com/video-stream/subtitler/internal/subtitle/whisper"
	"github.com/video-stream/subtitler/internal/task"
)

const shutdownTimeout = 30 * time.Second

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "subtitler",
		Short:         "Burned-in subtitle detection, translation and removal server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", os.Getenv("SUBTITLER_CONFIG"), "Configuration file path")

	rootCmd.AddCommand(newServeCommand(&configFlag))
	rootCmd.AddCommand(newSweepCommand(&configFlag))
	rootCmd.AddCommand(newTasksCommand(&configFlag))
	return rootCmd
}

// runtime holds what every command opens before doing its work.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	database *db.Database
	registry *task.Registry
}

func openRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	database, err := db.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &runtime{
		cfg:      cfg,
		logger:   logger,
		database: database,
		registry: task.NewRegistry(database, cfg.UploadPath, logger),
	}, nil
}

func (rt *runtime) Close() error { return rt.database.Close() }

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	rt, err := openRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	// Nothing survives a restart mid-run
	if n, err := rt.registry.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted tasks: %w", err)
	} else if n > 0 {
		logger.Warn("marked interrupted tasks as failed", "count", n)
	}

	engines, err := buildEngines(ctx, cfg, logger)
	if err != nil {
		return err
	}
	executor := task.NewExecutor(rt.registry, logger, cfg.ProgressInterval())
	svc := pipeline.New(rt.registry, executor, engines, logger)

	go svc.RunSweeper(ctx, cfg.SweepInterval(), cfg.Retention())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewRouter(ctx, svc, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", server.Addr,
			"upload_path", cfg.UploadPath,
			"max_upload", humanize.Bytes(uint64(cfg.MaxUploadBytes())))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("workers did not stop in time", "error", err)
	}
	return nil
}

func buildEngines(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Engines, error) {
	tool := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath, logger)
	caps := tool.Capabilities(ctx)
	encoders := make([]string, len(caps.Encoders))
	for i, enc := range caps.Encoders {
		encoders[i] = enc.Encoder
	}
	logger.Info("hardware detection", "hwaccel", caps.HWAccel, "device", caps.Device, "encoders", strings.Join(encoders, ", "))

	typeface, err := render.LoadTypeface(cfg.FontPath)
	if err != nil {
		return pipeline.Engines{}, fmt.Errorf("load font: %w", err)
	}

	presets := translate.DefaultPresets()
	if cfg.Translate.PresetsPath != "" {
		if presets, err = translate.LoadPresets(cfg.Translate.PresetsPath); err != nil {
			return pipeline.Engines{}, err
		}
	}

	engines := pipeline.Engines{
		Speech:      whisper.NewService(cfg.WhisperURL, cfg.OpenAIKey, cfg.FFmpegPath, logger),
		Media:       tool,
		Compositor:  render.NewCompositor(render.FFmpegMedia(tool), typeface, logger),
		Presets:     presets,
		Translate:   cfg.Translate,
		InpaintBin:  cfg.InpaintBin,
		DefaultLang: "zh",
	}
	// A nil *ocr.Client must not end up inside the interface
	if cfg.OCRURL != "" {
		engines.OCR = ocr.NewClient(cfg.OCRURL)
	}
	return engines, nil
}

func newSweepCommand(configPath *string) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete tasks and files older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if days <= 0 {
				days = rt.cfg.RetentionDays
			}
			n, err := rt.registry.Sweep(cmd.Context(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d task(s) older than %d day(s)\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Age in days (defaults to retention_days)")
	return cmd
}

func newTasksCommand(configPath *string) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			var filter []models.Status
			if status != "" {
				st := models.Status(strings.ToLower(status))
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				filter = append(filter, st)
			}
			tasks, err := rt.registry.List(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTasks(tasks))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show tasks with this status")
	return cmd
}
