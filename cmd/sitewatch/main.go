package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sitewatch/internal/auth"
	"sitewatch/internal/camera"
	"sitewatch/internal/config"
	"sitewatch/internal/controller"
	"sitewatch/internal/database"
	"sitewatch/internal/detection"
	"sitewatch/internal/health"
	"sitewatch/internal/pipeline"
	"sitewatch/internal/server"
	"sitewatch/internal/services"
	"sitewatch/internal/storage"
	"sitewatch/internal/telegram"
	"sitewatch/internal/ws"
)

func main() {
	var (
		httpAddrF = flag.String("http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
		grpcAddrF = flag.String("grpc-addr", "", "gRPC health listen address (overrides GRPC_ADDR)")
		startF    = flag.Bool("start", false, "Start capturing immediately")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)
	if *httpAddrF != "" {
		cfg.HTTPAddr = *httpAddrF
	}
	if *grpcAddrF != "" {
		cfg.GRPCAddr = *grpcAddrF
	}

	// goa middleware logs through a std logger; route it into zerolog.
	logger := stdlog.New(log.Logger.With().Str("component", "http").Logger(), "", 0)

	if err := os.MkdirAll(cfg.SavePath, 0o755); err != nil {
		log.Fatal().Err(err).Str("path", cfg.SavePath).Msg("failed to create storage root")
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("path", dir).Msg("failed to create database directory")
		}
	}

	db, err := database.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sources := make([]camera.Source, len(cfg.Cameras))
	for i, url := range cfg.Cameras {
		cam := camera.New(i, url, camera.Config{Timeout: cfg.CameraTimeout, FFmpegPath: cfg.FFmpegPath})
		if err := db.RegisterCamera(ctx, i, cam.URL()); err != nil {
			log.Fatal().Err(err).Int("camera", i).Msg("failed to register camera")
		}
		log.Info().Int("camera", i).Str("url", cam.URL()).Msg("camera configured")
		sources[i] = cam
	}

	settings, err := db.LoadSettings(ctx, database.Settings{Interval: cfg.CaptureInterval})
	if err != nil {
		log.Warn().Err(err).Msg("ignoring stored settings")
		settings = database.Settings{Interval: cfg.CaptureInterval}
	}

	detector := detection.NewClient(detection.Config{Endpoint: cfg.DetectorURL, Timeout: cfg.DetectorTimeout})

	bus := pipeline.NewEventBus()
	defer bus.Close()
	hub := ws.NewDetectionHub()
	bus.Subscribe(pipeline.AllCameras, hub)

	var wg sync.WaitGroup

	bot := telegram.NewBot(telegram.Config{
		BotToken:        cfg.TelegramToken,
		ChatID:          cfg.TelegramChatID,
		Enabled:         cfg.TelegramEnabled(),
		CooldownSeconds: int(cfg.AlertCooldown / time.Second),
	})
	sinkCfg := storage.Config{Root: cfg.SavePath, Index: db, Events: bus}
	if bot.IsEnabled() {
		if err := telegram.ValidateConfig(telegram.Config{
			BotToken: cfg.TelegramToken,
			ChatID:   cfg.TelegramChatID,
			Enabled:  true,
		}); err != nil {
			log.Fatal().Err(err).Msg("invalid telegram configuration")
		}
		dispatcher := telegram.NewDispatcher(bot, cfg.AlertBacklog)
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher.Run(ctx)
		}()
		sinkCfg.Alerter = dispatcher
	} else {
		log.Warn().Msg("telegram not configured, alerts are disabled")
	}
	sink := storage.NewSink(sinkCfg)

	healthSrv := health.New(cfg.GRPCAddr)

	ctrl := controller.New(sources, detector, sink, controller.Config{
		Interval:       settings.Interval,
		Armed:          settings.Armed,
		Tick:           cfg.CaptureTick,
		QueueCapacity:  cfg.QueueCapacity,
		DequeueTimeout: cfg.DequeueTimeout,
		FrameBufferCap: cfg.FrameBufferCap,
		OnChange: func(s controller.State) {
			healthSrv.SetCapturing(s.Capturing)
			persist := database.Settings{Interval: s.Interval, Armed: s.Armed}
			if err := db.SaveSettings(context.Background(), persist); err != nil {
				log.Error().Err(err).Msg("failed to persist settings")
			}
		},
	})

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Enabled:  cfg.AuthEnabled,
		Username: cfg.AuthUsername,
		Password: cfg.AuthPassword,
		Secret:   cfg.JWTSecret,
		Expiry:   cfg.JWTExpiry,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize authentication")
	}

	// Initialize the services.
	var (
		controlSvc = services.NewControlService(ctrl, sink, db)
		healthSvc  = services.NewHealthService(map[string]services.Pinger{"database": db})
		authSvc    = services.NewAuthService(authenticator)
	)

	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	if err := healthSrv.Start(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("failed to start gRPC health server")
	}

	handler := server.New(server.Config{
		Control:     controlSvc,
		Health:      healthSvc,
		Auth:        authSvc,
		Validator:   authenticator,
		Detections:  ws.NewHandler(hub, len(sources)),
		Logger:      logger,
		DebugWriter: debugWriter(*dbgF),
	})
	handleHTTPServer(ctx, cfg.HTTPAddr, handler, &wg, errc, logger)

	if bot.IsEnabled() {
		commands := telegram.NewCommandHandler(bot, controlSvc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := commands.StartPolling(ctx); err != nil {
				log.Error().Err(err).Msg("telegram polling stopped")
			}
		}()
	}

	if *startF {
		ctrl.Start()
	}

	log.Info().Msgf("exiting (%v)", <-errc)

	ctrl.Stop()
	cancel()
	wg.Wait()
	healthSrv.Stop()

	log.Info().Msg("exited")
}

// setupLogger configures the global zerolog logger.
func setupLogger(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	log.Logger = log.With().Str("service", "sitewatch").Logger()
}
