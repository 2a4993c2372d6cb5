package app

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meterrelay/internal/camera"
	"meterrelay/internal/camera/opencv"
	"meterrelay/internal/config"
	"meterrelay/internal/device"
	"meterrelay/internal/hardware"
	"meterrelay/internal/logger"
	"meterrelay/internal/metrics"
	"meterrelay/internal/monitor"
	"meterrelay/internal/repository"
	"meterrelay/internal/repository/memory"
	"meterrelay/internal/repository/sqlite"
	"meterrelay/internal/service/cycle"
	"meterrelay/internal/service/delivery"
	"meterrelay/internal/service/health"
	"meterrelay/internal/service/relay"
	"meterrelay/internal/service/storage"
	"meterrelay/internal/service/telemetry"
	"meterrelay/internal/vision"
)

const (
	// libcameraTimeout bounds one still capture on top of the settle time.
	libcameraTimeout = 30 * time.Second
	// shutdownGrace is how long Run waits for the in-flight stage after a signal.
	shutdownGrace = 10 * time.Second
)

type App struct {
	config       *config.Config
	logger       *logger.Logger
	profile      device.Profile
	db           *sqlite.DB
	detector     *vision.ArucoDetector
	health       *health.Writer
	orchestrator *cycle.Orchestrator
	monitor      *monitor.Server
	// abandoned is set when Run returned with the cycle goroutine still live.
	abandoned bool
}

// New resolves the device profile and wires every component. Errors are
// configuration or credential problems the process cannot run without.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	profile, err := device.Lookup(cfg.CredentialStorePath, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load device profile: %w", err)
	}

	a := &App{config: cfg, logger: log, profile: profile}
	m := metrics.New(prometheus.NewRegistry())

	var imageRepo repository.ImageRepository
	var backlog repository.BacklogRepository
	if cfg.DatabasePath != "" {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.db = db
		imageRepo = sqlite.NewImageRepository(db)
		backlog = sqlite.NewBacklogRepository(db, cfg.BacklogCapacity)
	} else {
		log.Warning("DB_PATH is empty, backlog will not survive restarts")
		backlog = memory.NewBacklog(cfg.BacklogCapacity)
	}

	transport, err := newTransport(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.detector = vision.NewArucoDetector()
	a.health = health.NewWriter(cfg.HealthFile, cfg.DeviceID, log)

	components := cycle.Components{
		Capturer:  a.newController(),
		Extractor: vision.NewExtractor(a.detector, vision.Layout(cfg.MarkerIDs()), cfg.ROIPaddingPercent, log),
		Store:     storage.NewStore(cfg.ImageDirectory, cfg.DeviceID, vision.JPEGEncoder{Quality: cfg.JPEGQuality}, imageRepo, log),
		Delivery: delivery.NewAgent(transport, delivery.Options{
			RetryDelays: cfg.UploadRetryDelays,
			Verify:      cfg.VerifyUploads,
			MaxRequeues: cfg.BacklogMaxRequeues,
		}, backlog, log, m),
		Reporter: telemetry.NewReporter(telemetry.Config{
			UpdateURL:   cfg.TelemetryURL,
			WriteKey:    profile.ThingSpeakWriteKey,
			MinInterval: cfg.TelemetryMinInterval,
			Attempts:    cfg.TelemetryAttempts,
			RetryPause:  cfg.TelemetryRetryPause,
			Timeout:     cfg.TelemetryTimeout,
		}, log, m),
		Disk:    storage.NewDiskChecker(cfg.ImageDirectory, cfg.MinFreeBytes),
		Health:  a.health,
		Metrics: m,
	}

	telegram := relay.NewTelegram(relay.Config{
		APIURL:      cfg.TelegramAPIURL,
		Token:       profile.TelegramBotToken,
		ChatID:      profile.TelegramChatID,
		RetryDelays: cfg.TelegramRetryDelays,
		Timeout:     cfg.TelegramTimeout,
	}, log, m)
	if telegram.Enabled() {
		components.Relay = telegram
	} else {
		log.Info("Telegram relay disabled: no bot token or chat id for %s", profile.DeviceID)
	}

	if cfg.StatusAddr != "" {
		hub := monitor.NewHub(log)
		a.monitor = monitor.NewServer(cfg.StatusAddr, hub, monitor.Sources{
			Health:  a.health,
			Images:  imageRepo,
			Metrics: m,
			LogDir:  cfg.LogDirectory,
		}, log)
		components.Notifier = hub
	}

	a.orchestrator = cycle.New(components, cycle.Options{
		Interval:        cfg.CaptureInterval,
		CaptureAttempts: cfg.CaptureAttempts,
		KeepImages:      cfg.KeepImages,
		Destination:     profile.DestinationID,
		MetricsTextfile: cfg.MetricsTextfile,
		NodeName:        profile.NodeName,
	}, log)

	return a, nil
}

// newController builds the acquisition controller. A missing capture stack or
// GPIO line is logged and does not stop the process; cycles then fail with a
// hardware fault that shows up in health and telemetry.
func (a *App) newController() *camera.Controller {
	cfg := a.config

	sel, err := camera.Detect(cfg.CameraBackend, cfg.CameraDevice, exec.LookPath, os.Stat)
	if err != nil {
		a.logger.Error("Camera detection failed: %v", err)
	}
	backend := selectBackend(sel, err, cfg.CameraDevice)
	a.logger.Info("Camera backend: %s %s", backend.Name(), sel.Path)

	var line hardware.Line = hardware.NoopLine{}
	if cfg.LEDPin != "" {
		indicator, err := hardware.Open(cfg.LEDPin)
		if err != nil {
			a.logger.Error("Indicator line unavailable, capturing without it: %v", err)
		} else {
			line = indicator
		}
	}

	return camera.NewController(backend, line, camera.Settings{
		Width:      cfg.ResolutionWidth,
		Height:     cfg.ResolutionHeight,
		Rotation:   cfg.Rotation,
		FocusDelay: cfg.FocusDelay,
	}, camera.Timing{
		Warmup:      cfg.WarmupDelay,
		Focus:       cfg.FocusDelay,
		PostCapture: cfg.PostCaptureDelay,
		RetryPause:  cfg.CaptureRetryPause,
	}, a.logger)
}

func selectBackend(sel camera.Selection, detectErr error, deviceIndex int) camera.Backend {
	if detectErr != nil {
		return camera.Unavailable{Err: detectErr}
	}
	switch sel.Kind {
	case camera.KindLibcamera:
		return &opencv.LibcameraBackend{Binary: sel.Path, Timeout: libcameraTimeout}
	case camera.KindV4L2:
		return &opencv.V4L2Backend{Index: deviceIndex, Discard: 1}
	default:
		return camera.Unavailable{Err: fmt.Errorf("%w: unknown kind %q", camera.ErrNoBackend, sel.Kind)}
	}
}

func newTransport(ctx context.Context, cfg *config.Config) (delivery.Transport, error) {
	switch cfg.DeliveryBackend {
	case "s3":
		t, err := delivery.NewS3Transport(ctx, delivery.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			KeyPrefix:       cfg.S3KeyPrefix,
			Timeout:         cfg.UploadTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure s3 transport: %w", err)
		}
		return t, nil
	case "rclone", "":
		return delivery.NewRcloneTransport(cfg.RcloneBinary, cfg.RcloneRemote, cfg.UploadTimeout, cfg.ConnectTimeout), nil
	default:
		return nil, fmt.Errorf("unknown delivery backend %q", cfg.DeliveryBackend)
	}
}

// Run starts the cycle loop (or a single cycle when once is set) and blocks
// until it ends or SIGINT/SIGTERM arrives. On a signal the indicator is
// forced LOW and the final health snapshot is written before returning.
func (a *App) Run(ctx context.Context, once bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if a.monitor != nil {
		if _, err := a.monitor.Start(ctx); err != nil {
			a.logger.Error("Status server disabled: %v", err)
			a.monitor = nil
		}
	}

	a.logger.Info("meterrelay started: device=%s node=%s", a.config.DeviceID, a.profile.NodeName)

	errChan := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("cycle loop panic: %v", r)
			}
		}()
		if once {
			res := a.orchestrator.RunCycle(ctx)
			a.logger.Info("Single cycle finished with status %d (%s)", int(res.Status), res.Message)
			errChan <- nil
			return
		}
		errChan <- a.orchestrator.Run(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		a.logger.Info("Received %s, shutting down", sig)
		a.orchestrator.Shutdown(fmt.Sprintf("received %s", sig))
		var finished bool
		finished, runErr = a.awaitCycle(errChan, sigChan, shutdownGrace)
		a.abandoned = !finished
	case runErr = <-errChan:
		if runErr != nil {
			a.logger.Error("Cycle loop stopped: %v", runErr)
			a.orchestrator.Shutdown(runErr.Error())
		} else {
			a.orchestrator.Shutdown("exited")
		}
	}
	return runErr
}

// awaitCycle waits for the cycle goroutine after shutdown was requested. Past
// grace it keeps waiting, since the goroutine may still write to the
// database, unless a second signal arrives.
func (a *App) awaitCycle(errChan <-chan error, sigChan <-chan os.Signal, grace time.Duration) (bool, error) {
	select {
	case err := <-errChan:
		return true, err
	case <-time.After(grace):
		a.logger.Warning("In-flight stage did not finish within %s, waiting (signal again to force exit)", grace)
	}
	select {
	case err := <-errChan:
		return true, err
	case sig := <-sigChan:
		a.logger.Error("Received %s, abandoning in-flight stage", sig)
		return false, nil
	}
}

// Close releases the status server, the detector and the database. After an
// abandoned cycle only the status server is shut down.
func (a *App) Close() {
	if a.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.monitor.Shutdown(ctx); err != nil {
			a.logger.Warning("Status server shutdown: %v", err)
		}
		cancel()
	}
	if a.abandoned {
		// the cycle goroutine may still hold both
		a.logger.Warning("Leaving detector and database open for the abandoned cycle")
		return
	}
	if a.detector != nil {
		a.detector.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warning("Error closing database: %v", err)
		}
	}
}
