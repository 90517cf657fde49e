// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kiosk-control/internal/acceptor"
	"kiosk-control/internal/config"
	"kiosk-control/internal/database"
	"kiosk-control/internal/device"
	"kiosk-control/internal/dispense"
	"kiosk-control/internal/gpio"
	"kiosk-control/internal/handler"
	"kiosk-control/internal/hopper"
	"kiosk-control/internal/link"
	"kiosk-control/internal/model"
	"kiosk-control/internal/payment"
	"kiosk-control/internal/repository"
	"kiosk-control/internal/routes"
	"kiosk-control/internal/service"
	"kiosk-control/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Hardware
	links          *link.Registry
	deviceClient   *device.Client
	actuatorTgt    device.Target
	hopperTgt      device.Target
	sensorLink     *link.Multiplexer
	coinAcceptor   acceptor.Acceptor
	billAcceptor   acceptor.Acceptor
	coinStream     *acceptor.CoinStream // non-nil when coins ride a serial link
	hopperCtl      *hopper.Controller
	monitor        *dispense.Monitor
	coordinator    *dispense.Coordinator
	channelCtl     *gpio.ChannelController
	paymentSession *payment.Session

	// Services
	vendingService  *service.VendingService
	hardwareService *service.HardwareService

	// Repositories
	sessionRepo  repository.SessionRepository
	dispenseRepo repository.DispenseRepository

	// Handlers
	wsHandler *handler.WebSocketHandler
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "kiosk-control")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg.App)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initializeHardware(); err != nil {
		return nil, fmt.Errorf("failed to initialize hardware: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase sets up the audit database. A kiosk without its
// local postgres still vends; persistence is skipped, not fatal.
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Audit database disabled by configuration")
		return nil
	}

	db, err := database.Connect(&app.config.Database, app.logger)
	if err != nil {
		app.logger.Warn("Audit database unavailable, continuing without persistence",
			zap.Error(err),
		)
		return nil
	}
	app.database = db

	migrator := database.NewMigrator(db, app.logger)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.sessionRepo = repository.NewSessionRepository(db, app.logger)
	app.dispenseRepo = repository.NewDispenseRepository(db, app.logger)

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeHardware wires the serial links, acceptors, hopper,
// expansion multiplexer and dispense machinery
func (app *Application) initializeHardware() error {
	cfg := app.config

	app.links = link.NewRegistry(nil, app.logger)
	app.sensorLink = app.links.Open(cfg.Links.Sensor.Port, cfg.Links.Sensor.BaudRate)

	app.deviceClient = device.NewClient(app.logger, nil, nil)
	app.actuatorTgt = boardTarget(cfg.Actuator.Transport, cfg.Actuator.Host, cfg.Actuator.Port,
		cfg.Actuator.SerialPort, cfg.Actuator.BaudRate, cfg.Actuator.EphemeralFallback)
	app.hopperTgt = boardTarget(cfg.Hopper.Transport, cfg.Hopper.Host, cfg.Hopper.Port,
		cfg.Hopper.SerialPort, cfg.Hopper.BaudRate, false)

	app.hopperCtl = hopper.NewController(
		app.deviceClient.Bind(app.hopperTgt),
		hopper.Config{
			CommandTimeout: cfg.Hopper.CommandTimeout,
			Retries:        cfg.Hopper.Retries,
			PerCoinTime:    cfg.Hopper.PerCoinTime,
			TrancheBase:    2 * time.Second,
		},
		app.logger,
	)

	if err := app.initializeAcceptors(); err != nil {
		return err
	}

	var gater payment.PollGater
	if app.coinStream != nil {
		gater = app.coinStream
	}
	app.paymentSession = payment.NewSession(
		app.coinAcceptor, app.billAcceptor, app.hopperCtl, gater, app.logger)

	if cfg.GPIO.Enabled {
		if err := app.initializeChannelController(); err != nil {
			return err
		}
	}

	app.monitor = dispense.NewMonitor(
		app.sensorLink,
		dispense.MonitorConfig{
			Sensors:       cfg.Confirmation.Sensors,
			Mode:          dispense.DetectionMode(cfg.Confirmation.Mode),
			PollInterval:  cfg.Confirmation.PollInterval,
			Samples:       cfg.Confirmation.Samples,
			SampleGap:     cfg.Confirmation.SampleGap,
			Simulate:      cfg.Confirmation.Simulate,
			SimulateDelay: cfg.Confirmation.SimulateDelay,
		},
		app.onDispenseConfirmed,
		app.onDispenseTimeout,
		app.logger,
	)

	var pulser dispense.Pulser
	if app.channelCtl != nil {
		pulser = app.channelCtl
	}
	app.coordinator = dispense.NewCoordinator(
		model.StaticSlotTable(cfg.Slots.Items),
		app.deviceClient.Bind(app.actuatorTgt),
		pulser,
		app.monitor,
		dispense.CoordinatorConfig{
			PulseDuration:  cfg.Actuator.PulseDuration,
			CommandTimeout: cfg.Actuator.CommandTimeout,
			Retries:        cfg.Actuator.Retries,
			ConfirmTimeout: cfg.Actuator.ConfirmTimeout,
			InterUnitDelay: cfg.Actuator.InterUnitDelay,
		},
		app.logger,
	)

	app.logger.Info("Hardware initialized successfully")
	return nil
}

// initializeAcceptors wires the coin and bill money paths
func (app *Application) initializeAcceptors() error {
	cfg := app.config

	switch cfg.Coins.Source {
	case "gpio":
		line, err := gpio.OpenPin(cfg.Coins.PulsePin)
		if err != nil {
			return fmt.Errorf("failed to open coin pulse pin %s: %w", cfg.Coins.PulsePin, err)
		}
		app.coinAcceptor = acceptor.NewPulseAcceptor(gpio.DefaultPulseConfig(), line, app.logger)

	default: // serial
		coinLink := app.links.Open(cfg.Links.Coin.Port, cfg.Links.Coin.BaudRate)
		app.coinStream = acceptor.NewCoinStream(coinLink, acceptor.CoinStreamConfig{
			CoinValues:   cfg.Coins.CoinValues,
			PollBalance:  cfg.Coins.PollBalance,
			PollInterval: cfg.Coins.PollInterval,
		}, app.logger)
		app.coinAcceptor = app.coinStream
	}

	if !cfg.Bills.Enabled {
		return nil
	}

	billCfg := acceptor.BillConfig{
		Port:           cfg.Bills.Port,
		BaudRate:       cfg.Bills.BaudRate,
		DebounceWindow: cfg.Bills.DebounceWindow,
		DetectKeywords: cfg.Bills.DetectKeywords,
	}

	if cfg.Bills.Source == "dedicated" {
		ba, err := acceptor.NewBillAcceptor(billCfg, app.logger)
		if err != nil {
			// A missing validator degrades to coins-only operation.
			app.logger.Warn("Bill validator unavailable", zap.Error(err))
			return nil
		}
		app.billAcceptor = ba
		return nil
	}

	billLink := app.sensorLink
	if cfg.Links.Bill.Port != "" {
		billLink = app.links.Open(cfg.Links.Bill.Port, cfg.Links.Bill.BaudRate)
	}
	app.billAcceptor = acceptor.NewBillAcceptorOnLink(billLink, billCfg, app.logger)
	return nil
}

// initializeChannelController opens the expansion multiplexer pins
func (app *Application) initializeChannelController() error {
	cfg := app.config.GPIO

	var selectors [4]gpio.Line
	for i, name := range cfg.SelectorPins {
		line, err := gpio.OpenPin(name)
		if err != nil {
			return fmt.Errorf("failed to open selector pin %s: %w", name, err)
		}
		selectors[i] = line
	}

	signal, err := gpio.OpenPin(cfg.SignalPin)
	if err != nil {
		return fmt.Errorf("failed to open signal pin %s: %w", cfg.SignalPin, err)
	}

	ctl, err := gpio.NewChannelController(selectors, signal, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize channel controller: %w", err)
	}
	app.channelCtl = ctl
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.wsHandler = handler.NewWebSocketHandler(app.logger)

	app.vendingService = service.NewVendingService(
		app.paymentSession,
		app.coordinator,
		app.sessionRepo,
		app.dispenseRepo,
		app.wsHandler,
		app.config,
		app.logger,
	)

	app.hardwareService = service.NewHardwareService(
		app.sensorLink,
		app.deviceClient,
		app.actuatorTgt,
		app.hopperCtl,
		app.hopperTgt,
		app.coordinator,
		app.config.Confirmation.Sensors,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
	return nil
}

// onDispenseConfirmed bridges the monitor to the vending service; the
// monitor is built before the service exists
func (app *Application) onDispenseConfirmed(req model.DispenseRequest, elapsed time.Duration) {
	if app.vendingService != nil {
		app.vendingService.OnDispenseConfirmed(req, elapsed)
	}
}

// onDispenseTimeout bridges the monitor to the vending service
func (app *Application) onDispenseTimeout(req model.DispenseRequest) {
	if app.vendingService != nil {
		app.vendingService.OnDispenseTimeout(req)
	}
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.links,
		app.vendingService,
		app.hardwareService,
		app.wsHandler,
	)

	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)

	return nil
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	go app.startHardwareBroadcast()

	if app.database != nil {
		go app.startCleanupService()
	}

	app.logger.Info("Background services started")
}

// startHardwareBroadcast periodically pushes the hardware snapshot to
// websocket clients
func (app *Application) startHardwareBroadcast() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		report := app.hardwareService.Status(ctx)
		cancel()

		app.wsHandler.PublishKioskEvent("hardware_status", map[string]interface{}{
			"report": report,
		})
	}
}

// startCleanupService prunes old audit rows
func (app *Application) startCleanupService() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	migrator := database.NewMigrator(app.database, app.logger)

	for range ticker.C {
		if err := migrator.RunCleanup(); err != nil {
			app.logger.Error("Audit cleanup failed", zap.Error(err))
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "kiosk-control")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// A stuck relay must not survive process death.
	app.hopperCtl.EnsureRelaysOff(ctx)

	app.monitor.Stop()

	if app.coinAcceptor != nil {
		app.coinAcceptor.Close()
	}
	if app.billAcceptor != nil {
		app.billAcceptor.Close()
	}

	app.deviceClient.CloseAll()
	app.links.CloseAll()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// boardTarget converts board configuration to a device target
func boardTarget(transport, host string, port int, serialPort string, baud int, ephemeral bool) device.Target {
	if transport == "serial" {
		if baud <= 0 {
			baud = device.DefaultSerialBaud
		}
		return device.Target{
			Kind:       device.TransportSerial,
			SerialPath: serialPort,
			BaudRate:   baud,
		}
	}

	if port <= 0 {
		port = device.DefaultTCPPort
	}
	return device.Target{
		Kind:              device.TransportTCP,
		Host:              host,
		Port:              port,
		EphemeralFallback: ephemeral,
	}
}

func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()

	app.waitForShutdown()

	return nil
}
