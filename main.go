package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/lux-meter/internal/attribute"
	"github.com/ztkent/lux-meter/internal/config"
	"github.com/ztkent/lux-meter/internal/illuminance"
	"github.com/ztkent/lux-meter/internal/luxmeter"
	"github.com/ztkent/lux-meter/internal/mqtt"
	"github.com/ztkent/lux-meter/internal/tools"
	"github.com/ztkent/lux-meter/veml7700"
)

/*
	Primary entry point for the Lux Meter application.
	It should be running at startup, on a Raspberry Pi, with the VEML7700 sensor connected.
*/

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, logFile, err := tools.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		logrus.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	veml7700.SetLogger(logger)

	pid := os.Getpid()
	logger.Infof("LuxMeter [%d]", pid)

	// connect to the lux sensor
	bus := veml7700.OpenDevfsBus(cfg.Sensor.Bus)
	defer bus.Close()
	device := veml7700.NewVEML7700(bus, cfg.Sensor.Address)
	if err := device.Initialize(); err != nil {
		// The API stays up so status reports the missing sensor.
		logger.WithError(err).Error("Failed to initialize the VEML7700 sensor")
		device = nil
	} else {
		defer device.Release()
	}

	// expose the light sensor endpoint
	store := attribute.NewStore()
	attribute.NewLightSensorEndpoint(store, cfg.Matter.Endpoint)
	sensor := illuminance.NewSensor(store, cfg.Matter.Endpoint, logger)
	defer sensor.Attach()()
	if err := sensor.SetMinMeasuredValue(cfg.Matter.MinMeasuredValue); err != nil {
		logger.Fatalf("Failed to set MinMeasuredValue: %v", err)
	}
	if err := sensor.SetMaxMeasuredValue(cfg.Matter.MaxMeasuredValue); err != nil {
		logger.Fatalf("Failed to set MaxMeasuredValue: %v", err)
	}

	// connect to the sqlite database
	db, err := tools.ConnectSqlite(cfg.Database.Path, logger)
	if err != nil {
		// Unlike connecting to the sensor, this should always work.
		logger.Fatalf("Failed to connect to the sqlite database: %v", err)
	}
	defer db.Close()

	meter := &luxmeter.LuxMeter{
		VEML7700:       device,
		Sensor:         sensor,
		Store:          store,
		Endpoint:       cfg.Matter.Endpoint,
		ResultsDB:      db,
		DBPath:         cfg.Database.Path,
		LuxResultsChan: make(chan luxmeter.LuxResults),
		Pid:            pid,
		RecordInterval: cfg.Sensor.GetRecordInterval(),
		MaxJobDuration: cfg.Sensor.GetMaxJobDuration(),
		Location:       time.Local,
		Logger:         logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Listen for any result messages from our jobs, record them in sqlite
	go meter.MonitorAndRecordResults(ctx)

	if cfg.MQTT.Broker != "" {
		bridge, err := mqtt.NewBridge(store, sensor, cfg.Matter.Endpoint, mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			ClientID:    cfg.MQTT.ClientID,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("MQTT bridge disabled")
		} else {
			bridge.Start()
			defer bridge.Stop()
		}
	}

	if cfg.Sensor.AutoStart {
		if jobID, err := meter.StartJob(ctx); err != nil {
			logger.WithError(err).Warn("Failed to start sampling job at boot")
		} else {
			logger.WithField("job_id", jobID).Info("Sampling job started at boot")
		}
	}

	// Initialize router
	r := chi.NewRouter()
	// Log requests and recover from panics
	r.Use(middleware.Logger)
	r.Use(handleServerPanic)
	defineRoutes(r, meter)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.GetPort()),
		Handler: r,
	}
	go func() {
		<-ctx.Done()
		shutdown(meter, srv, logger)
	}()

	if cfg.Server.SSL {
		// Generate a self-signed certificate if one doesn't exist
		if err := tools.EnsureCertificate(cfg.Server.CertPath, cfg.Server.KeyPath); err != nil {
			logger.Fatalf("Failed to create certificate: %v", err)
		}
		logger.Infof("Starting HTTPS server on %s", srv.Addr)
		err = srv.ListenAndServeTLS(cfg.Server.CertPath, cfg.Server.KeyPath)
	} else {
		logger.Infof("Starting HTTP server on %s", srv.Addr)
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Failed to start server: %v", err)
	}
}

// shutdown stops the sampling job, then drains the HTTP server.
func shutdown(meter interface{ StopJob() error }, srv *http.Server, logger logrus.FieldLogger) {
	if err := meter.StopJob(); err != nil && !errors.Is(err, luxmeter.ErrNotRunning) {
		logger.WithError(err).Error("Failed to stop sampling job")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to shut the server down")
	}
}

func defineRoutes(r *chi.Mux, meter *luxmeter.LuxMeter) {
	// Lux Meter API, these serve a JSON response
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/status", meter.ServeSensorStatus())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Get("/registers", meter.ServeRegisters())
		r.Get("/attributes", meter.ServeAttributes())
		r.Put("/attributes/measured-value", meter.SetMeasuredValue())

		// history is only served on the local network
		r.Group(func(r chi.Router) {
			r.Use(tools.CheckInNetwork)
			r.Get("/export", meter.ServeResultsDB())
			r.Get("/graph", meter.ServeResultsGraph())
			r.Get("/summary", meter.ServeResultsSummary())
		})
	})

	// Route for service identification
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			ServiceName string `json:"service_name"`
		}{
			ServiceName: "Lux Meter",
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	})
}

func handleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				luxmeter.ServeResponse(w, r, fmt.Sprintf("%v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
