// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/wneessen/location-manager/internal/config"
	"github.com/wneessen/location-manager/internal/geobus"
	"github.com/wneessen/location-manager/internal/location"
	"github.com/wneessen/location-manager/internal/logger"
	"github.com/wneessen/location-manager/internal/metrics"
	"github.com/wneessen/location-manager/internal/position"
	"github.com/wneessen/location-manager/internal/transport"
)

const (
	SessionKey = "location-manager"

	postJobName   = "post_location_job"
	outputJobName = "output_location_job"

	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

type Service struct {
	config    *config.Config
	logger    *logger.Logger
	manager   *location.Manager
	metrics   *metrics.Metrics
	scheduler gocron.Scheduler
	transport transport.Transport

	outputLock sync.Mutex
	output     io.Writer
	background sync.WaitGroup

	// replaced in tests, the default watches logind over the system bus
	sleepMonitor  func(ctx context.Context)
	dialSystemBus func() (systemBus, error)
	lastResume    atomic.Int64
}

// New builds the geolocation providers, the sensor session and the configured transport, and
// registers the resulting Manager as the shared instance.
func New(conf *config.Config, log *logger.Logger) (*Service, error) {
	bus, err := geobus.New(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create geobus: %w", err)
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	service := &Service{
		config:        conf,
		logger:        log,
		metrics:       metrics.New(),
		scheduler:     scheduler,
		output:        os.Stdout,
		dialSystemBus: dialSystemBus,
	}
	service.sleepMonitor = service.monitorSleepResume

	providers, err := service.selectGeobusProviders()
	if err != nil {
		return nil, fmt.Errorf("failed to create geobus providers: %w", err)
	}
	service.transport, err = service.selectTransport(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	session := geobus.NewSession(bus, SessionKey, providers)
	manager, err := location.New(session, service.transport, log, location.WithMetrics(service.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create location manager: %w", err)
	}
	service.manager = manager
	if shared := location.Shared(func() *location.Manager { return manager }); shared != manager {
		log.Warn("a shared location manager is already registered, this service's manager is not shared")
	}

	return service, nil
}

// Run starts location tracking and the scheduled jobs and blocks until ctx is cancelled. The
// scheduler is shut down and the transport closed on every return path.
func (s *Service) Run(ctx context.Context) error {
	if err := s.createScheduledJob(ctx, s.config.Intervals.Post, s.manager.PostCurrentLocation,
		postJobName); err != nil {
		return errors.Join(err, s.shutdown())
	}
	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printLocation,
		outputJobName); err != nil {
		return errors.Join(err, s.shutdown())
	}

	s.manager.StartLocationTracking(ctx)
	s.scheduler.Start()

	if s.config.Metrics.Listen != "" {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.serveMetrics(ctx)
		}()
	}
	if s.sleepMonitor != nil {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.sleepMonitor(ctx)
		}()
	}

	// Wait for the context to cancel
	<-ctx.Done()
	return s.shutdown()
}

// shutdown stops the scheduler and the background monitors, waits for in-flight deliveries and
// closes the transport.
func (s *Service) shutdown() error {
	var err error
	if shutdownErr := s.scheduler.Shutdown(); shutdownErr != nil {
		err = fmt.Errorf("failed to shut down scheduler: %w", shutdownErr)
	}
	s.background.Wait()
	s.manager.Wait()
	if closeErr := s.transport.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close transport: %w", closeErr))
	}
	return err
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// printLocation writes the current location as a JSON line to the output once a fix is known.
func (s *Service) printLocation(context.Context) {
	err := s.manager.UploadCurrentLocation(s.writeLocation)
	if errors.Is(err, location.ErrNoFix) {
		s.logger.Debug("no location fix available yet, skipping output")
		return
	}
	if err != nil {
		s.logger.Error("failed to output current location", logger.Err(err))
	}
}

func (s *Service) writeLocation(pos position.Position) {
	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	if err := json.NewEncoder(s.output).Encode(transport.NewPayload(s.config.DeviceID, pos)); err != nil {
		s.logger.Error("failed to encode location data", logger.Err(err))
	}
}

func (s *Service) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// serveMetrics serves the Prometheus endpoint until ctx is cancelled.
func (s *Service) serveMetrics(ctx context.Context) {
	server := &http.Server{
		Addr:              s.config.Metrics.Listen,
		Handler:           s.metricsMux(),
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shut down metrics server", logger.Err(err))
		}
	}()

	s.logger.Info("serving metrics", slog.String("listen", s.config.Metrics.Listen))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("metrics server failed", logger.Err(err))
	}
}
