// Package daemon runs the HTTP and gRPC liveness services
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faceattend/faceattend/internal/api"
	"github.com/faceattend/faceattend/internal/config"
	"github.com/faceattend/faceattend/internal/engine"
	"github.com/faceattend/faceattend/internal/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// lockoutSweepInterval is how often expired lockouts are dropped
const lockoutSweepInterval = time.Minute

// Daemon serves the liveness API until its context is cancelled
type Daemon struct {
	configPath string
	config     *config.Config
	engine     *engine.Engine
	logger     *logrus.Logger

	httpListener net.Listener
	grpcListener net.Listener
}

// New opens the engine and binds the listeners
func New(ctx context.Context, configPath string, cfg *config.Config, logger *logrus.Logger) (*Daemon, error) {
	e, err := engine.Open(ctx, cfg, logger, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create liveness engine: %w", err)
	}

	d := &Daemon{
		configPath: configPath,
		config:     cfg,
		engine:     e,
		logger:     logger,
	}

	d.httpListener, err = net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address, err)
	}

	if cfg.GRPC.Enabled {
		d.grpcListener, err = net.Listen("tcp", cfg.GRPC.Address)
		if err != nil {
			_ = d.httpListener.Close()
			_ = e.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Address, err)
		}
	}

	return d, nil
}

// HTTPAddr returns the bound HTTP address
func (d *Daemon) HTTPAddr() net.Addr {
	return d.httpListener.Addr()
}

// GRPCAddr returns the bound gRPC address, or nil when gRPC is disabled
func (d *Daemon) GRPCAddr() net.Addr {
	if d.grpcListener == nil {
		return nil
	}
	return d.grpcListener.Addr()
}

// Engine returns the engine backing the services
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Run serves until ctx is cancelled, then shuts the servers down gracefully.
// SIGHUP reloads the liveness settings from the configuration file.
func (d *Daemon) Run(ctx context.Context) error {
	defer func() {
		if err := d.engine.Close(); err != nil {
			d.logger.Errorf("Failed to close engine: %v", err)
		}
	}()

	httpServer := &http.Server{
		Handler:     api.NewRouter(d.engine, d.config.Server, d.logger),
		ReadTimeout: time.Duration(d.config.Server.ReadTimeout) * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Infof("HTTP API listening on %s", d.httpListener.Addr())
		if err := httpServer.Serve(d.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if d.grpcListener != nil {
		grpcServer := rpc.NewServer(d.engine, d.logger)

		g.Go(func() error {
			d.logger.Infof("gRPC API listening on %s", d.grpcListener.Addr())
			if err := grpcServer.Serve(d.grpcListener); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		d.logger.Info("Daemon shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(d.config.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		d.maintain(ctx)
		return nil
	})

	return g.Wait()
}

// maintain handles reload signals and sweeps expired lockouts
func (d *Daemon) maintain(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(lockoutSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigChan:
			d.logger.Info("Received reload signal (SIGHUP)")
			if err := d.Reload(); err != nil {
				d.logger.Errorf("Failed to reload configuration: %v", err)
			}
		case <-ticker.C:
			if n := d.engine.Guard().CleanupExpiredLockouts(); n > 0 {
				d.logger.Debugf("Cleared %d expired lockouts", n)
			}
		}
	}
}

// Reload re-reads the configuration file and applies its liveness section.
// Listener addresses and storage paths only change on restart.
func (d *Daemon) Reload() error {
	newCfg, err := config.Load(d.configPath)
	if err != nil {
		return err
	}
	if err := newCfg.Validate(); err != nil {
		return err
	}
	if err := d.engine.UpdateSettings(newCfg.Liveness); err != nil {
		return err
	}

	d.logger.Info("Configuration reloaded successfully")
	return nil
}
