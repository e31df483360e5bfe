package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/jrsteele09/go-clinic-session/credentials"
	"github.com/jrsteele09/go-clinic-session/internal/config"
	"github.com/jrsteele09/go-clinic-session/internal/fakebackend"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Demo accounts seeded into the fake backend
const (
	demoStaffEmail    = "admin@clinic.test"
	demoStaffPassword = "password"
	demoPatientPhone  = "+15550100"
	demoClinicID      = "clinic-1"
)

func newFakeBackendCommand() *cobra.Command {
	var addr, prefix string

	cmd := &cobra.Command{
		Use:   "fake-backend",
		Short: "Serve an in-memory clinic backend for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return run(cfg, addr, prefix)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":3001", "listen address")
	cmd.Flags().StringVar(&prefix, "prefix", "/api", "path prefix the routes are mounted under")
	return cmd
}

func run(cfg config.Config, addr, prefix string) (returnError error) {
	logger := newLogger(cfg.GetLogLevel())
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	displayAppname(cfg.GetAppName())

	backend := fakebackend.New(
		fakebackend.WithLogger(logger),
		fakebackend.WithSMSSender(func(phone, code string) {
			logger.Info().Str("phone", phone).Str("code", code).Msg("SMS passcode")
		}),
	)
	if err := seedDemoAccounts(backend); err != nil {
		return err
	}

	var handler http.Handler = backend.Handler()
	if prefix = strings.TrimRight(prefix, "/"); prefix != "" {
		handler = http.StripPrefix(prefix, handler)
	}

	server := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		errCh <- listenAndServe(server, logger)
	}()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	returnError = shutdown(server)
	logger.Info().Msg("Server stopped")
	return returnError
}

func seedDemoAccounts(backend *fakebackend.Backend) error {
	err := backend.AddStaff(demoStaffEmail, demoStaffPassword, credentials.User{
		ID:         "user-1",
		Name:       "Demo Admin",
		Role:       credentials.RoleClinicAdmin,
		ClinicID:   demoClinicID,
		ClinicName: "Demo Clinic",
	})
	if err != nil {
		return err
	}
	backend.AddPatient(demoPatientPhone, demoClinicID, credentials.Patient{
		ID:         "patient-1",
		PatientID:  "P-0001",
		Name:       "Demo Patient",
		ClinicID:   demoClinicID,
		ClinicName: "Demo Clinic",
	})
	return nil
}

func listenAndServe(server *http.Server, logger zerolog.Logger) error {
	logger.Info().Str("addr", server.Addr).Msgf("Server listening, staff login %s / %s", demoStaffEmail, demoStaffPassword)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
