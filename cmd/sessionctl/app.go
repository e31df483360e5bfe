package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/jrsteele09/go-clinic-session/credentials"
	"github.com/jrsteele09/go-clinic-session/events"
	"github.com/jrsteele09/go-clinic-session/internal/config"
	"github.com/jrsteele09/go-clinic-session/patient"
	"github.com/jrsteele09/go-clinic-session/staff"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// app is everything a command needs, built from config
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	bus     *events.Bus
	staff   *staff.Gateway
	patient *patient.Gateway
	db      *sql.DB

	staffStore credentials.Store[credentials.StaffCredential]
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

func newApp(cfg config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: newLogger(cfg.GetLogLevel()),
	}
	a.bus = events.NewBus(events.WithLogger(a.logger))
	a.bus.Subscribe(func(e events.SessionExpired) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", e.Scheme, e.Reason)
	})

	staffStore, patientStore, err := a.openStores()
	if err != nil {
		return nil, err
	}

	a.staffStore = staffStore

	httpClient := &http.Client{Timeout: cfg.GetHTTPTimeout()}

	a.staff, err = staff.NewGateway(cfg.GetAPIBaseURL(), staffStore, a.bus,
		staff.WithHTTPClient(httpClient),
		staff.WithLogger(a.logger),
	)
	if err != nil {
		a.close()
		return nil, errors.Wrap(err, "[newApp] staff.NewGateway")
	}

	a.patient, err = patient.NewGateway(cfg.GetPatientAPIBaseURL(), patientStore, a.bus,
		patient.WithHTTPClient(httpClient),
		patient.WithLogger(a.logger),
	)
	if err != nil {
		a.close()
		return nil, errors.Wrap(err, "[newApp] patient.NewGateway")
	}
	return a, nil
}

func (a *app) openStores() (credentials.Store[credentials.StaffCredential], credentials.Store[credentials.PatientCredential], error) {
	if a.cfg.GetCredentialStore() == config.StoreMemory {
		return credentials.NewInMemoryStore[credentials.StaffCredential](),
			credentials.NewInMemoryStore[credentials.PatientCredential](), nil
	}

	db, err := credentials.OpenSQLite(a.cfg.GetCredentialDBPath())
	if err != nil {
		return nil, nil, err
	}
	a.db = db

	options := []credentials.SQLiteOption{credentials.WithLogger(a.logger)}
	if passphrase := a.cfg.GetCredentialPassphrase(); passphrase != "" {
		sealer, err := credentials.SealerForDB(db, passphrase)
		if err != nil {
			a.close()
			return nil, nil, err
		}
		options = append(options, credentials.WithSealer(sealer))
	}

	staffStore, err := credentials.NewSQLiteStore[credentials.StaffCredential](db, credentials.NamespaceStaff, options...)
	if err != nil {
		a.close()
		return nil, nil, err
	}
	patientStore, err := credentials.NewSQLiteStore[credentials.PatientCredential](db, credentials.NamespacePatient, options...)
	if err != nil {
		a.close()
		return nil, nil, err
	}
	return staffStore, patientStore, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

// resolveURL lets commands take either an absolute URL or a path under the API base URL
func resolveURL(base, target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(target, "/")
}
