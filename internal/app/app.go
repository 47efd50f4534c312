// Package app wires the pipeline components from the process environment.
package app

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/engine"
	"github.com/tendant/xtal-pipeline/internal/engine/httpengine"
	"github.com/tendant/xtal-pipeline/internal/engine/imagespots"
	"github.com/tendant/xtal-pipeline/internal/ledger"
	"github.com/tendant/xtal-pipeline/internal/logging"
	"github.com/tendant/xtal-pipeline/internal/metrics"
	"github.com/tendant/xtal-pipeline/internal/storage"
	"github.com/tendant/xtal-pipeline/internal/workflows"
	"github.com/tendant/xtal-pipeline/pkg/runner"
)

// Env is the environment both binaries read.
type Env struct {
	EngineURL    string  // ENGINE_URL: remote engine service; empty runs spot finding only
	EngineRPS    float64 // ENGINE_RPS: request pacing towards the engine, 0 = unlimited
	LocalSpots   bool    // LOCAL_SPOTFINDER: find spots in-process even with a remote engine
	LedgerDriver string  // LEDGER_DRIVER: postgres or sqlite
	LedgerDSN    string  // LEDGER_DSN: empty disables the ledger
	ParamsFile   string  // XTAL_PARAMS: YAML settings file
	StorageDir   string  // STORAGE_DIR: root for artifacts; empty writes to the given paths
	LogLevel     string  // LOG_LEVEL
}

// EnvFromOS reads Env from the process environment.
func EnvFromOS() Env {
	e := Env{
		EngineURL:    os.Getenv("ENGINE_URL"),
		LedgerDriver: os.Getenv("LEDGER_DRIVER"),
		LedgerDSN:    os.Getenv("LEDGER_DSN"),
		ParamsFile:   os.Getenv("XTAL_PARAMS"),
		StorageDir:   os.Getenv("STORAGE_DIR"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
	}
	if v, err := strconv.ParseFloat(os.Getenv("ENGINE_RPS"), 64); err == nil {
		e.EngineRPS = v
	}
	if v, err := strconv.ParseBool(os.Getenv("LOCAL_SPOTFINDER")); err == nil {
		e.LocalSpots = v
	}
	if e.LedgerDriver == "" {
		e.LedgerDriver = ledger.DriverSQLite
	}
	return e
}

// Engine composes the engine for e. Without ENGINE_URL only spot finding
// is available, which is enough for triage.
func (e Env) Engine() engine.Engine {
	if e.EngineURL == "" {
		return engine.Composite{Spots: imagespots.New()}
	}
	remote := httpengine.New(e.EngineURL, httpengine.WithRateLimit(e.EngineRPS, 1))
	c := engine.Composite{
		Spots:       remote,
		Indexing:    remote,
		Candidates:  remote,
		Refinement:  remote,
		Integration: remote,
	}
	if e.LocalSpots {
		c.Spots = imagespots.New()
	}
	return c
}

// Params loads the settings file, or the defaults when none is set.
// flagPath overrides XTAL_PARAMS.
func (e Env) Params(flagPath string) (config.Params, error) {
	path := flagPath
	if path == "" {
		path = e.ParamsFile
	}
	if path == "" {
		return config.DefaultParams(), nil
	}
	p, err := config.LoadParams(path)
	if err != nil {
		return config.Params{}, err
	}
	return *p, nil
}

// Pipeline builds everything the workflows need. reg may be nil to skip
// metrics.
func (e Env) Pipeline(params config.Params, reg prometheus.Registerer) (runner.Pipeline, error) {
	base, err := config.BaseProcessing(params)
	if err != nil {
		return runner.Pipeline{}, err
	}
	store, err := storage.NewFilesystemStorage(e.StorageDir)
	if err != nil {
		return runner.Pipeline{}, fmt.Errorf("failed to initialize storage: %w", err)
	}
	p := runner.Pipeline{
		Engine: e.Engine(),
		Params: params,
		Base:   base,
		Store:  store,
	}
	if reg != nil {
		p.Metrics = metrics.New(reg)
	}
	return p, nil
}

// AttachLedger opens the run ledger and makes r record into it. It returns
// a nil close func when no ledger is configured.
func (e Env) AttachLedger(ctx context.Context, r *workflows.WorkflowRunner) (func() error, error) {
	if e.LedgerDSN == "" {
		return func() error { return nil }, nil
	}
	l, err := ledger.Open(ctx, e.LedgerDriver, e.LedgerDSN)
	if err != nil {
		return nil, err
	}
	r.SetRecorder(l)
	logging.Info("Run ledger enabled", "driver", e.LedgerDriver)
	return l.Close, nil
}
