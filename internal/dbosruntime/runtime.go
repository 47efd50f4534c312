package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
)

// ErrNoDatabaseURL is returned when the DBOS system database is not configured.
var ErrNoDatabaseURL = errors.New("DBOS_SYSTEM_DATABASE_URL is required")

// Runtime owns the durable image queue. Each image is one workflow on the
// queue, so runs submitted before a worker restart resume after it and at
// most Concurrency images are in flight per worker.
type Runtime struct {
	dbosContext dbos.DBOSContext
	queue       *dbos.WorkflowQueue
	config      Config
	db          *sql.DB
}

// NewRuntime connects to the DBOS system database and declares the image
// queue. It returns ErrNoDatabaseURL when cfg has no database.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, ErrNoDatabaseURL
	}
	cfg.WithDefaults()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("create DBOS context: %w", err)
	}

	queue := dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName, cfg.queueOptions()...)

	// Status lookups read the DBOS tables directly
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open status database: %w", err)
	}

	return &Runtime{
		dbosContext: dbosCtx,
		queue:       &queue,
		config:      cfg,
		db:          db,
	}, nil
}

// Launch starts dequeuing images. The integrate and triage workflows must
// be registered before Launch.
func (r *Runtime) Launch() error {
	return dbos.Launch(r.dbosContext)
}

// Shutdown waits up to timeout for in-flight images, then closes the
// status database.
func (r *Runtime) Shutdown(timeout time.Duration) error {
	dbos.Shutdown(r.dbosContext, timeout)
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Context returns the DBOS context workflows are registered and run on.
func (r *Runtime) Context() dbos.DBOSContext {
	return r.dbosContext
}

// QueueName returns the image queue's name.
func (r *Runtime) QueueName() string {
	return r.config.QueueName
}

// Concurrency returns the per-worker limit on images in flight.
func (r *Runtime) Concurrency() int {
	if r.queue != nil && r.queue.WorkerConcurrency != nil {
		return *r.queue.WorkerConcurrency
	}
	return r.config.Concurrency
}
