// Package rpglot wires the collector pipeline, rate derivation and the
// storage engine into the running agent.
package rpglot

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vadv/rpglot/internal/collector"
	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/log"
	"github.com/vadv/rpglot/internal/model"
	"github.com/vadv/rpglot/internal/postgres"
	"github.com/vadv/rpglot/internal/rates"
	"github.com/vadv/rpglot/internal/storage"
	"github.com/vadv/rpglot/internal/view"
)

// Agent is the running rpglot instance: one ticker, one storage manager,
// one set of rate states. Rate state lives for the process lifetime and is
// never persisted.
type Agent struct {
	config    *Config
	collector *collector.Collector
	manager   *storage.Manager
	metrics   *selfMetrics
	registry  *prometheus.Registry

	mu         sync.RWMutex
	latest     *model.Snapshot
	statements *rates.StatementsState
	plans      *rates.PlansState
	tables     *rates.TablesState
	indexes    *rates.IndexesState
}

// NewAgent builds the agent from a validated config.
func NewAgent(config *Config) (*Agent, error) {
	manager, err := storage.NewManager(config.StorageDir)
	if err != nil {
		return nil, err
	}

	c := collector.New(config.ProcPath)
	if config.ForceCgroup {
		c.ForceCgroup(config.CgroupPath)
	}

	if !config.NoPostgres {
		var pg *postgres.Collector
		if config.ConnString != "" {
			pg = postgres.NewCollector(config.ConnString)
		} else {
			pg, err = postgres.NewCollectorFromEnv()
			if err != nil {
				log.Warnf("postgres collector disabled: %s", err)
			}
		}
		if pg != nil {
			pg.SetStatementsCacheInterval(config.StatementsCacheInterval)
			if err := pg.TryConnect(); err != nil {
				log.Warnf("initial PostgreSQL connect failed: %s; will retry", err)
			}
			c.WithPostgres(pg)
		}
	}

	registry := prometheus.NewRegistry()

	return &Agent{
		config:     config,
		collector:  c,
		manager:    manager,
		metrics:    newSelfMetrics(registry),
		registry:   registry,
		statements: rates.NewStatementsState(),
		plans:      rates.NewPlansState(),
		tables:     rates.NewTablesState(),
		indexes:    rates.NewIndexesState(),
	}, nil
}

// Start runs the tick loop, the retention loop and the self-metrics
// listener until the context is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	log.Infof("starting agent: storage %s, tick %s", a.config.StorageDir, a.config.TickInterval)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return a.runTicker(ctx) })
	group.Go(func() error { return a.runRotation(ctx) })
	group.Go(func() error { return a.runMetricsListener(ctx) })

	err := group.Wait()

	a.collector.Close()
	if closeErr := a.manager.Close(); closeErr != nil {
		log.Warnf("close storage manager failed: %s", closeErr)
	}
	return err
}

func (a *Agent) runTicker(ctx context.Context) error {
	ticker := time.NewTicker(a.config.TickInterval)
	defer ticker.Stop()

	// collect once immediately so the views have data before the first
	// interval elapses
	a.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("exit signaled, stop collection")
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// tick runs one collection cycle: collect, derive rates, persist.
func (a *Agent) tick(ctx context.Context) {
	start := time.Now()

	snapshot := a.collector.CollectSnapshot(ctx)

	a.mu.Lock()
	a.latest = snapshot
	a.statements.Update(snapshot)
	a.plans.Update(snapshot)
	a.tables.Update(snapshot)
	a.indexes.Update(snapshot)
	a.mu.Unlock()

	flushed, err := a.manager.AddSnapshot(snapshot, a.collector.Interner())
	if err != nil {
		// out-of-disk and friends: surfaced, tick counts as failed
		log.Errorf("persist snapshot failed: %s", err)
	}
	if flushed {
		// interner cleared atomically with the WAL truncation boundary
		a.collector.ClearInterner()
		a.metrics.chunkFlushes.Inc()
	}

	a.metrics.ticksTotal.Inc()
	a.metrics.tickSeconds.Observe(time.Since(start).Seconds())
	a.metrics.walEntries.Set(float64(a.manager.CurrentChunkSize()))
	if a.collector.PgLastError() != "" {
		a.metrics.pgErrorsTotal.Inc()
	}
}

func (a *Agent) runRotation(ctx context.Context) error {
	ticker := time.NewTicker(a.config.RotateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result, err := a.manager.Rotate(a.config.Rotation())
			if err != nil {
				log.Errorf("rotation failed: %s", err)
				continue
			}
			if result.FilesRemovedByAge > 0 || result.FilesRemovedBySize > 0 {
				a.metrics.rotationsTotal.Inc()
				a.metrics.bytesFreed.Add(float64(result.BytesFreed))
			}
		}
	}
}

func (a *Agent) runMetricsListener(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, err := w.Write([]byte(`<html>
			<head><title>rpglot</title></head>
			<body>
			<h1>rpglot PostgreSQL observability agent</h1>
			<p><a href="/metrics">Metrics</a></p>
			</body>
			</html>`))
		if err != nil {
			log.Warnln("response write failed: ", err)
		}
	})

	server := &http.Server{Addr: a.config.ListenAddress, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("accepting requests on http://%s/metrics", a.config.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("exit signaled, stop metrics listener")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// LatestSnapshot returns the most recent snapshot, nil before the first
// tick.
func (a *Agent) LatestSnapshot() *model.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Manager exposes the storage manager for history queries.
func (a *Agent) Manager() *storage.Manager {
	return a.manager
}

// PgLastError returns the per-source error slot for the live view header.
func (a *Agent) PgLastError() string {
	return a.collector.PgLastError()
}

// Tab identifies one renderer tab.
type Tab int

const (
	TabProcesses Tab = iota
	TabActivity
	TabStatements
	TabPlans
	TabTables
	TabIndexes
	TabLockTree
	TabErrors
)

// BuildView assembles the view model for one tab from the latest snapshot.
// Returns nil when the snapshot lacks the tab's block.
func (a *Agent) BuildView(tab Tab, state *view.TabState) *view.TableViewModel {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.latest == nil {
		return nil
	}
	interner := a.collector.Interner()

	switch tab {
	case TabProcesses:
		return view.BuildProcessesView(a.latest, state, interner)
	case TabActivity:
		return view.BuildActivityView(a.latest, state, interner)
	case TabStatements:
		return view.BuildStatementsView(a.latest, state, a.statements, interner)
	case TabPlans:
		return view.BuildPlansView(a.latest, state, a.plans, interner)
	case TabTables:
		return view.BuildTablesView(a.latest, state, a.tables, interner)
	case TabIndexes:
		return view.BuildIndexesView(a.latest, state, a.indexes, interner)
	case TabLockTree:
		return view.BuildLockTreeView(a.latest, state, interner)
	case TabErrors:
		return view.BuildErrorsView(a.latest, state, interner)
	}
	return nil
}

// HistoricalInterner loads the merged interner covering all stored
// snapshots, for replaying history through the view builders.
func (a *Agent) HistoricalInterner() (*intern.Interner, error) {
	_, interner, err := a.manager.LoadAllSnapshots()
	return interner, err
}
