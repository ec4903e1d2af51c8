package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/vadv/rpglot/internal/log"
	"github.com/vadv/rpglot/internal/rpglot"
)

var (
	appName   = "rpglot"
	gitCommit = "unknown"
	gitBranch = "unknown"
)

func main() {
	var (
		showVersion = kingpin.Flag("version", "show version and exit").Default().Bool()
		logLevel    = kingpin.Flag("log-level", "set log level: debug, info, warn, error").Default("info").Envar("LOG_LEVEL").String()
		configFile  = kingpin.Flag("config-file", "path to config file").Default("/etc/rpglot.yaml").Envar("CONFIG_FILE").String()

		listenAddress = kingpin.Flag("listen-address", "self-metrics listen address").Envar("LISTEN_ADDRESS").String()
		storageDir    = kingpin.Flag("storage-dir", "storage directory for WAL and chunks").Envar("STORAGE_DIR").String()
		tickInterval  = kingpin.Flag("tick-interval", "collection interval").Duration()
		conninfo      = kingpin.Flag("conninfo", "PostgreSQL connection string (overrides PG* environment)").String()
		noPostgres    = kingpin.Flag("no-postgres", "disable PostgreSQL collection, host metrics only").Bool()
		forceCgroup   = kingpin.Flag("force-cgroup", "collect cgroup metrics even outside a container").Bool()
		stmtsCache    = kingpin.Flag("statements-cache", "pg_stat_statements cache interval, 0 disables").Default("30s").Duration()
	)
	kingpin.Parse()
	log.SetLevel(*logLevel)
	log.SetApplication(appName)

	if *showVersion {
		fmt.Printf("%s %s-%s\n", appName, gitCommit, gitBranch)
		os.Exit(0)
	}

	config, err := rpglot.NewConfig(*configFile)
	if err != nil {
		log.Errorf("cannot start %s, unable to read config: %s", appName, err)
		os.Exit(1)
	}

	// flags override config file values
	if *listenAddress != "" {
		config.ListenAddress = *listenAddress
	}
	if *storageDir != "" {
		config.StorageDir = *storageDir
	}
	if *tickInterval > 0 {
		config.TickInterval = *tickInterval
	}
	if *conninfo != "" {
		config.ConnString = *conninfo
	}
	if *noPostgres {
		config.NoPostgres = true
	}
	if *forceCgroup {
		config.ForceCgroup = true
	}
	if *stmtsCache >= 0 {
		config.StatementsCacheInterval = *stmtsCache
	}

	if err := config.Validate(); err != nil {
		log.Errorf("cannot start %s, invalid config: %s", appName, err)
		os.Exit(1)
	}

	agent, err := rpglot.NewAgent(config)
	if err != nil {
		log.Errorf("cannot start %s: %s", appName, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	doExit := make(chan error, 2)
	go func() {
		doExit <- listenSignals()
		cancel()
	}()
	go func() {
		doExit <- agent.Start(ctx)
		cancel()
	}()

	if err := <-doExit; err != nil {
		log.Warnf("shutdown: %s", err)
	} else {
		log.Info("shutdown")
	}

	// give the second goroutine a moment to unwind
	select {
	case <-doExit:
	case <-time.After(5 * time.Second):
	}
}

func listenSignals() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	return fmt.Errorf("got %s", <-c)
}
