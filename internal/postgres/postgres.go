package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/vadv/rpglot/internal/log"
)

// dbPoolRefreshInterval is how often the per-database connection pool is
// reconciled against pg_database.
const dbPoolRefreshInterval = 10 * time.Minute

// DefaultStatementsCacheInterval is how long a pg_stat_statements result is
// served from cache. Zero disables caching.
const DefaultStatementsCacheInterval = 30 * time.Second

// DefaultPlansCacheInterval is the pg_store_plans cadence.
const DefaultPlansCacheInterval = 300 * time.Second

// extension availability states, probed once per connection
type extState int

const (
	extUnknown extState = iota
	extAvailable
	extMissing
)

// DatabaseClient is one per-database session of the pool.
type DatabaseClient struct {
	Datname string
	DB      *DB
}

// Collector maintains PostgreSQL sessions and produces data blocks from
// catalog views. Any SQL error clears the primary session (forcing a
// reconnect on the next tick) and lands in the LastError slot; the tick
// proceeds with whatever blocks it could produce.
type Collector struct {
	connString string
	db         *DB

	lastError        string
	serverVersion    int
	statementsState  extState
	storePlansState  extState
	storePlansOssc   bool

	statementsCacheInterval time.Duration
	statementsCache         []statementsCacheEntry
	statementsCacheTime     time.Time

	plansCacheInterval time.Duration
	plansCache         []plansCacheEntry
	plansCacheTime     time.Time

	// explicitDatabase freezes the pool to the configured database.
	explicitDatabase bool
	dbClients        []*DatabaseClient
	dbClientsChecked time.Time
}

// NewCollectorFromEnv builds a collector from PGHOST/PGPORT/PGUSER/
// PGPASSWORD/PGDATABASE.
func NewCollectorFromEnv() (*Collector, error) {
	connString, explicit, err := BuildConnString()
	if err != nil {
		return nil, err
	}
	return &Collector{
		connString:              connString,
		explicitDatabase:        explicit,
		statementsCacheInterval: DefaultStatementsCacheInterval,
		plansCacheInterval:      DefaultPlansCacheInterval,
	}, nil
}

// NewCollector builds a collector for an explicit connection string.
// Multi-database discovery is disabled in this mode.
func NewCollector(connString string) *Collector {
	return &Collector{
		connString:              connString,
		explicitDatabase:        true,
		statementsCacheInterval: DefaultStatementsCacheInterval,
		plansCacheInterval:      DefaultPlansCacheInterval,
	}
}

// SetStatementsCacheInterval overrides the pg_stat_statements cache window.
// Zero disables caching.
func (c *Collector) SetStatementsCacheInterval(d time.Duration) {
	c.statementsCacheInterval = d
}

// LastError returns the most recent collection error, empty when healthy.
func (c *Collector) LastError() string {
	return c.lastError
}

// ServerVersionNum returns the cached server_version_num, 0 before the
// first successful connect.
func (c *Collector) ServerVersionNum() int {
	return c.serverVersion
}

// ConnString returns the primary connection string.
func (c *Collector) ConnString() string {
	return c.connString
}

// Primary returns the primary session, nil when disconnected.
func (c *Collector) Primary() *DB {
	return c.db
}

// TryConnect establishes the primary session, for startup checks.
func (c *Collector) TryConnect() error {
	return c.ensureConnected()
}

// InstanceInfo returns (database name, server version string) of the
// primary session for display headers.
func (c *Collector) InstanceInfo() (string, string, bool) {
	if c.db == nil {
		return "", "", false
	}
	var datname, version string
	if err := c.db.Conn().QueryRow(context.Background(), "SELECT current_database(), current_setting('server_version')").Scan(&datname, &version); err != nil {
		return "", "", false
	}
	return datname, version, true
}

// ensureConnected (re)establishes the primary session. The server version
// is read once per connect; caches and the per-database pool are dropped so
// they rebuild against the new session.
func (c *Collector) ensureConnected() error {
	if c.db != nil {
		return nil
	}

	db, err := NewDB(c.connString)
	if err != nil {
		c.lastError = formatConnError(err)
		c.serverVersion = 0
		c.clearCaches()
		return err
	}

	c.clearCaches()
	c.closeDBClients()

	version, err := db.ShowSetting("server_version_num")
	if err != nil {
		log.Warnf("read server_version_num failed: %s", err)
	} else if v, err := strconv.Atoi(version); err == nil {
		c.serverVersion = v
	}

	c.db = db
	c.lastError = ""
	log.Infof("connected to PostgreSQL, server version %d", c.serverVersion)
	return nil
}

// fail records err, drops the primary session and forces a reconnect on
// the next tick.
func (c *Collector) fail(err error) {
	c.lastError = formatConnError(err)
	log.Warnf("postgres collection failed: %s", c.lastError)
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
}

func (c *Collector) clearCaches() {
	c.statementsState = extUnknown
	c.statementsCache = nil
	c.statementsCacheTime = time.Time{}
	c.storePlansState = extUnknown
	c.plansCache = nil
	c.plansCacheTime = time.Time{}
}

// Close shuts down all sessions.
func (c *Collector) Close() {
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
	c.closeDBClients()
}

func (c *Collector) closeDBClients() {
	for _, client := range c.dbClients {
		client.DB.Close()
	}
	c.dbClients = nil
	c.dbClientsChecked = time.Time{}
}

// DatabaseClients exposes the current pool (testing, diagnostics).
func (c *Collector) DatabaseClients() []*DatabaseClient {
	return c.dbClients
}

// EnsureDBClients reconciles the per-database pool against pg_database.
// Databases that vanished are dropped, new ones are added, dead
// connections are detected by a probe query and reopened. With an explicit
// database the pool is frozen to that single database.
func (c *Collector) EnsureDBClients() {
	if !c.dbClientsChecked.IsZero() && time.Since(c.dbClientsChecked) < dbPoolRefreshInterval && len(c.dbClients) > 0 {
		return
	}
	if c.db == nil {
		return
	}
	c.dbClientsChecked = time.Now()

	if c.explicitDatabase {
		if len(c.dbClients) == 1 && c.dbClients[0].DB.Ping() {
			return
		}
		c.closeDBClients()
		c.dbClientsChecked = time.Now()

		var datname string
		if err := c.db.Conn().QueryRow(context.Background(), "SELECT current_database()").Scan(&datname); err != nil {
			log.Warnf("read current database failed: %s", err)
			return
		}
		c.connectDBClient(datname)
		return
	}

	databases, err := c.db.QueryDatabases()
	if err != nil {
		log.Warnf("list databases failed: %s", formatConnError(err))
		return
	}

	target := make(map[string]struct{}, len(databases))
	for _, name := range databases {
		target[name] = struct{}{}
	}

	// drop clients whose databases vanished
	kept := c.dbClients[:0]
	removed := 0
	for _, client := range c.dbClients {
		if _, ok := target[client.Datname]; !ok {
			client.DB.Close()
			removed++
			continue
		}
		kept = append(kept, client)
	}
	c.dbClients = kept

	// reconnect dead sessions, add new databases
	existing := make(map[string]*DatabaseClient, len(c.dbClients))
	for _, client := range c.dbClients {
		existing[client.Datname] = client
	}

	added := 0
	for _, name := range databases {
		if client, ok := existing[name]; ok {
			if client.DB.Ping() {
				continue
			}
			client.DB.Close()
			c.removeDBClient(name)
		}
		if c.connectDBClient(name) {
			added++
		}
	}

	if added > 0 || removed > 0 {
		log.Infof("per-database pool updated: %d added, %d removed, %d total", added, removed, len(c.dbClients))
	}
}

func (c *Collector) connectDBClient(datname string) bool {
	db, err := NewDB(ReplaceDbname(c.connString, datname))
	if err != nil {
		log.Warnf("connect to database %s failed: %s", datname, formatConnError(err))
		return false
	}
	c.dbClients = append(c.dbClients, &DatabaseClient{Datname: datname, DB: db})
	return true
}

func (c *Collector) removeDBClient(datname string) {
	kept := c.dbClients[:0]
	for _, client := range c.dbClients {
		if client.Datname != datname {
			kept = append(kept, client)
		}
	}
	c.dbClients = kept
}
