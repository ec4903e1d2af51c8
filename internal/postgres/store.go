// Package postgres maintains the agent's PostgreSQL sessions and converts
// catalog view rows into snapshot data blocks.
//
// Instance-level views (activity, statements, database, bgwriter, locks,
// settings, replication) go through one primary session. Per-database views
// (tables, indexes) use a pool of per-database sessions discovered from
// pg_database and refreshed every ten minutes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/vadv/rpglot/internal/log"
)

// DB wraps a single pgx connection.
type DB struct {
	conn *pgx.Conn
}

// NewDB connects using a libpq-style key=value string.
func NewDB(connString string) (*DB, error) {
	config, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// simple protocol keeps us compatible with connection poolers
	config.PreferSimpleProtocol = true

	conn, err := pgx.ConnectConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	return &DB{conn: conn}, nil
}

// Conn exposes the underlying connection.
func (db *DB) Conn() *pgx.Conn {
	return db.conn
}

// Close closes the connection gracefully.
func (db *DB) Close() {
	if err := db.conn.Close(context.Background()); err != nil {
		log.Warnf("failed to close database connection: %s; ignore", err)
	}
}

// Ping runs a probe query to detect dead connections.
func (db *DB) Ping() bool {
	return db.conn.Ping(context.Background()) == nil
}

// QueryDatabases returns databases allowed for connection, in name order.
func (db *DB) QueryDatabases() ([]string, error) {
	rows, err := db.conn.Query(context.Background(),
		"SELECT datname FROM pg_database WHERE NOT datistemplate AND datallowconn ORDER BY datname")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]string, 0, 10)
	for rows.Next() {
		var datname string
		if err := rows.Scan(&datname); err != nil {
			return nil, err
		}
		list = append(list, datname)
	}
	return list, rows.Err()
}

// ShowSetting runs SHOW <name> and returns the value.
func (db *DB) ShowSetting(name string) (string, error) {
	var value string
	err := db.conn.QueryRow(context.Background(), "SHOW "+name).Scan(&value)
	return value, err
}

// CurrentLogfile returns the active server log path for the given format
// ("stderr" or "csvlog"), empty when logging_collector is off.
func (db *DB) CurrentLogfile(format string) (string, error) {
	var logfile *string
	err := db.conn.QueryRow(context.Background(), "SELECT pg_current_logfile($1)", format).Scan(&logfile)
	if err != nil {
		return "", err
	}
	if logfile == nil {
		return "", nil
	}
	return *logfile, nil
}

// IsViewAvailable reports whether a view (extension) exists and answers a
// trivial query. Used to detect pg_stat_statements/pg_store_plans once.
func (db *DB) IsViewAvailable(name string) bool {
	var exists bool
	checkQuery := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM information_schema.views WHERE table_name = '%s')", name)
	if err := db.conn.QueryRow(context.Background(), checkQuery).Scan(&exists); err != nil {
		log.Debugf("check %s availability failed: %s", name, err)
		return false
	}
	if !exists {
		return false
	}

	var one int
	if err := db.conn.QueryRow(context.Background(), fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", name)).Scan(&one); err != nil && err != pgx.ErrNoRows {
		log.Debugf("%s exists but not queryable: %s", name, err)
		return false
	}
	return true
}

// BuildConnString assembles a libpq key=value connection string from the
// standard environment: PGHOST, PGPORT, PGUSER (USER fallback), PGPASSWORD,
// PGDATABASE. The second return value reports whether PGDATABASE was set
// explicitly, which freezes the per-database pool to that single database.
func BuildConnString() (string, bool, error) {
	user := os.Getenv("PGUSER")
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		return "", false, fmt.Errorf("PGUSER or USER not set")
	}

	host := os.Getenv("PGHOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("PGPORT")
	if port == "" {
		port = "5432"
	}
	database, explicit := os.LookupEnv("PGDATABASE")
	if database == "" {
		database = user
	}

	conn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s", host, port, user, database)
	if password := os.Getenv("PGPASSWORD"); password != "" {
		conn += " password=" + password
	}
	return conn, explicit, nil
}

// ReplaceDbname replaces (or appends) the dbname parameter of a libpq-style
// key=value connection string.
func ReplaceDbname(connString, newDB string) string {
	found := false
	parts := strings.Fields(connString)
	for i, token := range parts {
		if strings.HasPrefix(token, "dbname=") {
			parts[i] = "dbname=" + newDB
			found = true
		}
	}
	if !found {
		parts = append(parts, "dbname="+newDB)
	}
	return strings.Join(parts, " ")
}

// formatConnError reduces driver errors to operator-friendly messages.
func formatConnError(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Sprintf("%s: %s", pgErr.Severity, pgErr.Message)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "connection refused"
	case strings.Contains(msg, "password authentication failed"):
		return "password authentication failed"
	}
	return msg
}
