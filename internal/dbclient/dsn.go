package dbclient

import (
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"recordpipe/internal/domain"
)

// buildMySQLDSN constructs a MySQL DSN from a DatabaseConnection.
func buildMySQLDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.User = conn.Username
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(port))
	cfg.DBName = conn.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if conn.SSLMode == "require" {
		cfg.TLSConfig = "true"
	}
	return cfg.FormatDSN()
}

// buildPostgresDSN constructs a key/value Postgres connection string.
func buildPostgresDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	pairs := [][2]string{
		{"host", conn.Host},
		{"port", strconv.Itoa(port)},
		{"user", conn.Username},
		{"password", password},
		{"dbname", conn.Database},
		{"sslmode", sslMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		parts = append(parts, kv[0]+"="+quotePQ(kv[1]))
	}
	return strings.Join(parts, " ")
}

// quotePQ quotes a libpq connection-string value when it contains
// whitespace, quotes or backslashes.
func quotePQ(v string) string {
	if !strings.ContainsAny(v, " \t\n'\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// buildSQLiteDSN opens an external SQLite file with a busy timeout.
func buildSQLiteDSN(conn *domain.DatabaseConnection) string {
	return conn.Host + "?_pragma=busy_timeout(5000)"
}
