package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recordpipe/internal/domain"
)

// ConnectionStore manages database connection records in SQLite.
type ConnectionStore struct {
	db *DB
}

// NewConnectionStore creates a new ConnectionStore.
func NewConnectionStore(db *DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

var _ domain.DatabaseConnectionStore = (*ConnectionStore)(nil)

const connectionColumns = `id, name, driver, host, port, database_name, username, ssl_mode, extra_json, created_at, updated_at`

func scanConnection(row rowScanner) (*domain.DatabaseConnection, error) {
	c := &domain.DatabaseConnection{}
	err := row.Scan(&c.ID, &c.Name, &c.Driver, &c.Host, &c.Port, &c.Database, &c.Username, &c.SSLMode, &c.ExtraJSON, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *ConnectionStore) CreateConnection(c *domain.DatabaseConnection) error {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ExtraJSON == "" {
		c.ExtraJSON = "{}"
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.conn.Exec(
		`INSERT INTO db_connections (`+connectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

func (s *ConnectionStore) GetConnection(id string) (*domain.DatabaseConnection, error) {
	c, err := scanConnection(s.db.conn.QueryRow(`SELECT `+connectionColumns+` FROM db_connections WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database connection %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (s *ConnectionStore) ListConnections() ([]domain.DatabaseConnection, error) {
	rows, err := s.db.conn.Query(`SELECT ` + connectionColumns + ` FROM db_connections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []domain.DatabaseConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (s *ConnectionStore) UpdateConnection(c *domain.DatabaseConnection) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.conn.Exec(
		`UPDATE db_connections SET name=?, driver=?, host=?, port=?, database_name=?, username=?, ssl_mode=?, extra_json=?, updated_at=?
		 WHERE id=?`,
		c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "database connection "+c.ID)
}

func (s *ConnectionStore) DeleteConnection(id string) error {
	res, err := s.db.conn.Exec(`DELETE FROM db_connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "database connection "+id)
}
