package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"recordpipe/internal/dbclient"
	"recordpipe/internal/domain"
	"recordpipe/internal/etl/sources"
	"recordpipe/internal/secret"
	"recordpipe/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Connection Service — stored external database connections
// ─────────────────────────────────────────────────────────────

// ConnectionInput is the service-layer DTO for creating/updating connections.
type ConnectionInput struct {
	Name      string `json:"name"`
	Driver    string `json:"driver"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Database  string `json:"database"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	SSLMode   string `json:"sslMode"`
	ExtraJSON string `json:"extraJson"`
}

func (in ConnectionInput) apply(c *domain.DatabaseConnection) {
	c.Name = in.Name
	c.Driver = domain.DatabaseDriver(in.Driver)
	c.Host = in.Host
	c.Port = in.Port
	c.Database = in.Database
	c.Username = in.Username
	c.SSLMode = in.SSLMode
	if in.ExtraJSON != "" {
		c.ExtraJSON = in.ExtraJSON
	}
}

// ConnectionService manages external database connections and opens
// connectors for the database source. Passwords live in a SecretStore.
type ConnectionService struct {
	store   *storage.ConnectionStore
	secrets secret.SecretStore
	log     *slog.Logger
}

var _ sources.DBProvider = (*ConnectionService)(nil)

// NewConnectionService creates a ConnectionService.
func NewConnectionService(store *storage.ConnectionStore, secrets secret.SecretStore, log *slog.Logger) *ConnectionService {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ConnectionService{store: store, secrets: secrets, log: log}
}

// ── Connection CRUD ────────────────────────────────────────

func (s *ConnectionService) ListConnections() ([]domain.DatabaseConnection, error) {
	return s.store.ListConnections()
}

// GetConnection looks a connection up by ID, falling back to its name.
func (s *ConnectionService) GetConnection(idOrName string) (*domain.DatabaseConnection, error) {
	c, err := s.store.GetConnection(idOrName)
	if !errors.Is(err, storage.ErrNotFound) {
		return c, err
	}
	conns, listErr := s.store.ListConnections()
	if listErr != nil {
		return nil, listErr
	}
	for i := range conns {
		if conns[i].Name == idOrName {
			return &conns[i], nil
		}
	}
	return nil, err
}

func (s *ConnectionService) CreateConnection(input ConnectionInput) (*domain.DatabaseConnection, error) {
	conn := &domain.DatabaseConnection{}
	input.apply(conn)
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateConnection(conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	if err := s.setPassword(conn.ID, input.Password); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *ConnectionService) UpdateConnection(id string, input ConnectionInput) (*domain.DatabaseConnection, error) {
	conn, err := s.GetConnection(id)
	if err != nil {
		return nil, err
	}
	input.apply(conn)
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateConnection(conn); err != nil {
		return nil, err
	}
	if err := s.setPassword(conn.ID, input.Password); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *ConnectionService) DeleteConnection(id string) error {
	conn, err := s.GetConnection(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConnection(conn.ID); err != nil {
		return err
	}
	if s.secrets != nil {
		if err := s.secrets.Delete(secret.ConnectionKey(conn.ID)); err != nil {
			s.log.Warn("delete connection password", "connection", conn.ID, "error", err)
		}
	}
	return nil
}

func (s *ConnectionService) setPassword(connID, password string) error {
	if password == "" || s.secrets == nil {
		return nil
	}
	if err := s.secrets.Set(secret.ConnectionKey(connID), []byte(password)); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	return nil
}

// ── Connectors ─────────────────────────────────────────────

// OpenConnector returns a fresh connector for a stored connection. The
// caller owns it and must Close it.
func (s *ConnectionService) OpenConnector(ctx context.Context, connID string) (dbclient.Connector, error) {
	conn, err := s.GetConnection(connID)
	if err != nil {
		return nil, err
	}

	var password string
	if s.secrets != nil {
		pw, err := s.secrets.Get(secret.ConnectionKey(conn.ID))
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		password = string(pw)
	}

	return dbclient.NewConnector(conn, password, s.log.With("connection", conn.Name))
}

// TestConnection opens a connection and pings it.
func (s *ConnectionService) TestConnection(ctx context.Context, connID string) error {
	c, err := s.OpenConnector(ctx, connID)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.TestConnection(ctx)
}

// Introspect returns the tables and columns of a stored connection.
func (s *ConnectionService) Introspect(ctx context.Context, connID string) (*dbclient.SchemaInfo, error) {
	c, err := s.OpenConnector(ctx, connID)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Introspect(ctx)
}
