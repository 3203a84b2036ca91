package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// PendingApproval is a destructive MCP tool call waiting for a human
// decision from another process.
type PendingApproval struct {
	ID          string    `json:"id"`
	Tool        string    `json:"tool"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Metadata    string    `json:"metadata"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ApprovalStore persists MCP approval requests so the CLI can resolve
// them while the stdio server waits.
type ApprovalStore struct {
	db *DB
}

// NewApprovalStore creates a new ApprovalStore.
func NewApprovalStore(db *DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

func (s *ApprovalStore) Create(a *PendingApproval) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Metadata == "" {
		a.Metadata = "{}"
	}
	a.Status = ApprovalPending
	a.CreatedAt = time.Now().UTC()
	_, err := s.db.conn.Exec(
		`INSERT INTO mcp_approvals (id, tool, description, status, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Tool, a.Description, a.Status, a.Metadata, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// Status returns the current status of an approval.
func (s *ApprovalStore) Status(id string) (string, error) {
	var status string
	err := s.db.conn.QueryRow(`SELECT status FROM mcp_approvals WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("approval %s: %w", id, ErrNotFound)
	}
	return status, err
}

// Resolve approves or rejects a pending approval.
func (s *ApprovalStore) Resolve(id string, approved bool) error {
	status := ApprovalRejected
	if approved {
		status = ApprovalApproved
	}
	res, err := s.db.conn.Exec(
		`UPDATE mcp_approvals SET status = ? WHERE id = ? AND status = ?`,
		status, id, ApprovalPending,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "pending approval "+id)
}

// ListPending returns pending approvals, oldest first.
func (s *ApprovalStore) ListPending() ([]PendingApproval, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, tool, description, status, metadata, created_at
		 FROM mcp_approvals WHERE status = ? ORDER BY created_at ASC`,
		ApprovalPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingApproval
	for rows.Next() {
		var a PendingApproval
		if err := rows.Scan(&a.ID, &a.Tool, &a.Description, &a.Status, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *ApprovalStore) Delete(id string) error {
	_, err := s.db.conn.Exec(`DELETE FROM mcp_approvals WHERE id = ?`, id)
	return err
}
