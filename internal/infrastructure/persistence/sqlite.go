package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/instituteops/approvalflow/internal/domain/request"
	"github.com/instituteops/approvalflow/pkg/database"
)

// SQLiteStore persists requests and their audit history in sqlite.
// The request row and its history entries are always written in one
// transaction so the audit trail can never lag the request state.
type SQLiteStore struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a new sqlite-backed request store
func NewSQLiteStore(db *database.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `
	id, kind, payload, status, current_approver_role, approval_flow,
	flow_position, created_by, created_at, terminal_at, updated_at
`

// Create persists a new request together with its creation history entry
func (s *SQLiteStore) Create(ctx context.Context, req *request.Request) error {
	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	flowJSON, err := json.Marshal(req.ApprovalFlow)
	if err != nil {
		return fmt.Errorf("failed to marshal approval flow: %w", err)
	}

	return s.db.WithTransaction(func(tx *sql.Tx) error {
		query := `
			INSERT INTO requests (` + requestColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err := tx.ExecContext(ctx, query,
			req.ID,
			req.Kind,
			string(payloadJSON),
			req.Status.String(),
			nullableRole(req.CurrentApproverRole),
			string(flowJSON),
			req.FlowPosition,
			req.CreatedBy,
			req.CreatedAt,
			req.TerminalAt,
			req.UpdatedAt,
		)
		if err != nil {
			s.logger.Error("Failed to insert request", zap.String("id", req.ID), zap.Error(err))
			return fmt.Errorf("failed to insert request: %w", err)
		}

		return s.insertHistory(ctx, tx, req.ID, req.History)
	})
}

// GetByID retrieves a request with its full history
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*request.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = ?`

	req, err := s.scanRequest(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", request.ErrNotFound, id)
	}
	if err != nil {
		s.logger.Error("Failed to get request", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	history, err := s.loadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	req.History = history

	return req, nil
}

// UpdateConditional persists the request only if the stored row still
// carries prevStatus and prevPosition, appending any new history entries
// in the same transaction
func (s *SQLiteStore) UpdateConditional(ctx context.Context, req *request.Request, prevStatus request.Status, prevPosition int) error {
	return s.db.WithTransaction(func(tx *sql.Tx) error {
		query := `
			UPDATE requests
			SET status = ?, current_approver_role = ?, flow_position = ?,
				terminal_at = ?, updated_at = ?
			WHERE id = ? AND status = ? AND flow_position = ?
		`

		result, err := tx.ExecContext(ctx, query,
			req.Status.String(),
			nullableRole(req.CurrentApproverRole),
			req.FlowPosition,
			req.TerminalAt,
			req.UpdatedAt,
			req.ID,
			prevStatus.String(),
			prevPosition,
		)
		if err != nil {
			s.logger.Error("Failed to update request", zap.String("id", req.ID), zap.Error(err))
			return fmt.Errorf("failed to update request: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if affected == 0 {
			var exists bool
			row := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM requests WHERE id = ?)", req.ID)
			if err := row.Scan(&exists); err != nil {
				return fmt.Errorf("failed to check request existence: %w", err)
			}
			if !exists {
				return fmt.Errorf("%w: %s", request.ErrNotFound, req.ID)
			}
			return fmt.Errorf("%w: %s", request.ErrConcurrentModification, req.ID)
		}

		var stored int
		row := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_history WHERE request_id = ?", req.ID)
		if err := row.Scan(&stored); err != nil {
			return fmt.Errorf("failed to count history: %w", err)
		}

		if stored > len(req.History) {
			return fmt.Errorf("history for request %s shrank from %d to %d entries", req.ID, stored, len(req.History))
		}

		return s.insertHistory(ctx, tx, req.ID, req.History[stored:])
	})
}

// QueryByApprover returns requests awaiting the given role, oldest first
func (s *SQLiteStore) QueryByApprover(ctx context.Context, role string) ([]*request.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE current_approver_role = ?
		ORDER BY created_at ASC, id ASC
	`
	return s.queryRequests(ctx, query, role)
}

// QueryByCreator returns requests created by the given identity, newest first
func (s *SQLiteStore) QueryByCreator(ctx context.Context, identity string) ([]*request.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE created_by = ?
		ORDER BY created_at DESC, id DESC
	`
	return s.queryRequests(ctx, query, identity)
}

// List retrieves requests with pagination, newest first
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*request.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	return s.queryRequests(ctx, query, limit, offset)
}

func (s *SQLiteStore) queryRequests(ctx context.Context, query string, args ...interface{}) ([]*request.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to query requests", zap.Error(err))
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []*request.Request
	for rows.Next() {
		req, err := s.scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, req := range requests {
		history, err := s.loadHistory(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		req.History = history
	}

	return requests, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanRequest(row rowScanner) (*request.Request, error) {
	var req request.Request
	var payloadJSON, flowJSON, status string
	var approverRole sql.NullString
	var terminalAt sql.NullTime

	err := row.Scan(
		&req.ID,
		&req.Kind,
		&payloadJSON,
		&status,
		&approverRole,
		&flowJSON,
		&req.FlowPosition,
		&req.CreatedBy,
		&req.CreatedAt,
		&terminalAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = request.Status(status)
	if approverRole.Valid {
		req.CurrentApproverRole = approverRole.String
	}
	if terminalAt.Valid {
		t := terminalAt.Time
		req.TerminalAt = &t
	}

	if err := json.Unmarshal([]byte(payloadJSON), &req.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if err := json.Unmarshal([]byte(flowJSON), &req.ApprovalFlow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval flow: %w", err)
	}

	return &req, nil
}

func (s *SQLiteStore) loadHistory(ctx context.Context, requestID string) ([]request.HistoryEntry, error) {
	query := `
		SELECT action, by_role, by_identity, comment, timestamp
		FROM request_history
		WHERE request_id = ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		s.logger.Error("Failed to load history", zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var history []request.HistoryEntry
	for rows.Next() {
		var entry request.HistoryEntry
		var action string
		err := rows.Scan(&action, &entry.ByRole, &entry.ByIdentity, &entry.Comment, &entry.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.Action = request.Action(action)
		history = append(history, entry)
	}

	return history, rows.Err()
}

func (s *SQLiteStore) insertHistory(ctx context.Context, tx *sql.Tx, requestID string, entries []request.HistoryEntry) error {
	query := `
		INSERT INTO request_history (request_id, action, by_role, by_identity, comment, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	for _, entry := range entries {
		_, err := tx.ExecContext(ctx, query,
			requestID,
			entry.Action.String(),
			entry.ByRole,
			entry.ByIdentity,
			entry.Comment,
			entry.Timestamp,
		)
		if err != nil {
			s.logger.Error("Failed to insert history entry",
				zap.String("request_id", requestID),
				zap.String("action", entry.Action.String()),
				zap.Error(err))
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
	}

	return nil
}

func nullableRole(role string) interface{} {
	if role == "" {
		return nil
	}
	return role
}
