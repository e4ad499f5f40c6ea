package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/vessel/internal/protocol"
)

// Journal persists every processed pair so sessions can be reviewed after
// the presentation process is gone.
type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// StartSession records a new session.
func (j *Journal) StartSession(ctx context.Context, s Session) error {
	if s.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO session(id, host, port, pid, started_at)
VALUES(?, ?, ?, ?, ?);
`, s.ID, s.Host, s.Port, s.PID, s.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession stamps the session end time.
func (j *Journal) EndSession(ctx context.Context, id string) error {
	res, err := j.db.ExecContext(ctx, `
UPDATE session
SET ended_at = ?
WHERE id = ? AND ended_at IS NULL;
`, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %q not found or already ended", id)
	}
	return nil
}

// Record appends a result to the session log and returns the entry id.
func (j *Journal) Record(ctx context.Context, sessionID, command string, r protocol.Result) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id is empty")
	}
	if command == "" {
		return "", fmt.Errorf("command is empty")
	}

	records := r.Records
	if records == nil {
		records = []protocol.Record{}
	}
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}

	var instanceID, instanceName, errMsg any
	if r.Instance != nil {
		instanceID = r.Instance.ID
		instanceName = r.Instance.Name
	}
	if r.Error != nil {
		errMsg = r.Error.Message
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = j.db.ExecContext(ctx, `
INSERT INTO result_log(
  id, session_id, command, plugin_id, plugin, plugin_order, instance_id, instance,
  success, error, records, duration_ms, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, sessionID, command, r.Plugin.ID, r.Plugin.Name, r.Plugin.Order, instanceID, instanceName,
		r.Success, errMsg, string(recordsJSON), r.Duration, now)
	if err != nil {
		return "", fmt.Errorf("insert result_log: %w", err)
	}
	return id, nil
}

// List returns a session's results oldest-first. limit <= 0 means all.
func (j *Journal) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, session_id, command, plugin_id, plugin, plugin_order, instance_id, instance,
       success, error, records, duration_ms, created_at
FROM result_log
WHERE session_id = ?
ORDER BY rowid ASC
LIMIT ?;
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			instanceID sql.NullString
			instance   sql.NullString
			errMsg     sql.NullString
			records    string
			createdAtS string
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.Command, &e.PluginID, &e.Plugin, &e.PluginOrder, &instanceID, &instance,
			&e.Success, &errMsg, &records, &e.DurationMS, &createdAtS,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if instanceID.Valid {
			e.InstanceID = &instanceID.String
		}
		if instance.Valid {
			e.Instance = &instance.String
		}
		if errMsg.Valid {
			e.Error = &errMsg.String
		}
		e.Records = json.RawMessage(records)
		if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summarize counts passed and failed results of a session.
func (j *Journal) Summarize(ctx context.Context, sessionID string) (Summary, error) {
	var s Summary
	err := j.db.QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
FROM result_log
WHERE session_id = ?;
`, sessionID).Scan(&s.Passed, &s.Failed)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize session: %w", err)
	}
	return s, nil
}

// Sessions returns the most recent sessions first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, host, port, pid, started_at, ended_at
FROM session
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s          Session
			startedAtS string
			endedAtS   sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Host, &s.Port, &s.PID, &startedAtS, &endedAtS); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
			s.StartedAt = t
		}
		if endedAtS.Valid {
			if t, err := time.Parse(time.RFC3339Nano, endedAtS.String); err == nil {
				s.EndedAt = &t
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
