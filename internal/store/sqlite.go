package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// SQLiteStore implements AlertStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based alert store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		conditions TEXT NOT NULL,
		severity TEXT NOT NULL,
		channels TEXT NOT NULL,
		cooldown_minutes INTEGER NOT NULL DEFAULT 60,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		last_triggered DATETIME
	);

	CREATE TABLE IF NOT EXISTS alert_triggers (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		rule_name TEXT,
		symbol TEXT NOT NULL,
		kind TEXT NOT NULL,
		condition TEXT,
		current_value REAL NOT NULL,
		threshold REAL NOT NULL,
		severity TEXT NOT NULL,
		message TEXT,
		timestamp DATETIME NOT NULL,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_triggers_symbol ON alert_triggers(symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_triggers_rule ON alert_triggers(rule_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRule inserts or replaces a rule.
func (s *SQLiteStore) SaveRule(ctx context.Context, rule *models.AlertRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	channels, err := json.Marshal(rule.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}

	var lastTriggered interface{}
	if rule.LastTriggered != nil {
		lastTriggered = rule.LastTriggered.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alert_rules
			(id, name, description, conditions, severity, channels, cooldown_minutes, enabled, created_at, last_triggered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.Name, rule.Description, string(conditions), string(rule.Severity), string(channels),
		rule.CooldownMinutes, boolToInt(rule.Enabled), rule.CreatedAt.UTC(), lastTriggered)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// LoadRules retrieves every stored rule, enabled or not.
func (s *SQLiteStore) LoadRules(ctx context.Context) ([]*models.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, conditions, severity, channels, cooldown_minutes, enabled, created_at, last_triggered
		FROM alert_rules ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		var (
			r             models.AlertRule
			description   sql.NullString
			conditions    string
			severity      string
			channels      string
			enabled       int
			lastTriggered sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Name, &description, &conditions, &severity, &channels,
			&r.CooldownMinutes, &enabled, &r.CreatedAt, &lastTriggered); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode conditions of rule %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(channels), &r.Channels); err != nil {
			return nil, fmt.Errorf("failed to decode channels of rule %s: %w", r.ID, err)
		}
		r.Description = description.String
		r.Severity = models.Severity(severity)
		r.Enabled = enabled == 1
		if lastTriggered.Valid {
			t := lastTriggered.Time
			r.LastTriggered = &t
		}
		rules = append(rules, &r)
	}

	return rules, rows.Err()
}

// DeleteRule removes a rule. Its trigger history is kept.
func (s *SQLiteStore) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NewRuleError(ruleID, "delete", errors.ErrRuleNotFound)
	}
	return nil
}

// SaveTrigger records one trigger.
func (s *SQLiteStore) SaveTrigger(ctx context.Context, trigger *models.Trigger) error {
	var metadata []byte
	if len(trigger.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(trigger.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode trigger metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alert_triggers
			(id, rule_id, rule_name, symbol, kind, condition, current_value, threshold, severity, message, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trigger.ID, trigger.RuleID, trigger.RuleName, trigger.InstrumentID, string(trigger.Kind), trigger.Condition,
		trigger.Value, trigger.Threshold, string(trigger.Severity), trigger.Message, trigger.Timestamp.UTC(), string(metadata))
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}
	return nil
}

// QueryTriggerHistory returns triggers newest first.
func (s *SQLiteStore) QueryTriggerHistory(ctx context.Context, filter TriggerFilter) ([]models.Trigger, error) {
	query := `SELECT id, rule_id, rule_name, symbol, kind, condition, current_value, threshold, severity, message, timestamp, metadata
		FROM alert_triggers WHERE 1=1`
	args := []interface{}{}

	if filter.InstrumentID != "" {
		query += " AND symbol = ?"
		args = append(args, filter.InstrumentID)
	}
	if filter.RuleID != "" {
		query += " AND rule_id = ?"
		args = append(args, filter.RuleID)
	}

	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []models.Trigger
	for rows.Next() {
		var (
			t         models.Trigger
			ruleName  sql.NullString
			kind      string
			condition sql.NullString
			severity  string
			message   sql.NullString
			metadata  sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.RuleID, &ruleName, &t.InstrumentID, &kind, &condition,
			&t.Value, &t.Threshold, &severity, &message, &t.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		t.RuleName = ruleName.String
		t.Kind = models.ConditionKind(kind)
		t.Condition = condition.String
		t.Severity = models.Severity(severity)
		t.Message = message.String
		if metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of trigger %s: %w", t.ID, err)
			}
		}
		triggers = append(triggers, t)
	}

	return triggers, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
