// Package alerts holds the downstream collaborators for fired alerts:
// ClickHouse persistence, Kafka publishing and optional S3 archival.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"lattice-siem/internal/engine"
	"lattice-siem/internal/storage"
)

const alertsTable = "alerts"

// ClickHouseRepository persists alerts to the alerts table.
type ClickHouseRepository struct {
	client *storage.ClickHouseClient
}

// NewClickHouseRepository creates a repository and ensures the alerts
// table exists.
func NewClickHouseRepository(ctx context.Context, client *storage.ClickHouseClient) (*ClickHouseRepository, error) {
	r := &ClickHouseRepository{client: client}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ClickHouseRepository) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS alerts (
			id UUID,
			rule_id String,
			rule_name String,
			severity LowCardinality(String),
			timestamp DateTime64(3, 'UTC'),
			title String,
			description String,
			event_ids Array(UUID),
			event_count UInt32,
			source_ip String,
			destination_ip String,
			tags Array(String),
			actions String,
			metadata String,
			created_at DateTime DEFAULT now()
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (rule_id, timestamp, id)
		TTL toDateTime(timestamp) + INTERVAL 90 DAY
	`
	if err := r.client.Exec(ctx, query); err != nil {
		return storage.WrapQueryError("EnsureSchema", alertsTable, err)
	}
	return nil
}

// Persist writes one alert. Actions and metadata are stored as JSON
// strings; they are opaque to the engine and stay opaque here.
func (r *ClickHouseRepository) Persist(ctx context.Context, alert *engine.Alert) error {
	actions, err := json.Marshal(alert.Actions)
	if err != nil {
		return fmt.Errorf("marshal alert actions: %w", err)
	}
	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		return fmt.Errorf("marshal alert metadata: %w", err)
	}

	query := `
		INSERT INTO alerts (
			id, rule_id, rule_name, severity, timestamp, title, description,
			event_ids, event_count, source_ip, destination_ip, tags, actions, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if err := r.client.Exec(ctx, query,
		alert.ID,
		alert.RuleID,
		alert.RuleName,
		string(alert.Severity),
		alert.Timestamp,
		alert.Title,
		alert.Description,
		alert.EventIDs,
		uint32(alert.EventCount),
		alert.SourceIP,
		alert.DestinationIP,
		alert.Tags,
		string(actions),
		string(metadata),
	); err != nil {
		return storage.WrapInsertError("Persist", alertsTable, err)
	}

	return nil
}

// NopRepository is used when alert persistence is disabled.
type NopRepository struct{}

// Persist logs the alert at debug level and discards it.
func (NopRepository) Persist(_ context.Context, alert *engine.Alert) error {
	slog.Debug("alert persistence disabled, dropping alert", "alert_id", alert.ID)
	return nil
}
