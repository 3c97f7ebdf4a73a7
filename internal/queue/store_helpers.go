package queue

import (
	"database/sql"
	"encoding/json"
	"time"
)

const batchColumns = "id, status, total, completed, failed, cost, started_at, completed_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(scanner rowScanner) (*Item, error) {
	var payload string
	if err := scanner.Scan(&payload); err != nil {
		return nil, err
	}
	var item Item
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return nil, err
	}
	if item.StageResults == nil {
		item.StageResults = make(map[Stage]*StageResult)
	}
	return &item, nil
}

func scanBatch(scanner rowScanner) (*BatchRecord, error) {
	var (
		rec          BatchRecord
		status       string
		startedRaw   string
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&rec.ID,
		&status,
		&rec.Total,
		&rec.Completed,
		&rec.Failed,
		&rec.Cost,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	rec.Status = BatchStatus(status)
	rec.StartedAt = parseTime(startedRaw)
	if completedRaw.Valid {
		rec.CompletedAt = parseTime(completedRaw.String)
	}
	return &rec, nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
