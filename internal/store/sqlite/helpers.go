package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"labflow/internal/acceptance"
	"labflow/internal/status"
)

const stationColumns = "id, item_id, section_id, section_name, section_order, status, parameters_json, details, started_at, started_by, finished_at, finished_by, created_at, updated_at"

const itemColumns = "id, order_id, workflow_id, name, kind, specimen_id, specimen_barcode, specimen_active, report_id, report_published, report_published_at"

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanStation(scanner interface{ Scan(dest ...any) error }) (*acceptance.StationRecord, error) {
	var (
		rec         acceptance.StationRecord
		sectionName sql.NullString
		statusStr   string
		paramsJSON  sql.NullString
		details     sql.NullString
		startedRaw  sql.NullString
		startedBy   sql.NullString
		finishedRaw sql.NullString
		finishedBy  sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&rec.ID,
		&rec.ItemID,
		&rec.SectionID,
		&sectionName,
		&rec.Order,
		&statusStr,
		&paramsJSON,
		&details,
		&startedRaw,
		&startedBy,
		&finishedRaw,
		&finishedBy,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec.SectionName = sectionName.String
	rec.Status = status.StationStatus(statusStr)
	rec.Details = details.String
	rec.StartedBy = startedBy.String
	rec.FinishedBy = finishedBy.String
	rec.Parameters = map[string]string{}
	if paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &rec.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters of station %s: %w", rec.ID, err)
		}
	}
	rec.StartedAt = parseNullableTime(startedRaw)
	rec.FinishedAt = parseNullableTime(finishedRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		rec.UpdatedAt = updated
	}
	return &rec, nil
}

func queryStations(ctx context.Context, q querier, where string, args ...any) ([]acceptance.StationRecord, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+stationColumns+" FROM station_records "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query station records: %w", err)
	}
	defer rows.Close()

	var out []acceptance.StationRecord
	for rows.Next() {
		rec, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*acceptance.Item, error) {
	var (
		item           acceptance.Item
		workflowID     sql.NullString
		name           sql.NullString
		kind           string
		specimenID     sql.NullString
		barcode        sql.NullString
		specimenActive int
		reportID       sql.NullString
		published      int
		publishedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&item.ID,
		&item.OrderID,
		&workflowID,
		&name,
		&kind,
		&specimenID,
		&barcode,
		&specimenActive,
		&reportID,
		&published,
		&publishedRaw,
	); err != nil {
		return nil, err
	}

	item.WorkflowID = workflowID.String
	item.Name = name.String
	item.Kind = acceptance.ItemKind(kind)
	if specimenID.Valid {
		item.Specimen = &acceptance.Specimen{
			ID:      specimenID.String,
			Barcode: barcode.String,
			Active:  specimenActive != 0,
		}
	}
	if reportID.Valid {
		item.Report = &acceptance.Report{
			ID:          reportID.String,
			Published:   published != 0,
			PublishedAt: parseNullableTime(publishedRaw),
		}
	}
	return &item, nil
}

func encodeParameters(params map[string]string) (string, error) {
	if params == nil {
		params = map[string]string{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode parameters: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}
