package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

func TestIndicatorRows_KeepScanOrder(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	iocs := []domain.Indicator{
		{Type: domain.IPAddress, Value: "203.0.113.9"},
		{Type: domain.URL, Value: "http://c2.evil.xyz/p"},
		{Type: domain.Domain, Value: "evil.xyz"},
		{Type: domain.MD5, Value: "d41d8cd98f00b204e9800998ecf8427e"},
		// same value as a different type must not collapse into one row
		{Type: domain.Domain, Value: "203.0.113.9", Context: "model"},
	}

	rows := indicatorRows("run-1", originReport, iocs, created)
	if len(rows) != len(iocs) {
		t.Fatalf("got %d rows, want %d", len(rows), len(iocs))
	}

	for i, row := range rows {
		if len(row) != strings.Count(insertIndicatorSQL, "$") {
			t.Fatalf("row %d has %d args, query takes %d", i, len(row), strings.Count(insertIndicatorSQL, "$"))
		}
		if row[0] != "run-1" || row[1] != originReport || row[6] != created {
			t.Errorf("row %d = %v", i, row)
		}
		if row[2] != i {
			t.Errorf("row %d position = %v, want %d", i, row[2], i)
		}
		if row[3] != iocs[i].Type || row[4] != iocs[i].Value || row[5] != iocs[i].Context {
			t.Errorf("row %d = %v, want %+v", i, row, iocs[i])
		}
	}
}

func TestIndicatorQueries(t *testing.T) {
	if strings.Contains(insertIndicatorSQL, "ON CONFLICT") {
		t.Error("indicator insert must not drop rows on conflict")
	}
	if !strings.Contains(selectIndicatorsSQL, "ORDER BY position") {
		t.Error("indicators must be read back in stored order")
	}
	if !strings.Contains(schema, "PRIMARY KEY (run_id, origin, position)") {
		t.Error("indicators must be keyed by position")
	}
}

func TestQueueIndicators(t *testing.T) {
	batch := &pgx.Batch{}
	queueIndicators(batch, "run-1", originStatic, []domain.Indicator{
		{Type: domain.IPAddress, Value: "203.0.113.9"},
		{Type: domain.URL, Value: "http://203.0.113.9/x"},
	}, time.Now())

	if batch.Len() != 2 {
		t.Errorf("batch.Len() = %d, want 2", batch.Len())
	}
}
