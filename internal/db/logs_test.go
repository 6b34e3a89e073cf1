package db

import (
	"testing"
	"time"

	"github.com/dataops-hub/flowbridge/internal/models"
)

func TestInsertLogIfAbsent(t *testing.T) {
	gdb := openTestDB(t)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	row := models.JobTaskLog{
		JobID:        1,
		FlowRunID:    "run-1",
		Message:      "hello",
		LogLevel:     "INFO",
		LogTimestamp: &ts,
		Fingerprint:  "abc123",
	}
	ok, err := InsertLogIfAbsent(gdb, &row)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !ok {
		t.Fatal("first insert reported as duplicate")
	}

	dup := row
	dup.ID = 0
	ok, err = InsertLogIfAbsent(gdb, &dup)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if ok {
		t.Error("duplicate fingerprint inserted a second row")
	}
	var count int64
	gdb.Model(&models.JobTaskLog{}).Count(&count)
	if count != 1 {
		t.Errorf("row count = %d", count)
	}
}

func TestGetJobLogsNewestFirst(t *testing.T) {
	gdb := openTestDB(t)
	older := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	for i, ts := range []time.Time{older, newer} {
		ts := ts
		row := models.JobTaskLog{
			JobID:        7,
			Message:      "line",
			LogTimestamp: &ts,
			Fingerprint:  string(rune('a' + i)),
		}
		if _, err := InsertLogIfAbsent(gdb, &row); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	// A different job's line stays out of the result.
	other := models.JobTaskLog{JobID: 8, Message: "noise", Fingerprint: "zz"}
	if _, err := InsertLogIfAbsent(gdb, &other); err != nil {
		t.Fatalf("insert other: %v", err)
	}

	logs, err := GetJobLogs(gdb, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d rows", len(logs))
	}
	if !logs[0].LogTimestamp.After(*logs[1].LogTimestamp) {
		t.Errorf("not newest first: %v then %v", logs[0].LogTimestamp, logs[1].LogTimestamp)
	}
}
