package app

import (
	"strings"
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2024, 1, 15, 11, 30, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name      string
		operation string
	}{
		{name: "scan", operation: "Scan"},
		{name: "archive push", operation: "ArchivePush"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, now)

			if op.Name != tt.operation {
				t.Errorf("Name = %q, want %q", op.Name, tt.operation)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
			if !strings.HasPrefix(op.ID, "20240115T103000Z-") {
				t.Errorf("ID = %q, want UTC timestamp prefix", op.ID)
			}
			if len(op.ID) != len("20240115T103000Z-")+8 {
				t.Errorf("len(ID) = %d, want %d", len(op.ID), len("20240115T103000Z-")+8)
			}
		})
	}
}

func TestNewOperation_UniqueIDs(t *testing.T) {
	now := time.Now()
	a := NewOperation("Scan", now)
	b := NewOperation("Scan", now)
	if a.ID == b.ID {
		t.Errorf("NewOperation() produced duplicate ID %q", a.ID)
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("Scan", time.Now())
	op.Fail()
	if op.Status != "error" {
		t.Errorf("Status = %q, want %q", op.Status, "error")
	}
}
