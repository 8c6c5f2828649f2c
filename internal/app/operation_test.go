package app

import (
	"errors"
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		operation  string
		parameters string
		wantID     string
	}{
		{
			name:       "with parameters",
			operation:  "index",
			parameters: "/home/user/docs",
			wantID:     "index-20240115T103000Z",
		},
		{
			name:       "empty parameters",
			operation:  "run",
			parameters: "",
			wantID:     "run-20240115T103000Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters, now)

			if op.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", op.ID, tt.wantID)
			}
			if op.Name != tt.operation {
				t.Errorf("Name = %q, want %q", op.Name, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
		})
	}
}

func TestOperation_Finish(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		err        error
		wantStatus string
	}{
		{name: "success", err: nil, wantStatus: "success"},
		{name: "failure", err: errors.New("boom"), wantStatus: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation("index", "", start)
			if got := op.Finish(tt.err, start.Add(3*time.Second)); got != 3*time.Second {
				t.Errorf("Finish() = %v, want 3s", got)
			}
			if op.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", op.Status, tt.wantStatus)
			}
		})
	}
}
