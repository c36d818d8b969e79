package infra

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestExtractMarker(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantMarker string
		wantErr    bool
	}{
		{
			name:       "valid marker",
			query:      "--sql 8f1c6c0e-2f7e-4b4a-9d55-3c1c8d0f6a11\nselect 1",
			wantMarker: "8f1c6c0e-2f7e-4b4a-9d55-3c1c8d0f6a11",
		},
		{
			name:       "leading whitespace tolerated",
			query:      "\n  --sql 8f1c6c0e-2f7e-4b4a-9d55-3c1c8d0f6a11\nselect 1",
			wantMarker: "8f1c6c0e-2f7e-4b4a-9d55-3c1c8d0f6a11",
		},
		{name: "missing marker", query: "select 1", wantErr: true},
		{name: "uppercase uuid rejected", query: "--sql 8F1C6C0E-2F7E-4B4A-9D55-3C1C8D0F6A11\nselect 1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			marker, body, err := extractMarker(tt.query)
			if tt.wantErr {
				if !errors.Is(err, ErrMarkerMissing) {
					t.Fatalf("expected ErrMarkerMissing, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if marker != tt.wantMarker {
				t.Fatalf("marker mismatch: got %q want %q", marker, tt.wantMarker)
			}
			if body != "select 1" {
				t.Fatalf("body mismatch: got %q", body)
			}
		})
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped ErrNoRows to match")
	}
	if IsNoRows(errors.New("other")) {
		t.Fatal("unexpected match")
	}
}
