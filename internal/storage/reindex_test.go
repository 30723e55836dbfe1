package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename string
		sensor   string
		message  string
		wantErr  bool
	}{
		{"2025-06-15_14-30-00_webcam_person_1a2b3c4d.jpg", "webcam", "person", false},
		{"2025-06-15_14-30-00_imx500_person_ffffffff.jpg", "imx500", "person", false},
		{"2025-06-15_14-30-00_webcam.jpg", "", "", true},
		{"15-06-2025_14-30-00_webcam_person_1a2b3c4d.jpg", "", "", true},
		{"holiday.jpg", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			ts, sensor, message, err := ParseFilename(tt.filename)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFilename failed: %v", err)
			}
			if sensor != tt.sensor || message != tt.message {
				t.Errorf("got (%s, %s), expected (%s, %s)", sensor, message, tt.sensor, tt.message)
			}
			expected := time.Date(2025, 6, 15, 14, 30, 0, 0, time.Local)
			if !ts.Equal(expected) {
				t.Errorf("timestamp = %v, expected %v", ts, expected)
			}
		})
	}
}

func TestReindex(t *testing.T) {
	j, repo, _, _ := setupJournal(t, 10)

	j.Notify(context.Background(), "person", testImage())
	if _, err := j.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	orphan := "2025-06-15_15-00-00_webcam_person_0badf00d.jpg"
	if err := os.WriteFile(filepath.Join(j.opts.ImagesDir, orphan), []byte("jpeg"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	os.WriteFile(filepath.Join(j.opts.ImagesDir, "notes.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(j.opts.ImagesDir, "holiday.jpg"), []byte("x"), 0644)

	n, err := Reindex(repo, j.opts.ImagesDir)
	if err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reindexed event, got %d", n)
	}

	n, err = Reindex(repo, j.opts.ImagesDir)
	if err != nil || n != 0 {
		t.Errorf("second Reindex should add nothing, got (%d, %v)", n, err)
	}

	stats, err := repo.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalEvents != 2 {
		t.Errorf("expected 2 events, got %d", stats.TotalEvents)
	}
}
