package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aimonitor/internal/model"
	"aimonitor/internal/repository"

	"github.com/google/uuid"
)

// ParseFilename splits a journal image name of the form
// <date>_<time>_<sensor>_<message>_<id>.jpg.
func ParseFilename(filename string) (timestamp time.Time, sensor, message string, err error) {
	name := strings.TrimSuffix(filename, ".jpg")
	parts := strings.Split(name, "_")

	if len(parts) != 5 {
		return time.Time{}, "", "", fmt.Errorf("invalid filename format: %s", filename)
	}

	timestamp, err = time.ParseInLocation(timestampLayout, parts[0]+"_"+parts[1], time.Local)
	if err != nil {
		return time.Time{}, "", "", fmt.Errorf("failed to parse timestamp: %w", err)
	}

	return timestamp, parts[2], parts[3], nil
}

// Reindex records every journal image in dir that has no event row yet and
// returns how many rows were added. Files that do not parse are skipped.
func Reindex(repo repository.EventRepository, dir string) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read images directory: %w", err)
	}

	existing, err := repo.GetAll(&model.EventFilter{})
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(existing))
	for _, ev := range existing {
		known[ev.Filename] = true
	}

	var events []model.Event
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".jpg" || known[file.Name()] {
			continue
		}

		timestamp, sensor, message, err := ParseFilename(file.Name())
		if err != nil {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}

		events = append(events, model.Event{
			ID:        uuid.NewString(),
			Sensor:    sensor,
			Message:   message,
			Timestamp: timestamp,
			Filename:  file.Name(),
			FilePath:  filepath.Join(dir, file.Name()),
			FileSize:  info.Size(),
		})
	}

	if len(events) == 0 {
		return 0, nil
	}
	if err := repo.InsertBatch(events); err != nil {
		return 0, err
	}
	return len(events), nil
}
