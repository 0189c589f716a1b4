package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/smallbiznis/roadfuel/internal/clock"
)

// FileProvider reads the latest fix a GPS daemon keeps in a JSON file
// ({"latitude":..,"longitude":..,"timestamp":".."}).
type FileProvider struct {
	path  string
	clock clock.Clock
}

func NewFileProvider(path string, clk clock.Clock) *FileProvider {
	return &FileProvider{path: path, clock: clk}
}

func (p *FileProvider) Current(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	raw, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Position{}, ErrNoFix
	}
	if err != nil {
		return Position{}, fmt.Errorf("read position: %w", err)
	}

	var fix struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Timestamp string   `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &fix); err != nil {
		return Position{}, fmt.Errorf("decode position: %w", err)
	}
	if fix.Latitude == nil || fix.Longitude == nil {
		return Position{}, ErrNoFix
	}

	pos := Position{Latitude: *fix.Latitude, Longitude: *fix.Longitude, Timestamp: p.clock.Now()}
	if fix.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, fix.Timestamp); err == nil {
			pos.Timestamp = ts.UTC()
		}
	}
	return pos, nil
}
