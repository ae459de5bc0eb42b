package record

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileTimeLayout is the timestamp suffix of record file names.
const fileTimeLayout = "20060102_150405"

// JSONFileSink writes each record to <dir>/<session>_<timestamp>.json.
type JSONFileSink struct {
	dir string
}

var _ Sink = (*JSONFileSink)(nil)

// NewJSONFileSink returns a sink writing into dir, creating it if needed.
func NewJSONFileSink(dir string) (*JSONFileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("record: json dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record: create json dir: %w", err)
	}
	return &JSONFileSink{dir: dir}, nil
}

// Path returns the file a record is written to.
func (s *JSONFileSink) Path(r Record) string {
	id := strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(r.SessionID)
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", id, r.EndedAt.UTC().Format(fileTimeLayout)))
}

// Save implements [Sink]. The file appears atomically through a temporary
// file and rename.
func (s *JSONFileSink) Save(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("record: encode %s: %w", r.SessionID, err)
	}

	path := s.Path(r)
	tmp, err := os.CreateTemp(s.dir, ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("record: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("record: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("record: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("record: rename %s: %w", path, err)
	}
	return nil
}
