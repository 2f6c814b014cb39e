package services

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"airnode/models"
)

const contextSep = " | "

// FileStore keeps the error log as a text file, one record per line:
//
//	[2026-10-18T09:12:03Z] WIFI: connect timed out | {"attempt":"3","seq":"42"}
//
// Save rewrites the file through a temp file and rename so a power cut leaves
// either the old or the new log, never a torn one.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() ([]models.ErrorRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read error log: %w", err)
	}

	var records []models.ErrorRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		record, err := parseLogLine(line)
		if err != nil {
			// a damaged line costs one record, not the log
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan error log: %w", err)
	}
	return records, nil
}

func (s *FileStore) Save(records []models.ErrorRecord) error {
	var buf bytes.Buffer
	for _, r := range records {
		line, err := formatLogLine(r)
		if err != nil {
			return err
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp log file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp log file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync temp log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp log file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace error log: %w", err)
	}
	return syncDir(dir)
}

// Sync flushes the directory entry of the log file
func (s *FileStore) Sync() error {
	return syncDir(filepath.Dir(s.path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open log directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("failed to sync log directory: %w", err)
	}
	return nil
}

func formatLogLine(r models.ErrorRecord) (string, error) {
	ctx := make(map[string]string, len(r.Context)+1)
	for k, v := range r.Context {
		ctx[k] = v
	}
	ctx["seq"] = strconv.FormatUint(r.Seq, 10)

	encoded, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to encode record context: %w", err)
	}

	msg := strings.NewReplacer("\r", " ", "\n", " ").Replace(r.Message)
	return fmt.Sprintf("[%s] %s: %s%s%s",
		r.Timestamp.UTC().Format(time.RFC3339), r.Kind, msg, contextSep, encoded), nil
}

func parseLogLine(line string) (models.ErrorRecord, error) {
	var r models.ErrorRecord

	if !strings.HasPrefix(line, "[") {
		return r, errMalformedLogLine
	}
	end := strings.Index(line, "] ")
	if end < 0 {
		return r, errMalformedLogLine
	}
	ts, err := time.Parse(time.RFC3339, line[1:end])
	if err != nil {
		return r, fmt.Errorf("%w: %v", errMalformedLogLine, err)
	}
	rest := line[end+2:]

	colon := strings.Index(rest, ": ")
	if colon < 0 {
		return r, errMalformedLogLine
	}
	r.Timestamp = ts
	r.Kind = models.ParseErrorKind(rest[:colon])
	rest = rest[colon+2:]

	// the message may itself contain the separator, so try from the right
	for idx := strings.LastIndex(rest, contextSep); idx >= 0; idx = strings.LastIndex(rest[:idx], contextSep) {
		var ctx map[string]string
		if err := json.Unmarshal([]byte(rest[idx+len(contextSep):]), &ctx); err != nil {
			continue
		}
		r.Message = rest[:idx]
		r.Context = ctx
		if seq, err := strconv.ParseUint(ctx["seq"], 10, 64); err == nil {
			r.Seq = seq
		}
		return r, nil
	}

	r.Message = rest
	return r, nil
}
