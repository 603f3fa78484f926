package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/envbroker/envbroker/internal/core"
)

var _ core.Auditor = (*FileAuditor)(nil)

// FileAuditor writes audit entries to a file as JSON lines. Queries re-read
// the file; the broker's audit volume is one entry per request, so scanning
// is acceptable and keeps the sink a plain greppable file.
type FileAuditor struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

func NewFileAuditor(filePath string) (*FileAuditor, error) {
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log file: %w", err)
	}
	return &FileAuditor{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

func (f *FileAuditor) Log(entry core.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.encoder.Encode(entry); err != nil {
		return fmt.Errorf("writing audit log entry: %w", err)
	}
	return nil
}

func (f *FileAuditor) GetRecent(limit int) ([]core.AuditEntry, error) {
	return f.Find(func(core.AuditEntry) bool { return true }, limit)
}

func (f *FileAuditor) Find(filter func(entry core.AuditEntry) bool, limit int) ([]core.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.filePath)
	if err != nil {
		return nil, fmt.Errorf("opening audit log file for reading: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var matches []core.AuditEntry
	dec := json.NewDecoder(file)
	for dec.More() {
		var entry core.AuditEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decoding audit log entry: %w", err)
		}
		if filter(entry) {
			matches = append(matches, entry)
		}
	}

	if len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	return matches, nil
}

func (f *FileAuditor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
