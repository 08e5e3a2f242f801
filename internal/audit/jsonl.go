package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tkingovr/aifirewall/api"
)

// DefaultMemoryWindow is how many recent entries a JSONLStore keeps in memory
// for queries and stats.
const DefaultMemoryWindow = 10000

// JSONLStore appends entries to one JSONL file per day (YYYY-MM-DD.jsonl)
// and serves queries from a bounded in-memory window.
type JSONLStore struct {
	mu          sync.Mutex
	dir         string
	currentDate string
	file        *os.File
	writer      *bufio.Writer

	entries []*api.LogEntry
	maxMem  int

	subs *subscribers
}

// NewJSONLStore creates a store writing under dir.
func NewJSONLStore(dir string) (*JSONLStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	return &JSONLStore{
		dir:    dir,
		maxMem: DefaultMemoryWindow,
		subs:   newSubscribers(),
	}, nil
}

func (s *JSONLStore) Append(_ context.Context, entries ...*api.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		date := e.Timestamp.UTC().Format("2006-01-02")
		if date != s.currentDate {
			if err := s.rotate(date); err != nil {
				return err
			}
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling log entry: %w", err)
		}
		if _, err := s.writer.Write(data); err != nil {
			return err
		}
		if err := s.writer.WriteByte('\n'); err != nil {
			return err
		}

		if len(s.entries) >= s.maxMem {
			s.entries = s.entries[1:]
		}
		s.entries = append(s.entries, e)
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}

	s.subs.notify(entries...)
	return nil
}

func (s *JSONLStore) Query(_ context.Context, filter api.QueryFilter) ([]*api.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*api.LogEntry
	for _, e := range s.entries {
		if filter.Matches(e) {
			results = append(results, e)
		}
	}
	return paginate(results, filter), nil
}

func (s *JSONLStore) Stats(_ context.Context) (*api.AuditStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := api.NewAuditStats()
	for _, e := range s.entries {
		stats.Add(e)
	}
	return stats, nil
}

func (s *JSONLStore) Subscribe(_ context.Context) (<-chan *api.LogEntry, func()) {
	return s.subs.add()
}

func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		s.writer = nil
		s.currentDate = ""
		return err
	}
	return nil
}

func (s *JSONLStore) rotate(date string) error {
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return err
		}
	}

	path := filepath.Join(s.dir, date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening audit log file: %w", err)
	}

	s.file = f
	s.writer = bufio.NewWriter(f)
	s.currentDate = date
	return nil
}
