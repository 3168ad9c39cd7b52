package repository

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// journalRecord is one durably committed atomic unit: the balance deltas it
// applied, keyed by user identity. Account creation is a record whose delta
// is the seed balance.
type journalRecord struct {
	Deltas    map[string]int64 `json:"deltas"`
	Timestamp int64            `json:"ts"`
}

// Journal is the write-ahead journal that makes the in-memory store durable.
// Records are line-delimited JSON, fsynced per append, and replayed in order
// on startup. It records only committed deltas, never the request that caused
// them.
type Journal struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// OpenJournal opens (or creates) the journal file for appending.
func OpenJournal(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Journal{path: path, file: file}, nil
}

// Append durably writes one committed unit's deltas. The record is not
// visible to Replay until the write and sync both succeed.
func (j *Journal) Append(deltas map[string]int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	record := journalRecord{
		Deltas:    deltas,
		Timestamp: time.Now().UnixNano(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize journal record: %w", err)
	}
	data = append(data, '\n')

	// Remember the pre-write size. A record whose append fails must be cut
	// back out: replay must never surface a commit the caller was told
	// failed.
	info, err := j.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat journal: %w", err)
	}
	size := info.Size()

	if _, err := j.file.Write(data); err != nil {
		_ = j.file.Truncate(size)
		return fmt.Errorf("failed to write journal record: %w", err)
	}

	// Ensure durability
	if err := j.file.Sync(); err != nil {
		if truncErr := j.file.Truncate(size); truncErr == nil {
			_ = j.file.Sync()
		}
		return fmt.Errorf("failed to sync journal: %w", err)
	}

	return nil
}

// Replay reads the journal from the beginning and calls apply for every
// record in commit order.
func (j *Journal) Replay(apply func(deltas map[string]int64)) error {
	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open journal for replay: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record journalRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return fmt.Errorf("failed to decode journal record at line %d: %w", lineNum, err)
		}

		apply(record.Deltas)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading journal: %w", err)
	}

	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}
