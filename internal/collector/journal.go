package collector

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gonogo/rtm/internal/rtm"
)

// journalRecord is one write-ahead line: the outcome the runner reported
// for a test, before it has reached the Store.
type journalRecord struct {
	TestID    string        `json:"test_id"`
	Execution rtm.Execution `json:"execution"`
}

// journal is the Collector's append-only write-ahead log (§4.3 "Buffering
// and durability"). One JSON record per line, fsynced on every append, so an
// outcome survives a crash between on_test_outcome and the next flush.
type journal struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *json.Encoder
}

func openJournal(path string) (*journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("collector: open journal %s: %w", path, err)
	}

	return &journal{path: path, file: f, enc: json.NewEncoder(f)}, nil
}

func (j *journal) append(testID string, exec rtm.Execution) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.enc.Encode(journalRecord{TestID: testID, Execution: exec}); err != nil {
		return fmt.Errorf("collector: append journal record for %s: %w", testID, err)
	}

	return j.file.Sync()
}

// replay reads every record on file and returns the newest outcome per
// test, for recovery on startup. A torn final line (partial write at the
// moment of a crash) is skipped rather than failing the whole replay.
func (j *journal) replay() (map[string]rtm.Execution, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("collector: seek journal %s: %w", j.path, err)
	}

	out := map[string]rtm.Execution{}
	scanner := bufio.NewScanner(j.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}

		if existing, ok := out[rec.TestID]; !ok || rec.Execution.Timestamp.After(existing.Timestamp) {
			out[rec.TestID] = rec.Execution
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("collector: scan journal %s: %w", j.path, err)
	}

	if _, err := j.file.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("collector: seek journal %s to end: %w", j.path, err)
	}

	return out, nil
}

// truncate clears the journal after a successful flush to the Store.
func (j *journal) truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Truncate(0); err != nil {
		return fmt.Errorf("collector: truncate journal %s: %w", j.path, err)
	}
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("collector: seek journal %s after truncate: %w", j.path, err)
	}

	j.enc = json.NewEncoder(j.file)
	return nil
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
