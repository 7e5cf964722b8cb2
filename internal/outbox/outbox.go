package outbox

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one line of the JSONL signal outbox.
type Entry struct {
	Type           string          `json:"type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Data           json.RawMessage `json:"data"`
	Event          time.Time       `json:"event"`
}

// Outbox is an append-only JSONL sink with a dedupe window on the
// idempotency key. It is the durable handoff point to the external
// execution layer.
type Outbox struct {
	mu           sync.Mutex
	path         string
	dedupeWindow time.Duration
}

func New(path string, dedupeWindowSecs int) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &Outbox{
		path:         path,
		dedupeWindow: time.Duration(dedupeWindowSecs) * time.Second,
	}, nil
}

func (o *Outbox) WriteSignal(idempotencyKey string, signal any) error {
	data, err := json.Marshal(signal)
	if err != nil {
		return err
	}
	entry := Entry{
		Type:           "signal",
		IdempotencyKey: idempotencyKey,
		Data:           data,
		Event:          time.Now().UTC(),
	}
	return o.appendEntry(entry)
}

func (o *Outbox) appendEntry(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(string(data) + "\n")
	return err
}

// HasRecent reports whether an entry with the key was written inside the
// dedupe window.
func (o *Outbox) HasRecent(idempotencyKey string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.Open(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	cutoff := time.Now().UTC().Add(-o.dedupeWindow)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.Event.Before(cutoff) {
			continue
		}
		if entry.IdempotencyKey == idempotencyKey {
			return true, nil
		}
	}
	return false, scanner.Err()
}
