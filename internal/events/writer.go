// Package events appends an audit trail of manifest mutations to a JSONL file
// beside the manifest. The trail is diagnostic and appended after a mutation
// commits, outside the manifest lock; O_APPEND keeps concurrent writers from
// interleaving within a line.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

type Event struct {
	ID       string       `json:"id"`
	TS       string       `json:"ts"`
	Type     string       `json:"type"`
	MetaSpec string       `json:"metaSpec"`
	SubSpec  string       `json:"subSpec,omitempty"`
	Actor    string       `json:"actor,omitempty"`
	Payload  EventPayload `json:"payload,omitempty"`
}

// LogPath returns the event log path for a manifest path.
func LogPath(manifestPath string) string {
	return strings.TrimSuffix(manifestPath, ".json") + ".events.jsonl"
}

// Append writes one event line. The log is append-only; a partial trailing
// line from a crashed writer is skipped by Tail.
func (w Writer) Append(manifestPath, evtType, metaSpecID, subSpecID, actor string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	evt := Event{
		ID:       uuid.NewString(),
		TS:       now().UTC().Format(time.RFC3339),
		Type:     evtType,
		MetaSpec: metaSpecID,
		SubSpec:  subSpecID,
		Actor:    actor,
		Payload:  payload,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	f, err := os.OpenFile(LogPath(manifestPath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Tail returns the last n events, oldest first.
func Tail(manifestPath string, n int) ([]Event, error) {
	f, err := os.Open(LogPath(manifestPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var all []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			continue
		}
		all = append(all, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}
