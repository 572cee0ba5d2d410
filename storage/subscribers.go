package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"vplan-notifier/pkg/timetable"
)

const subscribersKey = "data.json"

// subscriberEntry is the stored shape of one recipient's record. Early
// versions of the store persisted a bare class list; those decode as
// version 0 and keep their shape on disk until a mutation rewrites them.
type subscriberEntry struct {
	Classes []string `json:"classes"`
	Version int      `json:"version"`
}

func (e *subscriberEntry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var classes []string
		if err := json.Unmarshal(trimmed, &classes); err != nil {
			return err
		}
		e.Classes = classes
		e.Version = 0
		return nil
	}

	type plain subscriberEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = subscriberEntry(p)
	return nil
}

// Subscribers is the persisted recipient -> {classes, reset version} store.
// The whole document is re-read on every operation and mutations are
// serialized by a store-level lock, so concurrent command handlers cannot
// lose each other's updates.
type Subscribers struct {
	docs   *Documents
	logger *slog.Logger
	mu     sync.Mutex
}

// NewSubscribers creates the subscriber store on top of docs.
func NewSubscribers(docs *Documents, logger *slog.Logger) *Subscribers {
	return &Subscribers{docs: docs, logger: logger}
}

// load returns the raw document. Entries stay as raw JSON so that untouched
// legacy records keep their on-disk shape across unrelated mutations.
func (s *Subscribers) load(ctx context.Context) (map[string]json.RawMessage, error) {
	data, err := s.docs.Read(ctx, subscribersKey)
	if err != nil {
		if err == ErrNotExist {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("load subscribers: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal subscribers: %w", err)
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (s *Subscribers) save(ctx context.Context, doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscribers: %w", err)
	}
	if err := s.docs.Write(ctx, subscribersKey, data); err != nil {
		return fmt.Errorf("save subscribers: %w", err)
	}
	return nil
}

func decodeEntry(doc map[string]json.RawMessage, recipientID string) (subscriberEntry, error) {
	raw, ok := doc[recipientID]
	if !ok {
		return subscriberEntry{Classes: []string{}}, nil
	}
	var entry subscriberEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return subscriberEntry{}, fmt.Errorf("decode record for %s: %w", recipientID, err)
	}
	if entry.Classes == nil {
		entry.Classes = []string{}
	}
	return entry, nil
}

func encodeEntry(doc map[string]json.RawMessage, recipientID string, entry subscriberEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode record for %s: %w", recipientID, err)
	}
	doc[recipientID] = raw
	return nil
}

// Classes returns the recipient's subscribed classes in insertion order.
// Unknown recipients get an empty list, never an error.
func (s *Subscribers) Classes(ctx context.Context, recipientID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := decodeEntry(doc, recipientID)
	if err != nil {
		return nil, err
	}
	return entry.Classes, nil
}

// AddClass subscribes the recipient to a class. It reports false without a
// persistence write when the class is already present.
func (s *Subscribers) AddClass(ctx context.Context, recipientID, class string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	entry, err := decodeEntry(doc, recipientID)
	if err != nil {
		return false, err
	}
	if slices.Contains(entry.Classes, class) {
		return false, nil
	}

	entry.Classes = append(entry.Classes, class)
	if err := encodeEntry(doc, recipientID, entry); err != nil {
		return false, err
	}
	if err := s.save(ctx, doc); err != nil {
		return false, err
	}
	s.logger.Info("Class subscribed", "recipient", recipientID, "class", class)
	return true, nil
}

// RemoveClass unsubscribes the recipient from a class. It reports false when
// the class was not present. An emptied record persists; it is not deleted.
func (s *Subscribers) RemoveClass(ctx context.Context, recipientID, class string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	entry, err := decodeEntry(doc, recipientID)
	if err != nil {
		return false, err
	}
	idx := slices.Index(entry.Classes, class)
	if idx < 0 {
		return false, nil
	}

	entry.Classes = slices.Delete(entry.Classes, idx, idx+1)
	if err := encodeEntry(doc, recipientID, entry); err != nil {
		return false, err
	}
	if err := s.save(ctx, doc); err != nil {
		return false, err
	}
	s.logger.Info("Class unsubscribed", "recipient", recipientID, "class", class)
	return true, nil
}

// ResetVersion returns the recipient's current reset version, 0 if unknown.
func (s *Subscribers) ResetVersion(ctx context.Context, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	entry, err := decodeEntry(doc, recipientID)
	if err != nil {
		return 0, err
	}
	return entry.Version, nil
}

// IncrementResetVersion bumps the recipient's reset version and returns the
// new value, creating the record if it does not exist yet.
func (s *Subscribers) IncrementResetVersion(ctx context.Context, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	entry, err := decodeEntry(doc, recipientID)
	if err != nil {
		return 0, err
	}

	entry.Version++
	if err := encodeEntry(doc, recipientID, entry); err != nil {
		return 0, err
	}
	if err := s.save(ctx, doc); err != nil {
		return 0, err
	}
	s.logger.Info("Reset version incremented", "recipient", recipientID, "version", entry.Version)
	return entry.Version, nil
}

// Snapshot returns every record, sorted by recipient ID for deterministic
// iteration. Legacy bare-list records come back as version 0.
func (s *Subscribers) Snapshot(ctx context.Context) ([]timetable.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	subs := make([]timetable.Subscriber, 0, len(doc))
	for recipientID := range doc {
		entry, err := decodeEntry(doc, recipientID)
		if err != nil {
			s.logger.Warn("Skipping unreadable subscriber record", "recipient", recipientID, "error", err)
			continue
		}
		subs = append(subs, timetable.Subscriber{
			ID:      recipientID,
			Classes: entry.Classes,
			Version: entry.Version,
		})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}
