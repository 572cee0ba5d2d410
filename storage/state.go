package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"vplan-notifier/pkg/timetable"
)

const stateKey = "state.json"

// States is the persisted weekday -> scrape-state store. The scrape cycle
// loads the whole document once, mutates its snapshot in memory, and saves
// once at the end, so a crash mid-cycle never leaves delivered-state that
// diverges from what was actually sent within a saved document.
type States struct {
	docs   *Documents
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStates creates the scrape state store on top of docs.
func NewStates(docs *Documents, logger *slog.Logger) *States {
	return &States{docs: docs, logger: logger}
}

// Load returns the state for every weekday seen so far. A missing document
// is an empty map; absent weekdays are created lazily by the caller.
func (s *States) Load(ctx context.Context) (map[string]*timetable.DayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.docs.Read(ctx, stateKey)
	if err != nil {
		if err == ErrNotExist {
			return map[string]*timetable.DayState{}, nil
		}
		return nil, fmt.Errorf("load scrape state: %w", err)
	}

	var state map[string]*timetable.DayState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal scrape state: %w", err)
	}
	if state == nil {
		state = map[string]*timetable.DayState{}
	}
	for _, day := range state {
		if day.Delivered == nil {
			day.Delivered = make(map[string]bool)
		}
	}
	return state, nil
}

// Save atomically replaces the whole document.
func (s *States) Save(ctx context.Context, state map[string]*timetable.DayState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scrape state: %w", err)
	}
	if err := s.docs.Write(ctx, stateKey, data); err != nil {
		return fmt.Errorf("save scrape state: %w", err)
	}
	s.logger.Debug("Scrape state saved", "weekdays", len(state))
	return nil
}
