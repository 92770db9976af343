package recovery

import (
	"sync"
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
)

// errorContextManager holds per-task bounded error and attempt history,
// used by the recovery guard and read by Manager.History (the
// orchestrator's task-error-history admin call).
type errorContextManager struct {
	mu       sync.Mutex
	errors   map[string][]errorRecord
	attempts map[string][]attemptRecord
}

func newErrorContextManager() *errorContextManager {
	return &errorContextManager{
		errors:   make(map[string][]errorRecord),
		attempts: make(map[string][]attemptRecord),
	}
}

func (m *errorContextManager) addError(taskID string, c classifier.Classification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.errors[taskID], errorRecord{at: time.Now(), classification: c})
	if len(list) > maxHistoryEntries {
		list = list[len(list)-maxHistoryEntries:]
	}
	m.errors[taskID] = list
}

func (m *errorContextManager) addAttempt(taskID string, r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.attempts[taskID], attemptRecord{at: time.Now(), result: r})
	if len(list) > maxHistoryEntries {
		list = list[len(list)-maxHistoryEntries:]
	}
	m.attempts[taskID] = list
}

// recentErrors returns taskID's error records within the last `within`
// duration of now.
func (m *errorContextManager) recentErrors(taskID string, within time.Duration) []errorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-within)
	var out []errorRecord
	for _, e := range m.errors[taskID] {
		if e.at.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// History returns a copy of taskID's full error history, most-recent-last,
// as read by Manager.History.
func (m *errorContextManager) History(taskID string) []errorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.errors[taskID]
	out := make([]errorRecord, len(src))
	copy(out, src)
	return out
}

func (m *errorContextManager) clear(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, taskID)
	delete(m.attempts, taskID)
}
