package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// Backup lifecycle events.
	EventPreStartBackup  EventType = "PreStartBackup"
	EventPostStartBackup EventType = "PostStartBackup"
	EventPostBackup      EventType = "PostBackup"

	// Restore lifecycle events.
	EventPreRestore  EventType = "PreRestore"
	EventPostRestore EventType = "PostRestore"
)

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event. Pre-events
	// run synchronously and an error from any listener cancels the
	// operation; Post-events may run asynchronously per listener.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// HookListener receives events from the HookManager.
type HookListener interface {
	// OnEvent is called when a registered event is triggered. Returning an
	// error from a "Pre" hook cancels the operation; errors from "Post"
	// hooks are logged without affecting the operation.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers run first.
	Priority() int

	// IsAsync indicates if the listener should run asynchronously for
	// Post-events.
	IsAsync() bool
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreStartBackupPayload contains data for a PreStartBackup event. A listener
// returning an error vetoes the backup before any state changes.
type PreStartBackupPayload struct {
	DestDir string
}

func NewPreStartBackupEvent(payload PreStartBackupPayload) HookEvent {
	return &BaseEvent{eventType: EventPreStartBackup, payload: payload}
}

// PostStartBackupPayload contains data for a PostStartBackup event, fired
// after the background worker has been launched.
type PostStartBackupPayload struct {
	DestDir    string
	SnapshotTS uint64
}

func NewPostStartBackupEvent(payload PostStartBackupPayload) HookEvent {
	return &BaseEvent{eventType: EventPostStartBackup, payload: payload}
}

// PostBackupPayload contains data for a PostBackup event, fired when a
// backup reaches a terminal state.
type PostBackupPayload struct {
	DestDir string
	Err     error // nil when the backup completed
}

func NewPostBackupEvent(payload PostBackupPayload) HookEvent {
	return &BaseEvent{eventType: EventPostBackup, payload: payload}
}

// PreRestorePayload contains data for a PreRestore event. A listener
// returning an error vetoes the restore.
type PreRestorePayload struct {
	BackupDir string
	TargetDir string
}

func NewPreRestoreEvent(payload PreRestorePayload) HookEvent {
	return &BaseEvent{eventType: EventPreRestore, payload: payload}
}

// PostRestorePayload contains data for a PostRestore event.
type PostRestorePayload struct {
	BackupDir string
	TargetDir string
}

func NewPostRestoreEvent(payload PostRestorePayload) HookEvent {
	return &BaseEvent{eventType: EventPostRestore, payload: payload}
}

// listenerWithPriority wraps a listener with its priority.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// The map stores slices of listeners, kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup // tracks async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority >= item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		// Pre-hooks MUST be synchronous to allow for cancellation.
		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			m.wg.Add(1)
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				if err := currentItem.listener.OnEvent(ctx, event); err != nil {
					m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
