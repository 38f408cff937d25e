package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultTaskMaxAttempts bounds how often an undeliverable task is retried
// before it is parked as failed.
const DefaultTaskMaxAttempts = 5

// TaskQueue owns the per-device ordered list of pending RPCs. Delivery is
// strictly FIFO by creation time within a device, and at most one task per
// device may be in the sent state at any instant. All state transitions for
// one device are serialized by a per-device lock, so two concurrent sessions
// for the same device can never both dispatch a task.
type TaskQueue struct {
	db          *gorm.DB
	locks       *keyLocks
	maxAttempts int
}

// NewTaskQueue creates a task queue backed by the given store
func NewTaskQueue(s *Store) *TaskQueue {
	return &TaskQueue{db: s.DB, locks: newKeyLocks(), maxAttempts: DefaultTaskMaxAttempts}
}

// SetMaxAttempts overrides the retry bound; values below one are ignored
func (q *TaskQueue) SetMaxAttempts(n int) {
	if n >= 1 {
		q.maxAttempts = n
	}
}

// Enqueue creates a pending task for the device. SetParameterValues with an
// empty payload is rejected with ErrEmptyPayload before anything is stored.
func (q *TaskQueue) Enqueue(serialNumber string, kind TaskKind, payload map[string]string) (*Task, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("enqueue %q: %w", kind, ErrBadKind)
	}
	if kind == TaskSetParameterValues && len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	encoded := ""
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		encoded = string(data)
	}

	task := &Task{
		ID:           uuid.New().String(),
		SerialNumber: serialNumber,
		Kind:         kind,
		Payload:      encoded,
		Status:       TaskPending,
		CreatedAt:    time.Now(),
	}

	if err := q.db.Create(task).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return task, nil
}

// NextPending returns the oldest pending task for the device, or nil when
// there is none. While any task for the device is still sent, it returns nil
// to enforce one-at-a-time delivery.
func (q *TaskQueue) NextPending(serialNumber string) (*Task, error) {
	lock := q.locks.lock(serialNumber)
	defer lock.Unlock()

	return q.nextPendingLocked(serialNumber)
}

func (q *TaskQueue) nextPendingLocked(serialNumber string) (*Task, error) {
	var outstanding int64
	err := q.db.Model(&Task{}).
		Where("serial_number = ? AND status = ?", serialNumber, TaskSent).
		Count(&outstanding).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check outstanding tasks: %w", err)
	}
	if outstanding > 0 {
		return nil, nil
	}

	var task Task
	err = q.db.Where("serial_number = ? AND status = ?", serialNumber, TaskPending).
		Order("created_at").
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load next task: %w", err)
	}
	return &task, nil
}

// ClaimNext atomically takes the next pending task and marks it sent. This is
// the dispatch path: the lookup and the transition happen under one
// per-device lock so concurrent sessions cannot claim the same or a second
// task.
func (q *TaskQueue) ClaimNext(serialNumber string) (*Task, error) {
	lock := q.locks.lock(serialNumber)
	defer lock.Unlock()

	task, err := q.nextPendingLocked(serialNumber)
	if err != nil || task == nil {
		return nil, err
	}

	now := time.Now()
	task.Status = TaskSent
	task.SentAt = &now
	task.Attempts++
	if err := q.db.Save(task).Error; err != nil {
		return nil, fmt.Errorf("failed to mark task sent: %w", err)
	}
	return task, nil
}

// MarkSent transitions a pending task to sent. Dispatching through ClaimNext
// is preferred; this exists for callers that did their own pending lookup.
func (q *TaskQueue) MarkSent(taskID string) error {
	return q.transition(taskID, func(task *Task) error {
		if task.Status != TaskPending {
			return fmt.Errorf("task %s: %w", taskID, ErrNotPending)
		}
		now := time.Now()
		task.Status = TaskSent
		task.SentAt = &now
		task.Attempts++
		return nil
	})
}

// MarkAcknowledged records a successful response for a sent task
func (q *TaskQueue) MarkAcknowledged(taskID string) error {
	return q.transition(taskID, func(task *Task) error {
		now := time.Now()
		task.Status = TaskAcknowledged
		task.CompletedAt = &now
		return nil
	})
}

// MarkFailed records a fault response for a task
func (q *TaskQueue) MarkFailed(taskID, message string) error {
	return q.transition(taskID, func(task *Task) error {
		now := time.Now()
		task.Status = TaskFailed
		task.ErrorMessage = message
		task.CompletedAt = &now
		return nil
	})
}

// Requeue reverts a sent task to pending after its session ended without an
// acknowledgment. A task that has exhausted its attempts is parked as failed
// instead of cycling forever.
func (q *TaskQueue) Requeue(taskID string) error {
	return q.transition(taskID, func(task *Task) error {
		if task.Status != TaskSent {
			return nil // already resolved by another path
		}
		if task.Attempts >= q.maxAttempts {
			now := time.Now()
			task.Status = TaskFailed
			task.ErrorMessage = fmt.Sprintf("no acknowledgment after %d attempts", task.Attempts)
			task.CompletedAt = &now
			return nil
		}
		task.Status = TaskPending
		task.SentAt = nil
		return nil
	})
}

// Cancel withdraws a task that has not been dispatched yet. A sent task
// cannot be cancelled mid-flight; it must complete or be requeued first.
func (q *TaskQueue) Cancel(taskID string) error {
	var task Task
	if err := q.db.Where("id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to load task: %w", err)
	}

	lock := q.locks.lock(task.SerialNumber)
	defer lock.Unlock()

	// Re-read under the lock; the session may have dispatched it meanwhile
	if err := q.db.Where("id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to load task: %w", err)
	}
	if task.Status != TaskPending {
		return fmt.Errorf("task %s: %w", taskID, ErrNotPending)
	}

	if err := q.db.Delete(&task).Error; err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	return nil
}

// Get retrieves a task by id
func (q *TaskQueue) Get(taskID string) (*Task, error) {
	var task Task
	err := q.db.Where("id = ?", taskID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return &task, nil
}

// ListBySerial returns every task for a device, oldest first
func (q *TaskQueue) ListBySerial(serialNumber string) ([]Task, error) {
	var tasks []Task
	err := q.db.Where("serial_number = ?", serialNumber).Order("created_at").Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

func (q *TaskQueue) transition(taskID string, apply func(*Task) error) error {
	var task Task
	if err := q.db.Where("id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to load task: %w", err)
	}

	lock := q.locks.lock(task.SerialNumber)
	defer lock.Unlock()

	// Re-read now that the device's queue is quiesced
	if err := q.db.Where("id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to load task: %w", err)
	}

	if err := apply(&task); err != nil {
		return err
	}

	if err := q.db.Save(&task).Error; err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}
