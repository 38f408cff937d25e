// Package events publishes device and task lifecycle events for downstream
// consumers (dashboards, provisioning pipelines). Publishing is fire and
// forget: the ACS never blocks a device session on the event bus.
package events

import (
	"time"

	"opencwmp/internal/store"
)

// Event types
const (
	EventDeviceRegistered = "device.registered"
	EventDeviceSeen       = "device.seen"
	EventTaskCompleted    = "task.completed"
)

// DeviceEvent announces a device registration or a refresh from an Inform
type DeviceEvent struct {
	Type         string     `json:"type"`
	SerialNumber string     `json:"serial_number"`
	Manufacturer string     `json:"manufacturer"`
	OUI          string     `json:"oui"`
	ProductClass string     `json:"product_class"`
	LastInform   *time.Time `json:"last_inform"`
	Timestamp    time.Time  `json:"timestamp"`
}

// TaskEvent announces a task reaching a terminal state
type TaskEvent struct {
	Type         string    `json:"type"`
	TaskID       string    `json:"task_id"`
	SerialNumber string    `json:"serial_number"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher receives lifecycle notifications from the session engine
type Publisher interface {
	DeviceSeen(device *store.Device, created bool)
	TaskCompleted(task *store.Task)
	Close()
}

// nopPublisher swallows everything; used when no brokers are configured
type nopPublisher struct{}

func (nopPublisher) DeviceSeen(*store.Device, bool) {}
func (nopPublisher) TaskCompleted(*store.Task)      {}
func (nopPublisher) Close()                         {}

// Nop returns a publisher that discards all events
func Nop() Publisher {
	return nopPublisher{}
}
