package store

import (
	"encoding/json"
	"time"
)

// Device represents a managed CPE in the database. The serial number is the
// device key; identity fields are fixed at creation and only the state
// columns change on subsequent Informs.
type Device struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	SerialNumber string `gorm:"uniqueIndex;not null" json:"serial_number"`
	Manufacturer string `json:"manufacturer"`
	OUI          string `json:"oui"`
	ProductClass string `json:"product_class"`

	SoftwareVersion string `json:"software_version"`
	HardwareVersion string `json:"hardware_version"`
	IPAddress       string `json:"ip_address"`

	LastInform *time.Time `json:"last_inform"`
	LastBoot   *time.Time `json:"last_boot"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Parameters []Parameter `gorm:"foreignKey:DeviceID" json:"parameters,omitempty"`
}

// Parameter represents a single reported parameter value for a device.
// CWMP parameter names are fully-qualified dotted paths, so a flat
// path-to-value mapping is the whole model.
type Parameter struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	DeviceID uint   `gorm:"not null;index:idx_device_path,unique" json:"device_id"`
	Path     string `gorm:"not null;index:idx_device_path,unique" json:"path"`
	Value    string `json:"value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskKind identifies the RPC a task will issue on the device's next session
type TaskKind string

const (
	TaskSetParameterValues TaskKind = "SetParameterValues"
	TaskGetParameterValues TaskKind = "GetParameterValues"
	TaskReboot             TaskKind = "Reboot"
	TaskFactoryReset       TaskKind = "FactoryReset"
)

// Valid reports whether the kind is one of the supported RPCs
func (k TaskKind) Valid() bool {
	switch k {
	case TaskSetParameterValues, TaskGetParameterValues, TaskReboot, TaskFactoryReset:
		return true
	}
	return false
}

// TaskStatus is the delivery state of a queued task
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskSent         TaskStatus = "sent"
	TaskAcknowledged TaskStatus = "acknowledged"
	TaskFailed       TaskStatus = "failed"
)

// Task is a pending RPC for one device. Tasks are delivered strictly one at
// a time per device, in creation order.
type Task struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	SerialNumber string     `gorm:"not null;index:idx_serial_status" json:"serial_number"`
	Kind         TaskKind   `gorm:"not null" json:"kind"`
	Payload      string     `json:"payload"` // JSON object: parameter path -> value
	Status       TaskStatus `gorm:"not null;index:idx_serial_status" json:"status"`
	Attempts     int        `gorm:"default:0" json:"attempts"`
	ErrorMessage string     `json:"error_message"`

	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	SentAt      *time.Time `json:"sent_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// PayloadMap decodes the stored payload. A missing or malformed payload
// yields an empty map, never an error; the payload was validated at enqueue.
func (t *Task) PayloadMap() map[string]string {
	out := make(map[string]string)
	if t.Payload == "" {
		return out
	}
	if err := json.Unmarshal([]byte(t.Payload), &out); err != nil {
		return make(map[string]string)
	}
	return out
}

// TableName methods for custom table names
func (Device) TableName() string {
	return "devices"
}

func (Parameter) TableName() string {
	return "parameters"
}

func (Task) TableName() string {
	return "tasks"
}
