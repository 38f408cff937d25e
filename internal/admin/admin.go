// Package admin is the operator-facing surface of the ACS: fleet listings,
// device detail and task management. It talks to the same registry and queue
// the session engine uses, so anything an operator enqueues here is picked up
// on the device's next session.
package admin

import (
	"time"

	"opencwmp/internal/store"
	"opencwmp/pkg/metrics"
)

// Service exposes fleet administration over the device registry and task
// queue. Online status is derived per request from lastInform and the
// configured window, never stored.
type Service struct {
	registry *store.Registry
	queue    *store.TaskQueue
	metrics  *metrics.ACSMetrics
	window   time.Duration
	now      func() time.Time
}

// NewService creates an admin service. A non-positive window falls back to
// the default online window; a nil metrics handle disables instrumentation.
func NewService(registry *store.Registry, queue *store.TaskQueue, m *metrics.ACSMetrics, window time.Duration) *Service {
	if window <= 0 {
		window = store.DefaultOnlineWindow
	}
	return &Service{
		registry: registry,
		queue:    queue,
		metrics:  m,
		window:   window,
		now:      time.Now,
	}
}

// DeviceSummary is the listing view of a device
type DeviceSummary struct {
	SerialNumber    string     `json:"serial_number"`
	Manufacturer    string     `json:"manufacturer"`
	OUI             string     `json:"oui"`
	ProductClass    string     `json:"product_class"`
	SoftwareVersion string     `json:"software_version"`
	IPAddress       string     `json:"ip_address"`
	Online          bool       `json:"online"`
	LastInform      *time.Time `json:"last_inform"`
	LastBoot        *time.Time `json:"last_boot"`
}

// DeviceDetail is the full view of a device including its parameter snapshot
type DeviceDetail struct {
	DeviceSummary
	HardwareVersion string            `json:"hardware_version"`
	Parameters      map[string]string `json:"parameters"`
}

func (s *Service) summarize(d *store.Device) DeviceSummary {
	return DeviceSummary{
		SerialNumber:    d.SerialNumber,
		Manufacturer:    d.Manufacturer,
		OUI:             d.OUI,
		ProductClass:    d.ProductClass,
		SoftwareVersion: d.SoftwareVersion,
		IPAddress:       d.IPAddress,
		Online:          d.Online(s.now(), s.window),
		LastInform:      d.LastInform,
		LastBoot:        d.LastBoot,
	}
}

// ListDevices returns summaries for every device matching the search string.
// An empty search returns the whole fleet. Online, when non-nil, keeps only
// devices whose derived status matches.
func (s *Service) ListDevices(search string, online *bool) ([]DeviceSummary, error) {
	devices, err := s.registry.List(store.ListFilter{
		Search: search,
		Online: online,
		Now:    s.now(),
		Window: s.window,
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]DeviceSummary, 0, len(devices))
	for i := range devices {
		summaries = append(summaries, s.summarize(&devices[i]))
	}
	return summaries, nil
}

// GetDevice returns the full detail for one device, including its last
// reported parameter snapshot. Unknown serials map to store.ErrNotFound.
func (s *Service) GetDevice(serialNumber string) (*DeviceDetail, error) {
	device, err := s.registry.Get(serialNumber)
	if err != nil {
		return nil, err
	}

	return &DeviceDetail{
		DeviceSummary:   s.summarize(device),
		HardwareVersion: device.HardwareVersion,
		Parameters:      device.ParameterMap(),
	}, nil
}

// EnqueueTask queues a task for a device. The device must already be
// registered; tasks for unknown serials are rejected with store.ErrNotFound
// rather than queued into the void.
func (s *Service) EnqueueTask(serialNumber string, kind store.TaskKind, payload map[string]string) (*store.Task, error) {
	if _, err := s.registry.Get(serialNumber); err != nil {
		return nil, err
	}

	task, err := s.queue.Enqueue(serialNumber, kind, payload)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.TasksQueued.WithLabelValues("acs-server", string(kind)).Inc()
	}
	return task, nil
}

// GetTask returns one task by ID
func (s *Service) GetTask(taskID string) (*store.Task, error) {
	return s.queue.Get(taskID)
}

// ListTasks returns every task ever queued for a device, newest first
func (s *Service) ListTasks(serialNumber string) ([]store.Task, error) {
	return s.queue.ListBySerial(serialNumber)
}

// CancelTask withdraws a pending task. Tasks already sent to the device
// cannot be cancelled; the queue returns store.ErrNotPending for those.
func (s *Service) CancelTask(taskID string) error {
	return s.queue.Cancel(taskID)
}
