package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Identity carries the fixed identification fields a device reports in the
// DeviceId block of its Inform.
type Identity struct {
	SerialNumber string
	Manufacturer string
	OUI          string
	ProductClass string
}

// InformUpdate is everything a single Inform contributes to the registry
type InformUpdate struct {
	Identity   Identity
	Parameters map[string]string
	Events     []string
	SeenAt     time.Time
}

// ListFilter narrows a registry listing. Search matches as a substring on
// serial number, manufacturer and product class. Online filters on the
// derived online status using the supplied window and clock.
type ListFilter struct {
	Search string
	Online *bool
	Now    time.Time
	Window time.Duration
}

// Registry is the durable record of every known device. Upserts for a given
// key are serialized by a per-device lock and executed in one transaction,
// so readers never observe a half-written parameter set.
type Registry struct {
	db    *gorm.DB
	locks *keyLocks
}

// NewRegistry creates a device registry backed by the given store
func NewRegistry(s *Store) *Registry {
	return &Registry{db: s.DB, locks: newKeyLocks()}
}

// Upsert creates the device on first Inform and refreshes it on every
// subsequent one. Identity fields are set on create only; the parameter
// snapshot and lastInform are overwritten every time (last-write-wins).
// It returns the updated device and whether it was newly created.
func (r *Registry) Upsert(u InformUpdate) (*Device, bool, error) {
	if u.Identity.SerialNumber == "" {
		return nil, false, fmt.Errorf("upsert: %w", ErrNotFound)
	}

	lock := r.locks.lock(u.Identity.SerialNumber)
	defer lock.Unlock()

	var device Device
	created := false

	err := r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("serial_number = ?", u.Identity.SerialNumber).First(&device).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			device = Device{
				SerialNumber: u.Identity.SerialNumber,
				Manufacturer: u.Identity.Manufacturer,
				OUI:          u.Identity.OUI,
				ProductClass: u.Identity.ProductClass,
			}
			if err := tx.Create(&device).Error; err != nil {
				return fmt.Errorf("failed to create device: %w", err)
			}
			created = true
		} else if err != nil {
			return fmt.Errorf("failed to load device: %w", err)
		}

		seen := u.SeenAt
		device.LastInform = &seen
		if hasBootEvent(u.Events) {
			device.LastBoot = &seen
		}

		// Well-known paths refresh the convenience columns; absence keeps
		// the previous value (devices rarely report these on every Inform)
		if v := paramBySuffix(u.Parameters, ".SoftwareVersion"); v != "" {
			device.SoftwareVersion = v
		}
		if v := paramBySuffix(u.Parameters, ".HardwareVersion"); v != "" {
			device.HardwareVersion = v
		}
		if v := paramBySuffix(u.Parameters, ".ExternalIPAddress"); v != "" {
			device.IPAddress = v
		}

		if err := tx.Save(&device).Error; err != nil {
			return fmt.Errorf("failed to update device: %w", err)
		}

		// Replace the parameter snapshot wholesale
		if err := tx.Where("device_id = ?", device.ID).Delete(&Parameter{}).Error; err != nil {
			return fmt.Errorf("failed to clear parameters: %w", err)
		}
		for path, value := range u.Parameters {
			p := Parameter{DeviceID: device.ID, Path: path, Value: value}
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("failed to store parameter %s: %w", path, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &device, created, nil
}

// MergeParameters folds a set of reported values into the existing snapshot
// without touching paths it does not mention. Used when a device answers a
// GetParameterValues task.
func (r *Registry) MergeParameters(serialNumber string, params map[string]string) error {
	if len(params) == 0 {
		return nil
	}

	lock := r.locks.lock(serialNumber)
	defer lock.Unlock()

	return r.db.Transaction(func(tx *gorm.DB) error {
		var device Device
		err := tx.Where("serial_number = ?", serialNumber).First(&device).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		} else if err != nil {
			return fmt.Errorf("failed to load device: %w", err)
		}

		for path, value := range params {
			var existing Parameter
			err := tx.Where("device_id = ? AND path = ?", device.ID, path).First(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				p := Parameter{DeviceID: device.ID, Path: path, Value: value}
				if err := tx.Create(&p).Error; err != nil {
					return fmt.Errorf("failed to store parameter %s: %w", path, err)
				}
				continue
			} else if err != nil {
				return fmt.Errorf("failed to load parameter %s: %w", path, err)
			}

			existing.Value = value
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("failed to update parameter %s: %w", path, err)
			}
		}

		return nil
	})
}

// Get retrieves a device with its parameter snapshot
func (r *Registry) Get(serialNumber string) (*Device, error) {
	var device Device
	err := r.db.Preload("Parameters").Where("serial_number = ?", serialNumber).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	return &device, nil
}

// List retrieves devices matching the filter. Pagination is the caller's
// concern; the registry returns the full matching set.
func (r *Registry) List(f ListFilter) ([]Device, error) {
	query := r.db.Preload("Parameters").Order("serial_number")
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query = query.Where(
			"serial_number LIKE ? OR manufacturer LIKE ? OR product_class LIKE ?",
			like, like, like,
		)
	}

	var devices []Device
	if err := query.Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	if f.Online == nil {
		return devices, nil
	}

	// Online is derived, not stored, so it filters after the query
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}
	filtered := devices[:0]
	for _, d := range devices {
		if IsOnline(d.LastInform, now, f.Window) == *f.Online {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

// ParameterMap flattens the preloaded parameter rows into path -> value
func (d *Device) ParameterMap() map[string]string {
	out := make(map[string]string, len(d.Parameters))
	for _, p := range d.Parameters {
		out[p.Path] = p.Value
	}
	return out
}

func hasBootEvent(events []string) bool {
	for _, e := range events {
		if e == "1 BOOT" || e == "0 BOOTSTRAP" {
			return true
		}
	}
	return false
}

func paramBySuffix(params map[string]string, suffix string) string {
	for path, value := range params {
		if strings.HasSuffix(path, suffix) {
			return value
		}
	}
	return ""
}
