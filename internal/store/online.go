package store

import "time"

// DefaultOnlineWindow is how recent a device's last Inform must be for the
// device to count as online.
const DefaultOnlineWindow = 15 * time.Minute

// IsOnline derives online status from the last Inform timestamp. There is no
// explicit connect/disconnect signal in CWMP, so this is a best-effort
// approximation: a device is considered online iff its last Inform is less
// than window old. A zero window selects DefaultOnlineWindow.
func IsOnline(lastInform *time.Time, now time.Time, window time.Duration) bool {
	if lastInform == nil {
		return false
	}
	if window <= 0 {
		window = DefaultOnlineWindow
	}
	return now.Sub(*lastInform) < window
}

// Online reports the derived online status for the device
func (d *Device) Online(now time.Time, window time.Duration) bool {
	return IsOnline(d.LastInform, now, window)
}
