// Package discover enumerates candidate serial devices for the operator
// channel via udev, standing in for the manual "usually /dev/tty..."
// device-name guessing Dire Wolf's serial_port_open left to the
// operator. It is best-effort: failures here never prevent startup with
// an explicitly configured device path.
package discover

import (
	"sort"

	"github.com/jochenvg/go-udev"

	"github.com/mamsctl/mams/internal/errs"
)

// Device is one candidate serial device.
type Device struct {
	Path   string
	Vendor string
	Model  string
}

// ListSerialDevices enumerates /dev nodes in the tty subsystem that carry
// a USB vendor ID, the same heuristic a human picks a TNC cable out of a
// `ls /dev/tty*` listing by.
func ListSerialDevices() ([]Device, error) {
	u := udev.Udev{}
	enum := u.NewEnumerate()
	if err := enum.AddMatchSubsystem("tty"); err != nil {
		return nil, errs.Newf(errs.Unexpected, "udev match subsystem: %v", err)
	}
	if err := enum.AddMatchProperty("ID_BUS", "usb"); err != nil {
		return nil, errs.Newf(errs.Unexpected, "udev match property: %v", err)
	}

	devices, err := enum.Devices()
	if err != nil {
		return nil, errs.Newf(errs.Unexpected, "udev enumerate: %v", err)
	}

	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		node := d.Devnode()
		if node == "" {
			continue
		}
		out = append(out, Device{
			Path:   node,
			Vendor: d.PropertyValue("ID_VENDOR"),
			Model:  d.PropertyValue("ID_MODEL"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// ResolveSerialDevice picks the operator serial device: the first
// USB-attached tty node udev finds, falling back to the explicitly
// configured path when enumeration fails or turns up nothing (and erroring
// only if neither yields a candidate).
func ResolveSerialDevice(configuredFallback string) (string, error) {
	devices, err := ListSerialDevices()
	if err == nil && len(devices) > 0 {
		return devices[0].Path, nil
	}
	if configuredFallback != "" {
		return configuredFallback, nil
	}
	if err != nil {
		return "", errs.Newf(errs.Unexpected, "discover: udev enumeration failed and no fallback configured: %v", err)
	}
	return "", errs.New(errs.Unexpected, "discover: no USB serial device found and no fallback configured")
}
