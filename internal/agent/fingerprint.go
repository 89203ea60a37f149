// Package agent implements the desktop side of WABDesk licensing: device
// fingerprinting, the encrypted local license cache, offline grace judgement,
// startup validation and the heartbeat scheduler.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// deviceIDPrefix versions the fingerprint derivation.
const deviceIDPrefix = "wabdesk-device:v1|"

// Fingerprinter derives a stable device identifier for this installation.
// The source functions are replaceable for tests.
type Fingerprinter struct {
	HostID   func(ctx context.Context) (string, error)
	HostInfo func(ctx context.Context) (*host.InfoStat, error)
	Hostname func() (string, error)
}

// NewFingerprinter returns a Fingerprinter backed by the operating system.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{
		HostID:   host.HostIDWithContext,
		HostInfo: host.InfoWithContext,
		Hostname: os.Hostname,
	}
}

// DeviceID returns the 64 character hex device identifier. The machine's host
// ID is preferred; without one the identifier is derived from the OS, the
// architecture, the hostname and the platform details.
func (f *Fingerprinter) DeviceID(ctx context.Context) (string, error) {
	source, err := f.source(ctx)
	if err != nil {
		return "", err
	}
	return HashDeviceSource(source), nil
}

func (f *Fingerprinter) source(ctx context.Context) (string, error) {
	if f.HostID != nil {
		id, err := f.HostID(ctx)
		if err == nil && strings.TrimSpace(id) != "" {
			return strings.ToLower(strings.TrimSpace(id)), nil
		}
	}

	var hostname, platform, kernel string
	if f.Hostname != nil {
		if name, err := f.Hostname(); err == nil {
			hostname = name
		}
	}
	if f.HostInfo != nil {
		if info, err := f.HostInfo(ctx); err == nil && info != nil {
			if hostname == "" {
				hostname = info.Hostname
			}
			platform = info.Platform + " " + info.PlatformVersion
			kernel = info.KernelVersion
		}
	}
	if hostname == "" && kernel == "" {
		return "", errors.New("no host identity available")
	}

	return fmt.Sprintf("%s|%s|%s|%s|%s", runtime.GOOS, runtime.GOARCH, hostname, strings.TrimSpace(platform), kernel), nil
}

// HashDeviceSource maps raw host identity to a device identifier.
func HashDeviceSource(source string) string {
	sum := sha256.Sum256([]byte(deviceIDPrefix + source))
	return hex.EncodeToString(sum[:])
}
