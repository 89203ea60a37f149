package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wabdesk/wabdesk/internal/config"
	"github.com/wabdesk/wabdesk/internal/crypto"
)

// CacheFileName is the name of the encrypted license cache.
const CacheFileName = "license.dat"

const cacheKeyInfo = "wabdesk-license-cache:v1"

var cacheSalt = []byte("WABDesk license cache")

var (
	// ErrNoCache is returned when no cached record exists.
	ErrNoCache = errors.New("no cached license")
	// ErrCorruptCache is returned when the cache cannot be decrypted or parsed.
	ErrCorruptCache = errors.New("corrupt license cache")
)

// Record is the device-resident copy of the activation. It is the agent's
// only source of truth while offline.
type Record struct {
	DeviceID      string     `json:"deviceId"`
	ActivationID  string     `json:"activationId"`
	LicenseID     string     `json:"licenseId"`
	PlanCode      string     `json:"planCode"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	ActivatedAt   time.Time  `json:"activatedAt"`
	LastHeartbeat time.Time  `json:"lastHeartbeat"`
	// LockedReason is set when the server rejected this device.
	LockedReason Reason `json:"lockedReason,omitempty"`
	// Token is the bearer credential used for server calls.
	Token string `json:"token"`
}

// DefaultCachePath returns the per-OS cache location.
func DefaultCachePath() (string, error) {
	dir, err := config.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CacheFileName), nil
}

// Cache stores a Record encrypted with a key derived from the device ID, so a
// cache copied to another machine does not decrypt.
type Cache struct {
	path     string
	deviceID string
	km       *crypto.KeyManager
}

// NewCache creates a cache at path bound to deviceID.
func NewCache(path, deviceID string) (*Cache, error) {
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	km, err := crypto.NewDerivedKeyManager([]byte(deviceID), cacheSalt, cacheKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("derive cache key: %w", err)
	}
	return &Cache{path: path, deviceID: deviceID, km: km}, nil
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// Load reads and decrypts the cached record.
func (c *Cache) Load() (*Record, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCache
		}
		return nil, fmt.Errorf("read cache: %w", err)
	}

	plaintext, err := c.km.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCache, err)
	}

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCache, err)
	}
	if rec.DeviceID != c.deviceID {
		return nil, fmt.Errorf("%w: device mismatch", ErrCorruptCache)
	}
	return &rec, nil
}

// Save encrypts rec and replaces the cache file atomically.
func (c *Cache) Save(rec *Record) error {
	rec.DeviceID = c.deviceID
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	ciphertext, err := c.km.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt record: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, CacheFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(ciphertext); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

// Remove deletes the cache file. A missing file is not an error.
func (c *Cache) Remove() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache: %w", err)
	}
	return nil
}
