// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package keychain stores saved connection strings in the OS credential
// store. Each saved connection is a named profile; the unnamed one is
// "default".
package keychain

import (
	"errors"
	"runtime"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName identifies the rowdeck namespace in the credential store.
const ServiceName = "rowdeck"

// DefaultProfile is used when no profile name is given.
const DefaultProfile = "default"

const dsnPrefix = "dsn:"

// ErrNotFound is returned when a profile has no saved DSN.
var ErrNotFound = errors.New("no saved connection")

var (
	globalManager *Manager
	mu            sync.Mutex
)

// Manager provides thread-safe access to saved connections.
type Manager struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

// NewManager opens the platform credential store.
func NewManager() (*Manager, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              ServiceName,
		AllowedBackends:          backends(),
		PassPrefix:               ServiceName,
		WinCredPrefix:            ServiceName,
		KeychainTrustApplication: true,
		LibSecretCollectionName:  "login",
		KWalletAppID:             ServiceName,
		KWalletFolder:            ServiceName,
	})
	if err != nil {
		return nil, err
	}
	return &Manager{ring: ring}, nil
}

// NewWithRing wraps an already opened keyring.
func NewWithRing(ring keyring.Keyring) *Manager {
	return &Manager{ring: ring}
}

// GetManager returns the process-wide manager, opening it on first use.
// A failed open is retried on the next call.
func GetManager() (*Manager, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalManager != nil {
		return globalManager, nil
	}
	m, err := NewManager()
	if err != nil {
		return nil, err
	}
	globalManager = m
	return m, nil
}

func backends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend, keyring.PassBackend}
	case "windows":
		return []keyring.BackendType{keyring.WinCredBackend}
	default:
		return []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend, keyring.KeyCtlBackend, keyring.PassBackend}
	}
}

func key(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = DefaultProfile
	}
	return dsnPrefix + profile
}

// SaveDSN stores dsn under profile.
func (m *Manager) SaveDSN(profile, dsn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Set(keyring.Item{
		Key:         key(profile),
		Data:        []byte(dsn),
		Label:       "rowdeck connection " + strings.TrimPrefix(key(profile), dsnPrefix),
		Description: "PostgreSQL connection string",
	})
}

// LoadDSN returns the DSN saved under profile, or ErrNotFound.
func (m *Manager) LoadDSN(profile string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, err := m.ring.Get(key(profile))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if len(it.Data) == 0 {
		return "", ErrNotFound
	}
	return string(it.Data), nil
}

// DeleteDSN removes a saved profile. Removing a missing profile is not an
// error.
func (m *Manager) DeleteDSN(profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ring.Remove(key(profile)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}

// Profiles lists saved profile names.
func (m *Manager) Profiles() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys, err := m.ring.Keys()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if name, ok := strings.CutPrefix(k, dsnPrefix); ok {
			out = append(out, name)
		}
	}
	return out, nil
}
