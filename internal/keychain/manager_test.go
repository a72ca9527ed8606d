// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package keychain

import (
	"errors"
	"slices"
	"testing"

	"github.com/99designs/keyring"
)

func TestSaveLoadDeleteProfiles(t *testing.T) {
	m := NewWithRing(keyring.NewArrayKeyring(nil))

	if _, err := m.LoadDSN(""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty ring: got %v, want ErrNotFound", err)
	}
	if err := m.SaveDSN("", "postgres://app@db/app"); err != nil {
		t.Fatalf("SaveDSN: %v", err)
	}
	if err := m.SaveDSN("staging", "postgres://app@staging/app"); err != nil {
		t.Fatalf("SaveDSN: %v", err)
	}

	got, err := m.LoadDSN(DefaultProfile)
	if err != nil || got != "postgres://app@db/app" {
		t.Fatalf("LoadDSN(default) = %q, %v", got, err)
	}
	profiles, err := m.Profiles()
	if err != nil {
		t.Fatalf("Profiles: %v", err)
	}
	slices.Sort(profiles)
	if !slices.Equal(profiles, []string{"default", "staging"}) {
		t.Fatalf("Profiles = %v", profiles)
	}

	if err := m.DeleteDSN("staging"); err != nil {
		t.Fatalf("DeleteDSN: %v", err)
	}
	if err := m.DeleteDSN("staging"); err != nil {
		t.Fatalf("second DeleteDSN: %v", err)
	}
	if _, err := m.LoadDSN("staging"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted profile: got %v", err)
	}
}
