// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package dsn

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Source names where a connection string came from.
type Source string

const (
	SourceFlag     Source = "flag"
	SourceEnv      Source = "environment"
	SourceConfig   Source = "config"
	SourceKeychain Source = "keychain"
)

// EnvVars are consulted in order after the --dsn flag.
var EnvVars = []string{"ROWDECK_DSN", "DATABASE_URL"}

// ErrNoDSN is returned when no source provides a connection string.
var ErrNoDSN = errors.New("no database connection configured")

// Store loads a saved DSN. *keychain.Manager implements it.
type Store interface {
	LoadDSN(profile string) (string, error)
}

// Lookup describes what Resolve may consult.
type Lookup struct {
	Flag    string
	Config  string
	Store   Store
	Profile string
	// Getenv defaults to os.LookupEnv.
	Getenv func(string) (string, bool)
}

// Resolved is a normalized connection string and its origin.
type Resolved struct {
	DSN    string
	Source Source
	// Detail names the variable or profile the DSN came from.
	Detail string
}

// Resolve finds the connection string: the flag, then ROWDECK_DSN and
// DATABASE_URL, then the config file, then the keychain profile. The first
// non-empty source wins and must be valid.
func Resolve(l Lookup) (Resolved, error) {
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.LookupEnv
	}
	pick := func(raw string, src Source, detail string) (Resolved, error) {
		norm, err := Normalize(raw)
		if err != nil {
			return Resolved{}, fmt.Errorf("%s DSN: %w", src, err)
		}
		return Resolved{DSN: norm, Source: src, Detail: detail}, nil
	}

	if s := strings.TrimSpace(l.Flag); s != "" {
		return pick(s, SourceFlag, "--dsn")
	}
	for _, name := range EnvVars {
		if v, ok := getenv(name); ok && strings.TrimSpace(v) != "" {
			return pick(v, SourceEnv, name)
		}
	}
	if s := strings.TrimSpace(l.Config); s != "" {
		return pick(s, SourceConfig, "database.dsn")
	}
	if l.Store != nil {
		v, err := l.Store.LoadDSN(l.Profile)
		if err == nil && strings.TrimSpace(v) != "" {
			profile := l.Profile
			if profile == "" {
				profile = "default"
			}
			return pick(v, SourceKeychain, profile)
		}
	}
	return Resolved{}, ErrNoDSN
}
