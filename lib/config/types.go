// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package config

import (
	"fmt"
	"time"
)

// Profile selects how record fields are interpreted.
type Profile string

const (
	// Pick based on the header signature
	Auto Profile = "auto"
	// Addresses are scrambled and records carry a CRC
	Obfuscated Profile = "obfuscated"
	// Records are passed through untouched
	Unprotected Profile = "unprotected"
)

func (p Profile) String() string {
	return string(p)
}

func ParseProfile(str string) (Profile, error) {
	p := Profile(str)
	switch p {
	case Auto, Obfuscated, Unprotected:
		return p, nil
	case "":
		return Auto, nil
	}

	return "", fmt.Errorf("unrecognised profile: %s", str)
}

func (p *Profile) UnmarshalText(text []byte) error {
	parsed, err := ParseProfile(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Profile) MarshalText() ([]byte, error) {
	return []byte(string(p)), nil
}

// Duration is a time.Duration which can be written as "100ms" in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
