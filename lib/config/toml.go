// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package config

import (
	"fmt"
	"strconv"
	"time"
)

const (
	DefaultVID = 0xa466
	DefaultPID = 0x0a53

	// TL866II
	DefaultModel = 0x05

	DefaultReconnectTimeout = 5 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
)

func stringIfNotEmpty(prefix, val string) string {
	if len(val) > 0 {
		return fmt.Sprintf("%s %s\n", prefix, val)
	}
	return ""
}

type Device struct {
	Name             string   `toml:"name,omitempty"`
	VID              uint16   `toml:"vid"`
	PID              uint16   `toml:"pid"`
	Model            uint8    `toml:"model,omitempty"`
	ReconnectTimeout Duration `toml:"reconnect_timeout,omitempty"`
	PollInterval     Duration `toml:"poll_interval,omitempty"`
}

func (d *Device) String() string {
	var s string
	s += "Device:\n"
	s += stringIfNotEmpty("   Name:", d.Name)
	s += fmt.Sprintf("   VID:PID: 0x%04x:0x%04x\n", d.VID, d.PID)
	if d.Model != 0 {
		s += fmt.Sprintf("   Model: 0x%02x\n", d.Model)
	}
	s += fmt.Sprintf("   Reconnect: %s (poll %s)\n", d.ReconnectTimeout.Duration, d.PollInterval.Duration)
	return s
}

type Update struct {
	Profile Profile `toml:"profile,omitempty"`
	Strict  bool    `toml:"strict"`
	Workers int     `toml:"workers,omitempty"`
	KeyFile string  `toml:"key_file,omitempty"`
	KeyCRC  uint16  `toml:"key_crc,omitempty"`
	Key     []byte  `toml:"-"`
}

func (u *Update) String() string {
	var s string
	s += "Update:\n"
	s += stringIfNotEmpty("   Profile:", u.Profile.String())
	s += fmt.Sprintf("   Strict: %s\n", strconv.FormatBool(u.Strict))
	if u.Workers != 0 {
		s += fmt.Sprintf("   Workers: %d\n", u.Workers)
	}
	s += stringIfNotEmpty("   KeyFile:", u.KeyFile)
	if u.KeyCRC != 0 {
		s += fmt.Sprintf("   KeyCRC: 0x%04x\n", u.KeyCRC)
	}
	return s
}

type Config struct {
	Device *Device `toml:"device,omitempty"`
	Update *Update `toml:"update,omitempty"`
}

func DefaultConfig() *Config {
	c := &Config{}
	c.fillDefaults()
	return c
}

func (c *Config) fillDefaults() {
	if c.Device == nil {
		c.Device = &Device{}
	}
	if c.Device.VID == 0 && c.Device.PID == 0 {
		c.Device.VID, c.Device.PID = DefaultVID, DefaultPID
	}
	if c.Device.Model == 0 {
		c.Device.Model = DefaultModel
	}
	if c.Device.ReconnectTimeout.Duration == 0 {
		c.Device.ReconnectTimeout.Duration = DefaultReconnectTimeout
	}
	if c.Device.PollInterval.Duration == 0 {
		c.Device.PollInterval.Duration = DefaultPollInterval
	}

	if c.Update == nil {
		c.Update = &Update{}
	}
	if c.Update.Profile == "" {
		c.Update.Profile = Auto
	}
}
