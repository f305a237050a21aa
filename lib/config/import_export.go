// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/usedbytes/tl866-tools/lib/xor"
)

// KeyTable returns the loaded key, or nil if there isn't one.
func (u *Update) KeyTable() *xor.KeyTable {
	if len(u.Key) != xor.KeyTableLen {
		return nil
	}

	var k xor.KeyTable
	copy(k[:], u.Key)
	return &k
}

func (u *Update) LoadData() error {
	if len(u.KeyFile) == 0 {
		return nil
	}

	data, err := ioutil.ReadFile(u.KeyFile)
	if err != nil {
		return err
	}

	if len(data) != xor.KeyTableLen {
		return errors.Errorf("key file %s: expected %d bytes, got %d", u.KeyFile, xor.KeyTableLen, len(data))
	}
	u.Key = data

	if u.KeyCRC != 0 {
		crc := xor.Fingerprint(u.KeyTable())
		if crc != u.KeyCRC {
			return errors.Errorf("key file %s: CRC mismatch, expected %04x got %04x", u.KeyFile, u.KeyCRC, crc)
		}
	}

	return nil
}

// WriteKey writes key to filename, and returns the CRC to put in key_crc
func WriteKey(filename string, key *xor.KeyTable) (uint16, error) {
	f, err := os.Create(filename)
	if err != nil {
		return 0, err
	}

	n, err := f.Write(key[:])
	if err != nil {
		f.Close()
		return 0, err
	} else if n != len(key) {
		f.Close()
		return 0, errors.New("short write for key")
	}

	err = f.Close()
	if err != nil {
		return 0, err
	}

	return xor.Fingerprint(key), nil
}

func (c *Config) WriteTOML(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}

	enc := toml.NewEncoder(f)
	err = enc.Encode(c)
	if err != nil {
		f.Close()
		return err
	}

	err = f.Close()
	return err
}

func LoadConfig(filename string) (*Config, error) {
	var cfg = &Config{}
	_, err := toml.DecodeFile(filename, cfg)
	if err != nil {
		return nil, err
	}

	cfg.fillDefaults()

	// Key files are relative to the config
	if len(cfg.Update.KeyFile) != 0 && !filepath.IsAbs(cfg.Update.KeyFile) {
		abs, err := filepath.Abs(filename)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't determine absolute path")
		}
		cfg.Update.KeyFile = filepath.Join(filepath.Dir(abs), cfg.Update.KeyFile)
	}

	err = cfg.Update.LoadData()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}
