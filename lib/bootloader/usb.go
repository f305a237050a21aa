// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package bootloader

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
	"github.com/usedbytes/log"
	"github.com/usedbytes/tl866-tools/lib/config"
)

var closedErr error = errors.New("device closed")

// transport is what the driver needs from the device
type transport interface {
	writeCmd(buf []byte) error
	readCmd(size int) ([]byte, error)
	reopen() error
	Close()
}

// Device is an open USB connection to the bootloader.
type Device struct {
	bg    context.Context
	cfg   *config.Device
	ctx   *gousb.Context
	dev   *gousb.Device
	ucfg  *gousb.Config
	intf  *gousb.Interface
	outEp [2]*gousb.OutEndpoint
	inEp  *gousb.InEndpoint

	bus, port, address int

	closed bool
}

func matchID(cfg *config.Device) func(desc *gousb.DeviceDesc) bool {
	return func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(cfg.VID) && desc.Product == gousb.ID(cfg.PID)
	}
}

// List returns a description of each attached device matching cfg.
func List(cfg *config.Device) ([]string, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []string
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if matchID(cfg)(desc) {
			found = append(found, desc.String())
		}
		// Don't actually open anything
		return false
	})

	return found, err
}

// Open connects to the first attached device matching cfg.
func Open(cfg *config.Device) (*Device, error) {
	d := &Device{
		bg:  context.Background(),
		cfg: cfg,
		ctx: gousb.NewContext(),
	}

	log.Verbosef("Open %04x:%04x\n", cfg.VID, cfg.PID)

	dev, err := d.ctx.OpenDeviceWithVIDPID(gousb.ID(cfg.VID), gousb.ID(cfg.PID))
	if err != nil {
		d.Close()
		return nil, err
	} else if dev == nil {
		d.Close()
		return nil, errors.New("Couldn't find a matching device")
	}

	err = d.claim(dev)
	if err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

func (d *Device) claim(dev *gousb.Device) error {
	d.dev = dev
	d.bus, d.port, d.address = dev.Desc.Bus, dev.Desc.Port, dev.Desc.Address

	err := d.dev.SetAutoDetach(true)
	if err != nil {
		return err
	}

	num, err := d.dev.ActiveConfigNum()
	if err != nil {
		return err
	}

	d.ucfg, err = d.dev.Config(num)
	if err != nil {
		return err
	}

	d.intf, err = d.ucfg.Interface(0, 0)
	if err != nil {
		return err
	}

	for i := range d.outEp {
		d.outEp[i], err = d.intf.OutEndpoint(i + 1)
		if err != nil {
			return err
		}
	}

	d.inEp, err = d.intf.InEndpoint(1)
	if err != nil {
		return err
	}

	log.Verboseln(d.intf)
	log.Verboseln(d.inEp)

	return nil
}

func (d *Device) release() {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	if d.ucfg != nil {
		d.ucfg.Close()
		d.ucfg = nil
	}
	if d.dev != nil {
		d.dev.Close()
		d.dev = nil
	}
	d.outEp = [2]*gousb.OutEndpoint{}
	d.inEp = nil
}

func (d *Device) Close() {
	if d.closed {
		return
	}

	d.release()
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}

	d.closed = true
}

// splitCommand works out which OUT endpoint each part of a command goes
// to. Long commands are split between the two endpoints.
func splitCommand(buf []byte) ([][]byte, error) {
	switch {
	case len(buf) <= 64:
		return [][]byte{buf, nil}, nil
	case len(buf) == 72:
		return [][]byte{buf[:8], buf[8:]}, nil
	}

	return nil, errors.Errorf("writes of %d bytes not supported", len(buf))
}

func (d *Device) writeCmd(buf []byte) error {
	if d.closed || d.dev == nil {
		return closedErr
	}

	parts, err := splitCommand(buf)
	if err != nil {
		return err
	}

	log.Verbose("Write\n", hex.Dump(buf))

	for i, part := range parts {
		if part == nil {
			continue
		}

		n, err := d.outEp[i].Write(part)
		if err != nil {
			return err
		} else if n != len(part) {
			return errors.New("Short write")
		}
	}

	return nil
}

func (d *Device) readCmd(size int) ([]byte, error) {
	if d.closed || d.dev == nil {
		return nil, closedErr
	}

	to, cancel := context.WithTimeout(d.bg, 1*time.Second)
	defer cancel()

	buf := make([]byte, size)
	n, err := d.inEp.ReadContext(to, buf)
	if err != nil {
		return nil, err
	}
	log.Verbose("Read ", n, "\n", hex.Dump(buf[:n]))

	return buf[:n], nil
}

// reopen waits for the device to come back after a reset. It has to
// appear on the same port, with a new address.
func (d *Device) reopen() error {
	if d.closed {
		return closedErr
	}

	d.release()

	timeout := d.cfg.ReconnectTimeout.Duration
	if timeout == 0 {
		timeout = config.DefaultReconnectTimeout
	}
	interval := d.cfg.PollInterval.Duration
	if interval == 0 {
		interval = config.DefaultPollInterval
	}

	var found *gousb.Device
	log.Printf("Reconnect... ")
	deadline := time.Now().Add(timeout)
	for found == nil && time.Now().Before(deadline) {
		time.Sleep(interval)
		log.Verbosef(".")

		devs, err := d.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
			return desc.Bus == d.bus && desc.Port == d.port && desc.Address != d.address
		})
		if err != nil {
			log.Verboseln("\nOpenDevices:", err)
		}
		for _, dev := range devs {
			if found == nil {
				found = dev
			} else {
				dev.Close()
			}
		}
	}
	log.Printf("\n")

	if found == nil {
		return errors.New("device did not reconnect after reset")
	}

	if !matchID(d.cfg)(found.Desc) {
		found.Close()
		return errors.Errorf("wrong device reconnected after reset: %s:%s", found.Desc.Vendor, found.Desc.Product)
	}

	return d.claim(found)
}
