// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package bootloader

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/usedbytes/log"
)

const (
	cmdReport    = 0x00
	cmdResetArm  = 0x3D
	cmdResetFire = 0x3F
	resetMagic   = 0xA578B986
	reportLen    = 41
	ModelTL866II = 0x05
)

type Report struct {
	Status          byte
	FirmwareMinor   byte
	FirmwareMajor   byte
	Model           byte
	DeviceCode      string
	SerialNumber    string
	HardwareVersion byte
}

func (r *Report) FirmwareVersion() string {
	return fmt.Sprintf("%d.%d", r.FirmwareMajor, r.FirmwareMinor)
}

func (r *Report) String() string {
	model := fmt.Sprintf("0x%02x", r.Model)
	if r.Model == ModelTL866II {
		model += " (TL866II)"
	}

	str := ""
	str += fmt.Sprintf("Status:           0x%02x\n", r.Status)
	str += fmt.Sprintf("Firmware version: %s\n", r.FirmwareVersion())
	str += fmt.Sprintf("Model:            %s\n", model)
	str += fmt.Sprintf("Device code:      %s\n", r.DeviceCode)
	str += fmt.Sprintf("Serial number:    %s\n", r.SerialNumber)
	str += fmt.Sprintf("Hardware version: %d", r.HardwareVersion)
	return str
}

func cString(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// Response layout:
//
//	0x00  pad
//	0x01  status
//	0x02  pad[2]
//	0x04  firmware minor, major
//	0x06  model
//	0x07  pad
//	0x08  device code [8]
//	0x10  serial number [20]
//	0x24  pad[4]
//	0x28  hardware version
func parseReport(buf []byte) (*Report, error) {
	if len(buf) < reportLen {
		return nil, errors.Errorf("short report: %d bytes, expected %d", len(buf), reportLen)
	}

	return &Report{
		Status:          buf[0x01],
		FirmwareMinor:   buf[0x04],
		FirmwareMajor:   buf[0x05],
		Model:           buf[0x06],
		DeviceCode:      cString(buf[0x08:0x10]),
		SerialNumber:    cString(buf[0x10:0x24]),
		HardwareVersion: buf[0x28],
	}, nil
}

// Driver speaks the bootloader command set.
type Driver struct {
	t transport
}

func NewDriver(dev *Device) *Driver {
	return &Driver{t: dev}
}

func (d *Driver) Close() {
	d.t.Close()
}

func command(cmd byte) []byte {
	buf := make([]byte, 8)
	buf[0] = cmd
	return buf
}

func (d *Driver) Report() (*Report, error) {
	err := d.t.writeCmd(command(cmdReport))
	if err != nil {
		return nil, errors.Wrap(err, "Sending report request")
	}

	buf, err := d.t.readCmd(reportLen)
	if err != nil {
		return nil, errors.Wrap(err, "Reading report")
	}

	return parseReport(buf)
}

// Reset restarts the device, and reconnects once it comes back.
func (d *Driver) Reset() error {
	arm := command(cmdResetArm)
	binary.LittleEndian.PutUint32(arm[4:], resetMagic)

	err := d.t.writeCmd(arm)
	if err != nil {
		return errors.Wrap(err, "Sending reset")
	}

	err = d.t.writeCmd(command(cmdResetFire))
	if err != nil {
		return errors.Wrap(err, "Sending reset")
	}

	log.Verboseln("Reset sent, waiting for device")

	return d.t.reopen()
}
