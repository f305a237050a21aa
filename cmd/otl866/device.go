// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package main

import (
	"github.com/urfave/cli/v2"
	"github.com/usedbytes/log"
	"github.com/usedbytes/tl866-tools/lib/bootloader"
)

func openDriver() (*bootloader.Driver, error) {
	dev, err := bootloader.Open(cfg.Device)
	if err != nil {
		return nil, err
	}

	return bootloader.NewDriver(dev), nil
}

func listAction(ctx *cli.Context) error {
	devs, err := bootloader.List(cfg.Device)
	if err != nil {
		return err
	}

	if len(devs) == 0 {
		log.Printf("No devices found matching %04x:%04x\n", cfg.Device.VID, cfg.Device.PID)
		return nil
	}

	for _, d := range devs {
		log.Println(d)
	}

	return nil
}

func reportAction(ctx *cli.Context) error {
	drv, err := openDriver()
	if err != nil {
		return err
	}
	defer drv.Close()

	r, err := drv.Report()
	if err != nil {
		return err
	}

	log.Println(r)
	if r.Model != cfg.Device.Model {
		log.Printf("WARNING: Expected model 0x%02x\n", cfg.Device.Model)
	}

	return nil
}

func resetAction(ctx *cli.Context) error {
	drv, err := openDriver()
	if err != nil {
		return err
	}
	defer drv.Close()

	err = drv.Reset()
	if err != nil {
		return err
	}

	log.Println(">>> Reconnected")

	r, err := drv.Report()
	if err != nil {
		return err
	}
	log.Println(r)

	return nil
}

func deviceCommand() *cli.Command {
	return &cli.Command{
		Name:  "device",
		Usage: "Talk to the bootloader",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Action: listAction,
			},
			{
				Name:   "report",
				Action: reportAction,
			},
			{
				Name:   "reset",
				Action: resetAction,
			},
		},
	}
}
