// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/usedbytes/log"
	"github.com/usedbytes/tl866-tools/lib/config"
	"github.com/usedbytes/tl866-tools/lib/update"
	"github.com/usedbytes/tl866-tools/lib/xor"
)

var cfg *config.Config

func imageOptions(ctx *cli.Context) (update.Options, error) {
	opts := update.Options{
		Profile: cfg.Update.Profile,
		Strict:  cfg.Update.Strict,
		Key:     cfg.Update.KeyTable(),
	}

	if ctx.IsSet("profile") {
		p, err := config.ParseProfile(ctx.String("profile"))
		if err != nil {
			return opts, err
		}
		opts.Profile = p
	}

	if ctx.IsSet("strict") {
		opts.Strict = ctx.Bool("strict")
	}

	if ctx.IsSet("key") {
		data, err := ioutil.ReadFile(ctx.String("key"))
		if err != nil {
			return opts, errors.Wrap(err, "Reading key file")
		}
		if len(data) != xor.KeyTableLen {
			return opts, fmt.Errorf("key file must be %d bytes, got %d", xor.KeyTableLen, len(data))
		}

		var key xor.KeyTable
		copy(key[:], data)
		opts.Key = &key
	}

	return opts, nil
}

func loadImage(ctx *cli.Context) (*update.Image, error) {
	if ctx.Args().Len() != 1 {
		return nil, fmt.Errorf("INPUT_FILE is required")
	}

	opts, err := imageOptions(ctx)
	if err != nil {
		return nil, err
	}

	return update.LoadImage(ctx.Args().First(), opts)
}

func infoAction(ctx *cli.Context) error {
	img, err := loadImage(ctx)
	if err != nil {
		return err
	}

	log.Println(img.Header())
	log.Println("Profile:    ", img.Profile())
	log.Println("Records:    ", img.NumRecords())
	log.Verbosef("Key table:\n%s\n", img.Header().Key.String())

	return nil
}

func scanAction(ctx *cli.Context) error {
	img, err := loadImage(ctx)
	if err != nil {
		return err
	}

	workers := cfg.Update.Workers
	if ctx.IsSet("workers") {
		workers = ctx.Int("workers")
	}

	bar := pb.StartNew(img.NumRecords())
	results, err := img.Scan(context.Background(), workers, func() { bar.Increment() })
	bar.Finish()
	if err != nil {
		return err
	}

	bad := 0
	for _, res := range results {
		if res.Err != nil {
			log.Println(res.Err)
			bad++
		}
	}

	if bad != 0 {
		return cli.Exit(fmt.Sprintf("%d of %d records are bad", bad, len(results)), 2)
	}

	log.Printf("All %d records OK\n", len(results))

	return nil
}

func dumpAction(ctx *cli.Context) error {
	img, err := loadImage(ctx)
	if err != nil {
		return err
	}

	payload := ctx.Bool("payload")
	for r, err := range img.Records() {
		if err != nil {
			log.Println("ERROR:", err)
			if img.Strict() {
				return err
			}
		}

		log.Println(r)
		if payload {
			log.Println(hex.Dump(r.Payload))
		}
	}

	return nil
}

func extractKeyAction(ctx *cli.Context) error {
	img, err := loadImage(ctx)
	if err != nil {
		return err
	}

	arena, err := img.ExtractKey()
	if err != nil {
		return err
	}

	log.Printf("Recovered %d of %d key bytes\n", arena.Known(), xor.RecoverableLen)

	key := arena.Table()
	log.Verbosef("Key table:\n%s\n", key.String())

	out := ctx.String("output")
	crc, err := config.WriteKey(out, &key)
	if err != nil {
		return err
	}

	log.Printf("Wrote %s, key_crc = 0x%04x\n", out, crc)

	return nil
}

func main() {
	fileFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "profile",
			Usage: "Record profile: auto, obfuscated or unprotected",
		},
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Check the signature and stop at the first bad record",
		},
		&cli.StringFlag{
			Name:  "key",
			Usage: "Use the key table from `FILE` instead of the one in the header",
		},
	}

	app := &cli.App{
		Name:  "otl866",
		Usage: "A tool for working with TL866II firmware updates",
		// Just ignore errors - we'll handle them ourselves in main()
		ExitErrHandler: func(c *cli.Context, e error) {},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:     "verbose",
				Aliases:  []string{"v"},
				Usage:    "Enable more output",
				Required: false,
				Value:    false,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:      "info",
			Usage:     "Show the update file header",
			ArgsUsage: "INPUT_FILE",
			Action:    infoAction,
			Flags:     fileFlags,
		},
		{
			Name:      "scan",
			Usage:     "Check every record and report the bad ones",
			ArgsUsage: "INPUT_FILE",
			Action:    scanAction,
			Flags: append([]cli.Flag{
				&cli.IntFlag{
					Name:  "workers",
					Usage: "Number of records to check in parallel",
				},
			}, fileFlags...),
		},
		{
			Name:      "dump",
			Usage:     "List the records",
			ArgsUsage: "INPUT_FILE",
			Action:    dumpAction,
			Flags: append([]cli.Flag{
				&cli.BoolFlag{
					Name:  "payload",
					Usage: "Hexdump each payload",
				},
			}, fileFlags...),
		},
		{
			Name:      "extract-key",
			Usage:     "Reconstruct the key table from the payload data",
			ArgsUsage: "INPUT_FILE",
			Action:    extractKeyAction,
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					Usage:   "Write the key to `FILE`",
					Value:   "key.bin",
				},
			}, fileFlags...),
		},
		deviceCommand(),
	}

	app.Before = func(ctx *cli.Context) error {
		log.SetUseLog(false)

		log.SetVerbose(ctx.Bool("verbose"))
		log.Verboseln("Extra output enabled.")

		if ctx.IsSet("config") {
			var err error
			cfg, err = config.LoadConfig(ctx.String("config"))
			if err != nil {
				return errors.Wrap(err, "Loading config")
			}
		} else {
			cfg = config.DefaultConfig()
		}

		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Println("ERROR:", err)
		if v, ok := err.(cli.ExitCoder); ok {
			os.Exit(v.ExitCode())
		} else {
			os.Exit(1)
		}
	}
}
