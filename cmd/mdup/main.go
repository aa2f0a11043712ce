package main

import (
	"context"
	"os"

	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/urfave/cli/v2"

	"github.com/mdxtools/mdup/pkg/config"
	"github.com/mdxtools/mdup/pkg/mdapi"
	"github.com/mdxtools/mdup/pkg/uploader"
	"github.com/mdxtools/mdup/pkg/version"
)

func main() {
	log := logger.New()

	app := &cli.App{
		Name:    "mdup",
		Usage:   "bulk chapter uploader for MangaDex",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the configuration file",
				Value:   "config.json",
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "upload from this directory instead of the configured one",
			},
			&cli.BoolFlag{
				Name:  "widestrip",
				Usage: "split oversized pages along their width instead of their height",
			},
			&cli.BoolFlag{
				Name:  "combine",
				Usage: "merge undersized pages into their neighbor instead of dropping them",
			},
			&cli.IntFlag{
				Name:  "threads",
				Usage: "number of concurrent page batch uploads",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("upload run failed")
	}
}

func run(c *cli.Context) error {
	log := logger.New()
	log.Info("starting mdup", logger.Data{"version": version.Version})

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("dir") {
		cfg.Paths.UploadsDir = c.String("dir")
	}
	if c.IsSet("widestrip") {
		cfg.Options.Widestrip = c.Bool("widestrip")
	}
	if c.IsSet("combine") {
		cfg.Options.Combine = c.Bool("combine")
	}
	if c.IsSet("threads") {
		cfg.Options.NumberThreads = c.Int("threads")
	}

	names, err := config.LoadNameIDMap(cfg.Paths.NameIDMapFile)
	if err != nil {
		log.Err(err).Warn("name-to-ID map couldn't be read, only UUID names will resolve")
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	graceful := signals.Setup()
	go func() {
		<-graceful
		log.Info("interrupt received, finishing the item in flight")
		cancel()
	}()

	client := mdapi.New(cfg)
	if err := client.Tokens().EnsureLoggedIn(ctx); err != nil {
		return err
	}
	log.Info("logged in", logger.Data{"username": cfg.Credentials.Username})

	return uploader.New(cfg, client, names).Run(ctx)
}
