/*
Hermes DICOM Cleaner
Copyright © 2024 Hermes contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.
*/

// Command cleaner runs the Hermes cleaner service (spec.md §4.3).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/hermes-dicom/hermes/internal/cleanup"
	"github.com/hermes-dicom/hermes/internal/config"
	"github.com/hermes-dicom/hermes/internal/hermeslog"
	"github.com/hermes-dicom/hermes/internal/herrors"
	"github.com/hermes-dicom/hermes/internal/lifecycle"
	"github.com/hermes-dicom/hermes/internal/scheduler"
	"github.com/hermes-dicom/hermes/internal/telemetry"
)

var version = "go-build"

func main() {
	app := cli.NewApp()
	app.Name = "hermes-cleaner"
	app.Usage = "Hermes DICOM series cleaner"
	app.Version = version
	app.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:     "config",
			Usage:    "Configuration file to use",
			Required: true,
			EnvVars:  []string{"HERMES_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "instance",
			Usage:   "Instance name, used in logging and telemetry",
			Value:   "main",
			EnvVars: []string{"HERMES_INSTANCE"},
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug logging",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := hermeslog.New("cleaner", c.Bool("debug"))
	defer hermeslog.Sync()

	log.Printf("Hermes DICOM Cleaner %s", version)
	log.Printf("instance = %s, pid = %d", c.String("instance"), os.Getpid())

	cfg, err := config.Load(c.Path("config"))
	if err != nil {
		log.Error("cannot start service, going down", err, nil)
		if herrors.IsFatal(err) {
			os.Exit(1)
		}
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg, fmt.Sprintf("%s:%d", cfg.GraphiteIP, cfg.GraphitePort), "hermes.cleaner."+c.String("instance")+".", log)
	var sink telemetry.Sink
	if cfg.Bookkeeper != "" {
		sink = telemetry.NewBookkeeperSink(cfg.Bookkeeper, log)
	}
	monitor := telemetry.NewMonitor("cleaner", c.String("instance"), sink, metrics, log)
	monitor.SendEvent(telemetry.EventBoot, telemetry.SeverityInfo, fmt.Sprintf("pid = %d", os.Getpid()))

	cleaner := &cleanup.Cleaner{
		SuccessDir:   cfg.SuccessFolder,
		DiscardDir:   cfg.DiscardFolder,
		OffpeakStart: cfg.OffpeakStart,
		OffpeakEnd:   cfg.OffpeakEnd,
		Retention:    cfg.RetentionDuration(),
		Monitor:      monitor,
		Log:          log,
	}

	ctrl := lifecycle.NewController(log, nil)

	task := func() {
		monitor.CountRun()
		if err := cleaner.Clean(); err != nil {
			log.Error("cleaner tick failed", err, nil)
			monitor.SendEvent(telemetry.EventConfigUpdate, telemetry.SeverityWarning, "unable to update configuration, possibly locked")
		}
	}

	interval := time.Duration(cfg.CleanerScanInterval) * time.Second
	runner := scheduler.New(interval, task, ctrl.IsTerminated, log)
	ctrl.OnShutdown(func() { runner.Stop() })

	done := make(chan struct{})
	go func() {
		ctrl.HandleSignals(done)
	}()

	ctrl.NotifyReady()
	runner.Run()
	close(done)

	monitor.SendEvent(telemetry.EventShutdown, telemetry.SeverityInfo, "")
	log.Printf("going down now")
	return nil
}
