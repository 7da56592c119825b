/*
Hermes DICOM Router
Copyright © 2024 Hermes contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.
*/

// Command router runs the Hermes router service (spec.md §4.1).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/hermes-dicom/hermes/internal/config"
	"github.com/hermes-dicom/hermes/internal/hermeslog"
	"github.com/hermes-dicom/hermes/internal/herrors"
	"github.com/hermes-dicom/hermes/internal/lifecycle"
	"github.com/hermes-dicom/hermes/internal/routing"
	"github.com/hermes-dicom/hermes/internal/scheduler"
	"github.com/hermes-dicom/hermes/internal/telemetry"
)

var version = "go-build"

func main() {
	app := cli.NewApp()
	app.Name = "hermes-router"
	app.Usage = "Hermes DICOM series router"
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
	log := hermeslog.New("router", c.Bool("debug"))
	defer hermeslog.Sync()

	log.Printf("Hermes DICOM Router %s", version)
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
	metrics := telemetry.NewMetrics(reg, fmt.Sprintf("%s:%d", cfg.GraphiteIP, cfg.GraphitePort), "hermes.router."+c.String("instance")+".", log)
	var sink telemetry.Sink
	if cfg.Bookkeeper != "" {
		sink = telemetry.NewBookkeeperSink(cfg.Bookkeeper, log)
	}
	monitor := telemetry.NewMonitor("router", c.String("instance"), sink, metrics, log)
	monitor.SendEvent(telemetry.EventBoot, telemetry.SeverityInfo, fmt.Sprintf("pid = %d", os.Getpid()))

	router := &routing.Router{
		IncomingDir:     cfg.IncomingFolder,
		OutgoingDir:     cfg.OutgoingFolder,
		CompleteTrigger: cfg.SeriesCompleteTriggerDuration(),
		Evaluator:       routing.StaticEvaluator{Targets: cfg.StaticTargets},
		Monitor:         monitor,
		Log:             log,
	}

	ctrl := lifecycle.NewController(log, nil)
	router.IsTerminated = ctrl.IsTerminated

	task := func() {
		monitor.CountRun()
		if err := router.ScanAndRoute(); err != nil {
			log.Error("router scan failed", err, nil)
			monitor.SendEvent(telemetry.EventConfigUpdate, telemetry.SeverityWarning, "unable to update configuration, possibly locked")
		}
	}

	interval := time.Duration(cfg.RouterScanInterval) * time.Second
	runner := scheduler.New(interval, task, ctrl.IsTerminated, log)
	if err := runner.WatchPaths(cfg.IncomingFolder); err != nil {
		log.Debugf("router: fsnotify watch unavailable: %v", err)
	}
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
