// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/metrics"
	"github.com/ffutop/modbus-master/internal/poller"
	"github.com/ffutop/modbus-master/internal/publish"
	"github.com/ffutop/modbus-master/internal/snapshot"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/transport/rtu"
)

// writeRequest is one --write ADDR=VALUE argument.
type writeRequest struct {
	Address uint16
	Value   int
}

type options struct {
	writes []writeRequest
	verify bool
}

func main() {
	configFile := pflag.StringP("config", "c", "", "Path to config file")
	writes := pflag.StringArray("write", nil, "Write a holding register instead of polling, as ADDR=VALUE (repeatable)")
	noVerify := pflag.Bool("no-verify", false, "Skip the read-back after each --write")
	pflag.Parse()

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	requests, err := parseWrites(*writes)
	if err != nil {
		fmt.Printf("Invalid --write: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, options{writes: requests, verify: !*noVerify}); err != nil {
		slog.Error("modbus master failed", "kind", modbus.Kind(err), "err", err)
		os.Exit(1)
	}
}

// run performs one poll, or the requested writes, against the configured
// slave and prints the registers involved.
func run(ctx context.Context, cfg *config.Config, opts options) error {
	collector := metrics.NewCollector()
	if cfg.Metrics.Pushgateway != "" {
		defer func() {
			if perr := collector.Push(context.Background(), cfg.Metrics.Pushgateway, cfg.Metrics.Job); perr != nil {
				slog.Warn("metrics not pushed", "err", perr)
			}
		}()
	}

	client := rtu.NewClient(cfg.Device, rtu.WithObserver(collector))
	defer client.Close()

	store, err := snapshot.Open(cfg.Snapshot)
	if err != nil {
		return err
	}
	defer store.Close()

	sinks := []poller.Sink{poller.StoreSink(store), collector}
	if cfg.MQTT.Broker != "" && len(opts.writes) == 0 {
		publisher := publish.NewPublisher(cfg.MQTT)
		if err := publisher.Connect(); err != nil {
			return err
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	p := poller.New(client, byte(cfg.Device.SlaveID), cfg.Poll, sinks...)
	if prev, err := store.Load(); err != nil {
		slog.Warn("ignoring stored snapshot", "type", cfg.Snapshot.Type, "err", err)
	} else if !prev.IsZero() {
		slog.Info("previous reading", "time", prev.Time, "start", prev.Start, "values", prev.Values)
		p.Seed(prev)
	}

	if len(opts.writes) > 0 {
		for _, w := range opts.writes {
			got, err := p.Write(ctx, w.Address, w.Value, opts.verify)
			if err != nil {
				return err
			}
			fmt.Printf("HR%d = %d\n", w.Address, got)
		}
		return nil
	}

	s, err := p.Poll(ctx)
	if err != nil {
		if last, _ := p.Last(); !last.IsZero() {
			slog.Info("last good reading", "time", last.Time, "values", last.Values)
		}
		return err
	}
	for i, v := range s.Values {
		fmt.Printf("HR%d = %d\n", int(s.Start)+i, v)
	}
	return nil
}

// parseWrites parses ADDR=VALUE pairs. Both sides accept decimal or 0x hex;
// VALUE may fall outside 16 bits and is masked on the wire.
func parseWrites(args []string) ([]writeRequest, error) {
	requests := make([]writeRequest, 0, len(args))
	for _, arg := range args {
		addr, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("%q: want ADDR=VALUE", arg)
		}
		a, err := strconv.ParseUint(strings.TrimSpace(addr), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("%q: bad address: %w", arg, err)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(value), 0, strconv.IntSize)
		if err != nil {
			return nil, fmt.Errorf("%q: bad value: %w", arg, err)
		}
		requests = append(requests, writeRequest{Address: uint16(a), Value: int(v)})
	}
	return requests, nil
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stderr: %v\n", err)
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		// stdout carries the register values
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
