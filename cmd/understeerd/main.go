// Command understeerd runs the wheel/shifter-to-virtual-joystick
// bridge: it enumerates physical devices, builds the synthetic
// joystick, and services its force-feedback callbacks until signaled
// to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/hidemune/understeer-go/config"
	"github.com/hidemune/understeer-go/device"
	"github.com/hidemune/understeer-go/supervisor"
	"github.com/hidemune/understeer-go/xdg"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		listDevices = flag.Bool("list-devices", false, "list accessible input devices and exit")
		configFile  = flag.String("config", xdg.ConfigPath("understeer/config.yaml"), "path to the YAML configuration file")
	)

	fs := flag.CommandLine

	cfg, err := config.Parse(fs, os.Args[1:], resolveConfigPath(*configFile))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if *listDevices {
		return runListDevices()
	}

	log := newLogger(cfg)

	s := supervisor.New(log, cfg)

	if err := s.Run(context.Background()); err != nil {
		log.Error("understeerd: exiting", "err", err)

		if cfg.WheelPath == "" && cfg.WheelName == "" {
			return 2
		}

		return 3
	}

	return 0
}

// resolveConfigPath avoids treating the default config path as a hard
// requirement: if it doesn't exist, config.Parse treats an empty path
// as "no file", so an absent default config is silent rather than an
// error.
func resolveConfigPath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	return path
}

func runListDevices() int {
	infos, err := device.List()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	for _, info := range infos {
		fmt.Printf("%s\t%s\tbus=%d vendor=%#04x product=%#04x\thidraw=%s\n",
			info.Path, info.Name, info.ID.Bustype, info.ID.Vendor, info.ID.Product, info.HidrawPath)
	}

	return 0
}

// newLogger builds the process-wide structured logger, installing the
// delta-timed formatting the original console tool used when running
// in text mode.
func newLogger(cfg config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFormat == "text" {
		opts.ReplaceAttr = deltaMillisAttr()
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// deltaMillisAttr ports the original console tool's DeltaColorFormatter:
// every log line carries a delta_ms attribute counting milliseconds
// since the previous line, for parity with the interactive console
// experience.
func deltaMillisAttr() func([]string, slog.Attr) slog.Attr {
	var last atomic.Int64

	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.TimeKey || len(groups) > 0 {
			return a
		}

		now := time.Now().UnixMilli()
		prev := last.Swap(now)

		delta := int64(0)
		if prev != 0 {
			delta = now - prev
		}

		return slog.Int64("delta_ms", delta)
	}
}
