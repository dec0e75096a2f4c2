// Package main runs the collision avoidance demo with a browser viewer.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	iiwaGuard "iiwa_guard"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger("iiwa-demo")

	sceneFile := ""
	rate := 60.0
	addr := "127.0.0.1:8088"
	record := ""
	margin := 0.0
	steps := 0
	logEvery := 240
	timeStep := iiwaGuard.DefaultTimeStep
	debug := false

	flag.StringVar(&sceneFile, "scene", sceneFile, "scene YAML file (default: built-in scene)")
	flag.Float64Var(&rate, "rate", rate, "iterations per second, 0 for unpaced")
	flag.StringVar(&addr, "addr", addr, "viewer listen address, empty to disable")
	flag.StringVar(&record, "record", record, "sqlite file to record every iteration to")
	flag.Float64Var(&margin, "margin", margin, "initial collision margin in metres")
	flag.IntVar(&steps, "steps", steps, "stop after this many iterations, 0 to run until interrupted")
	flag.IntVar(&logEvery, "log-every", logEvery, "log distances every n iterations")
	flag.Float64Var(&timeStep, "time-step", timeStep, "simulated seconds per step")
	flag.BoolVar(&debug, "debug", debug, "debug")
	flag.Parse()

	if debug {
		logger.SetLevel(logging.DEBUG)
	}

	cfg := iiwaGuard.DemoConfig{
		StepRate: rate,
		MaxSteps: steps,
		Margin:   margin,
		LogEvery: logEvery,
		TimeStep: timeStep,
	}

	if sceneFile != "" {
		scene, err := iiwaGuard.LoadScene(sceneFile)
		if err != nil {
			return err
		}
		cfg.Scene = scene
	}

	if record != "" {
		rec, err := iiwaGuard.OpenRecorder(record)
		if err != nil {
			return err
		}
		defer utils.UncheckedErrorFunc(func() error {
			if n := rec.Dropped(); n > 0 {
				logger.Warnf("recorder dropped %d iterations", n)
			}
			return rec.Close()
		})
		cfg.Recorder = rec
	}

	demo, err := iiwaGuard.NewDemo(cfg, logger)
	if err != nil {
		return err
	}

	if addr != "" {
		viewer := iiwaGuard.NewViewer(demo.GUI(), logger)
		demo.SetPublisher(viewer)
		go func() {
			if err := viewer.Serve(ctx, addr); err != nil {
				logger.Errorf("viewer stopped: %v", err)
			}
		}()
	}

	go readParams(ctx, os.Stdin, demo.GUI(), logger)

	logger.Infof("bodies: %v", demo.Bodies().Names())
	logger.Info("set sliders with name=value lines on stdin, e.g. lbr_iiwa_joint1=0.785")
	return demo.Run(ctx)
}

// readParams moves sliders from "name=value" lines until r is exhausted.
func readParams(ctx context.Context, r io.Reader, gui iiwaGuard.ParamSetter, logger logging.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, value, err := parseParamLine(line)
		if err != nil {
			logger.Warn(err)
			continue
		}
		stored, err := gui.SetUserDebugParameter(name, value)
		if err != nil {
			logger.Warn(err)
			continue
		}
		logger.Infof("%s = %.4f", name, stored)
	}
}

func parseParamLine(line string) (string, float64, error) {
	name, raw, ok := strings.Cut(line, "=")
	if !ok {
		return "", 0, fmt.Errorf("expected name=value, got %q", line)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad value for %s: %w", strings.TrimSpace(name), err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "", 0, fmt.Errorf("value for %s must be finite, got %v", strings.TrimSpace(name), value)
	}
	return strings.TrimSpace(name), value, nil
}
