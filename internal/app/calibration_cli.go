package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/calibration"
	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/device"
	"github.com/relabs-tech/device_mapper/internal/mapper"
	"github.com/relabs-tech/device_mapper/internal/mapping"
	"github.com/relabs-tech/device_mapper/internal/persist"
)

// CalibrationTarget is the target the terminal calibration binds.
const CalibrationTarget = "calibration"

// CalibrationRequest names the axis to calibrate and the input feeding
// it.
type CalibrationRequest struct {
	Input   mapping.Input
	Kind    axis.Kind
	Axis    axis.Axis
	Channel axis.Channel
	Output  string // document to save the result to, optional
}

var phasePrompts = map[string]string{
	"max":    "Move the input to its MAXIMUM",
	"center": "Move the input to its CENTER",
	"min":    "Move the input to its MINIMUM",
}

// Calibrate binds req onto CalibrationTarget, runs one session on svc
// and prints its phases to w. Every value on accept ends an accept-driven
// phase.
func Calibrate(ctx context.Context, svc *mapper.Service, req CalibrationRequest, interval time.Duration, accept <-chan struct{}, w io.Writer) (mapper.Outcome, error) {
	mappings := make([]mapping.InputMapping, req.Kind.MappingCount())
	mappings[axis.MappingIndex(req.Axis)] = mapping.InputMapping{Input: req.Input, Channel: req.Channel}

	err := svc.Do(func(reg *mapper.Registry) error {
		if err := reg.AddTarget(CalibrationTarget, nil); err != nil && !errors.Is(err, mapper.ErrTargetExists) {
			return err
		}
		return reg.Bind(CalibrationTarget, req.Kind, mappings)
	})
	if err != nil {
		return mapper.Outcome{}, err
	}

	info, err := svc.StartCalibration(CalibrationTarget, req.Kind, req.Axis, req.Channel)
	if err != nil {
		return mapper.Outcome{}, err
	}
	fmt.Fprintf(w, "Calibrating %s %s axis %s from %s (%s)\n", req.Input, req.Kind, req.Axis, req.Channel, info.ID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	phase := ""
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			svc.CancelCalibrationSession(info.ID)
			return mapper.Outcome{}, ctx.Err()
		case <-accept:
			if err := svc.AcceptCalibration(); err != nil && !errors.Is(err, calibration.ErrNoSession) {
				return mapper.Outcome{}, err
			}
		case now := <-ticker.C:
			if err := svc.Tick(ctx, now, now.Sub(last)); err != nil {
				return mapper.Outcome{}, err
			}
			last = now

			cur, ok := svc.Calibration(now)
			if !ok {
				out, ok := svc.LastOutcome()
				if !ok || out.ID != info.ID {
					return mapper.Outcome{}, errors.New("calibration session lost")
				}
				return out, nil
			}
			if cur.Phase != phase {
				phase = cur.Phase
				prompt := phasePrompts[phase]
				if cur.AwaitsAccept {
					prompt += " and press Enter"
				}
				fmt.Fprintln(w, prompt)
			}
		}
	}
}

// RunCalibrationCLI calibrates one axis against the live device frames
// on MQTT. Enter on in accepts a phase.
func RunCalibrationCLI(ctx context.Context, cfg *config.Config, logger *zap.Logger, req CalibrationRequest, in io.Reader, w io.Writer) error {
	c := *cfg
	c.Targets = nil
	c.StartupDocument = ""
	host, err := NewHost(&c, logger, nil)
	if err != nil {
		return err
	}

	client, err := device.Connect(cfg.MQTTBroker, cfg.MQTTClientIDCalibration)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	if err := device.SubscribeMQTT(client, cfg.TopicFrames, host.Devices, logger); err != nil {
		return err
	}

	accept := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case accept <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	out, err := Calibrate(ctx, host.Service, req, cfg.TickInterval, accept, w)
	if err != nil {
		return err
	}
	if out.Status != calibration.Done {
		fmt.Fprintln(w, "Calibration cancelled, nothing recorded")
		return nil
	}
	fmt.Fprintf(w, "Input range: min=%.4f max=%.4f center=%.4f amplitude=%.4f\n",
		out.Input.Min, out.Input.Max, out.Input.Center, out.Input.Amplitude)

	if req.Output == "" {
		return nil
	}
	var doc persist.Document
	host.Service.Do(func(reg *mapper.Registry) error {
		doc = persist.Snapshot(reg)
		return nil
	})
	if err := persist.SaveFile(req.Output, doc); err != nil {
		return err
	}
	fmt.Fprintf(w, "Saved to %s\n", req.Output)
	return nil
}
