package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/device"
	"github.com/relabs-tech/device_mapper/internal/interpreter"
	"github.com/relabs-tech/device_mapper/internal/mapper"
	"github.com/relabs-tech/device_mapper/internal/orientation"
	"github.com/relabs-tech/device_mapper/internal/persist"
	"github.com/relabs-tech/device_mapper/internal/store"
)

// OutputTopic is where the mapped value of one property is published.
func OutputTopic(prefix, target string, k axis.Kind) string {
	return prefix + "/" + target + "/" + k.String()
}

// Host is one mapper process: the device store, the mapping service on
// top of it and the publisher of mapped values.
type Host struct {
	Devices *device.Store
	Service *mapper.Service

	prefix  string
	logger  *zap.Logger
	publish func(topic string, payload []byte) error
	last    map[string]string
}

// NewHost registers the configured targets and restores the startup
// document, if any. publish may be nil to only tick.
func NewHost(cfg *config.Config, logger *zap.Logger, publish func(topic string, payload []byte) error) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	devices := device.NewStore(cfg.SourceTimeout)
	svc := mapper.NewService(devices,
		mapper.WithLogger(logger),
		mapper.WithCalibrationWindow(cfg.CalibrationWindow),
	)

	err := svc.Do(func(reg *mapper.Registry) error {
		for _, name := range cfg.Targets {
			if err := reg.AddTarget(name, interpreter.NewRecordingSink(orientation.Vec3{}, orientation.Vec3{})); err != nil {
				return err
			}
		}
		if cfg.StartupDocument == "" {
			return nil
		}
		doc, err := persist.LoadFile(cfg.StartupDocument)
		if err != nil {
			return err
		}
		logger.Info("restoring startup document", zap.String("path", cfg.StartupDocument))
		return persist.Restore(reg, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("mapper host: %w", err)
	}

	return &Host{
		Devices: devices,
		Service: svc,
		prefix:  cfg.TopicOutputPrefix,
		logger:  logger,
		publish: publish,
		last:    make(map[string]string),
	}, nil
}

// Step ticks the service and publishes every output that changed.
func (h *Host) Step(ctx context.Context, now time.Time, dt time.Duration) error {
	tickErr := h.Service.Tick(ctx, now, dt)
	if h.publish == nil {
		return tickErr
	}

	var errs []error
	for _, out := range h.Service.Outputs() {
		payload, err := json.Marshal(out)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s/%s: %w", out.Target, out.Kind, err))
			continue
		}
		topic := OutputTopic(h.prefix, out.Target, out.Kind)
		if h.last[topic] == string(payload) {
			continue
		}
		if err := h.publish(topic, payload); err != nil {
			errs = append(errs, err)
			continue
		}
		h.last[topic] = string(payload)
	}
	return errors.Join(append(errs, tickErr)...)
}

// Run steps the host every interval until ctx is done. Step failures are
// logged and do not stop the loop.
func (h *Host) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if err := h.Step(ctx, now, dt); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				h.logger.Warn("mapper step", zap.Error(err))
			}
		}
	}
}

// RunMapper is the mapper service: device frames arrive over MQTT (and
// UDP when configured), mapped values leave over MQTT and the session is
// exposed over HTTP.
func RunMapper(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	client, err := device.Connect(cfg.MQTTBroker, cfg.MQTTClientIDMapper)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	logger.Info("connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	publish := func(topic string, payload []byte) error {
		if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, token.Error())
		}
		return nil
	}
	host, err := NewHost(cfg, logger, publish)
	if err != nil {
		return err
	}

	if err := device.SubscribeMQTT(client, cfg.TopicFrames, host.Devices, logger); err != nil {
		return err
	}
	logger.Info("subscribed to device frames", zap.String("topic", cfg.TopicFrames))

	var profiles Profiles
	if cfg.ProfileDBPath != "" {
		ps, err := store.Open(cfg.ProfileDBPath)
		if err != nil {
			return err
		}
		defer ps.Close()
		profiles = ps
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           NewRouter(host.Service, host.Devices, profiles, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 3)
	var wg sync.WaitGroup
	if cfg.UDPListenAddr != "" {
		wg.Go(func() { errc <- device.ListenUDP(ctx, cfg.UDPListenAddr, host.Devices, logger) })
	}
	wg.Go(func() { errc <- serveHTTP(ctx, srv, logger) })
	wg.Go(func() { errc <- host.Run(ctx, cfg.TickInterval) })

	err = <-errc
	cancel()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
