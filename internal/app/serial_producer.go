package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/device"
)

// RunSerialProducer forwards the line protocol of a serial device as
// frames.
func RunSerialProducer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.SerialPort == "" {
		return fmt.Errorf("serial producer: SERIAL_PORT is not set")
	}
	port, err := device.OpenSerial(cfg.SerialPort, cfg.SerialBaudRate)
	if err != nil {
		return fmt.Errorf("serial producer: %w", err)
	}
	defer port.Close()
	logger.Info("serial port opened", zap.String("port", cfg.SerialPort), zap.Int("baud", cfg.SerialBaudRate))

	pub, disconnect, err := connectPublisher(cfg, cfg.MQTTClientIDSerial, logger)
	if err != nil {
		return fmt.Errorf("serial producer: %w", err)
	}
	defer disconnect()

	bad := func(line string, err error) {
		logger.Debug("skipping serial line", zap.String("line", line), zap.Error(err))
	}
	return device.ReadLines(ctx, port, cfg.SerialDevice, func(f device.Frame) error {
		if err := pub.Publish(f); err != nil {
			logger.Warn("serial publish error", zap.Error(err))
		}
		return nil
	}, bad)
}
