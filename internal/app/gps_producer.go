package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/device"
)

// RunGPSProducer opens the GPS serial port, parses NMEA sentences and
// publishes the combined fix as frames of the GPS device.
func RunGPSProducer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	port, err := device.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate)
	if err != nil {
		return fmt.Errorf("gps producer: %w", err)
	}
	defer port.Close()
	logger.Info("GPS serial port opened", zap.String("port", cfg.GPSSerialPort), zap.Int("baud", cfg.GPSBaudRate))

	pub, disconnect, err := connectPublisher(cfg, cfg.MQTTClientIDGPS, logger)
	if err != nil {
		return fmt.Errorf("gps producer: %w", err)
	}
	defer disconnect()

	gps := device.NewGPS(cfg.GPSDevice)
	return gps.ReadNMEA(ctx, port, func(f device.Frame) error {
		if err := pub.Publish(f); err != nil {
			logger.Warn("GPS publish error", zap.Error(err))
			return nil
		}
		logger.Debug("published GPS fix", zap.Any("fix", gps.Fix()))
		return nil
	})
}
