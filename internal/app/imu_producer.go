package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/device"
)

// RunIMUProducer publishes the tilt of the SPI IMU and, when configured,
// the readings of the environment sensor next to it.
func RunIMUProducer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	imu, err := device.OpenIMU(cfg.IMUDevice, cfg.IMUSPIDevice, cfg.IMUCSPin)
	if err != nil {
		return fmt.Errorf("imu producer: %w", err)
	}
	logger.Info("IMU ready", zap.String("spi", cfg.IMUSPIDevice), zap.String("cs", cfg.IMUCSPin))

	var env *device.Env
	if cfg.BMPSPIDevice != "" {
		env, err = device.OpenEnv(cfg.IMUDevice, cfg.BMPSPIDevice)
		if err != nil {
			logger.Warn("environment sensor not available", zap.Error(err))
			env = nil
		}
	}

	pub, disconnect, err := connectPublisher(cfg, cfg.MQTTClientIDProducer, logger)
	if err != nil {
		return fmt.Errorf("imu producer: %w", err)
	}
	defer disconnect()

	read := func(t time.Time) ([]device.Frame, error) {
		frames, err := imu.Read(t)
		if err != nil {
			return nil, err
		}
		if env != nil {
			more, err := env.Read(t)
			if err != nil {
				logger.Debug("environment read error", zap.Error(err))
			} else {
				frames = append(frames, more...)
			}
		}
		return frames, nil
	}
	return produce(ctx, cfg.ProducerInterval, read, pub.Publish, logger)
}
