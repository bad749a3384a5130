package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/device"
)

// produce reads frames every interval and hands them to publish until ctx
// is done. Read and publish failures are logged and skipped.
func produce(ctx context.Context, interval time.Duration, read func(time.Time) ([]device.Frame, error), publish func(...device.Frame) error, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			frames, err := read(t)
			if err != nil {
				logger.Warn("read error", zap.Error(err))
				continue
			}
			if err := publish(frames...); err != nil {
				logger.Warn("publish error", zap.Error(err))
				continue
			}
			logger.Debug("published frames", zap.Int("count", len(frames)))
		}
	}
}

func connectPublisher(cfg *config.Config, clientID string, logger *zap.Logger) (*device.Publisher, func(), error) {
	client, err := device.Connect(cfg.MQTTBroker, clientID)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to MQTT broker", zap.String("broker", cfg.MQTTBroker), zap.String("client_id", clientID))
	return device.NewPublisher(client, cfg.TopicFrames), func() { client.Disconnect(250) }, nil
}

// RunMockProducer publishes the mock device's frames.
func RunMockProducer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pub, disconnect, err := connectPublisher(cfg, cfg.MQTTClientIDProducer, logger)
	if err != nil {
		return fmt.Errorf("mock producer: %w", err)
	}
	defer disconnect()

	mock := device.NewMock(cfg.MockDevice, time.Now())
	read := func(t time.Time) ([]device.Frame, error) { return mock.Frames(t), nil }
	logger.Info("publishing mock frames", zap.String("device", cfg.MockDevice), zap.String("topic", cfg.TopicFrames))
	return produce(ctx, cfg.ProducerInterval, read, pub.Publish, logger)
}
