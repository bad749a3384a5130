package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/device"
	"github.com/relabs-tech/device_mapper/internal/mapper"
)

// FormatOutput renders one mapped output as a console line.
func FormatOutput(o mapper.Output) string {
	tag := fmt.Sprintf("[%s/%s]", o.Target, o.Kind)
	v := o.Value
	switch o.Kind {
	case axis.Position:
		return fmt.Sprintf("%-20s X=%8.3f  Y=%8.3f  Z=%8.3f", tag, v.Position.X, v.Position.Y, v.Position.Z)
	case axis.Rotation:
		return fmt.Sprintf("%-20s X=%6.2f°  Y=%6.2f°  Z=%6.2f°", tag, v.Rotation.X, v.Rotation.Y, v.Rotation.Z)
	case axis.Boolean:
		return fmt.Sprintf("%-20s %t", tag, v.Bool)
	case axis.Scalar:
		return fmt.Sprintf("%-20s %.3f", tag, v.Value)
	}
	parts := make([]string, len(v.Sample))
	for i, x := range v.Sample {
		parts[i] = fmt.Sprintf("%.3f", x)
	}
	return fmt.Sprintf("%-20s [%s]", tag, strings.Join(parts, " "))
}

// RunConsoleMQTT prints every mapped output published by the mapper
// until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, logger *zap.Logger, w io.Writer) error {
	client, err := device.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	logger.Info("console: connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	var mu sync.Mutex
	topic := cfg.TopicOutputPrefix + "/#"
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var o mapper.Output
		if err := json.Unmarshal(msg.Payload(), &o); err != nil {
			logger.Warn("console: output unmarshal error", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, FormatOutput(o))
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("console: subscribe %s: %w", topic, token.Error())
	}
	logger.Info("console: subscribed", zap.String("topic", topic))

	<-ctx.Done()
	return nil
}
