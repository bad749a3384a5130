package app

import (
	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/mapper"
	"github.com/relabs-tech/device_mapper/internal/mapping"
)

func zapNop() *zap.Logger { return zap.NewNop() }

func mappingsFor(dev, label string, ch axis.Channel) []mapping.InputMapping {
	return []mapping.InputMapping{{Input: mapping.Input{Device: dev, Label: label}, Channel: ch}}
}

func hostBinding(h *Host, target string, k axis.Kind) (*mapper.Binding, error) {
	var b *mapper.Binding
	err := h.Service.Do(func(reg *mapper.Registry) error {
		var err error
		b, err = reg.Binding(target, k)
		return err
	})
	return b, err
}
