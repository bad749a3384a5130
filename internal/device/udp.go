package device

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
)

const maxDatagram = 64 * 1024

// ListenUDP applies the frames carried by datagrams arriving on addr until
// ctx is done. Each datagram holds one JSON frame or an array of them.
func ListenUDP(ctx context.Context, addr string, store *Store, logger *zap.Logger) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", addr, err)
	}
	return ServeUDP(ctx, conn, store, logger)
}

// ServeUDP is ListenUDP on an open connection. It closes conn on return.
func ServeUDP(ctx context.Context, conn net.PacketConn, store *Store, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logger.Info("listening for device frames", zap.String("addr", conn.LocalAddr().String()))

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("udp read: %w", err)
		}
		frames, err := DecodeFrames(buf[:n])
		if err != nil {
			logger.Debug("dropping datagram", zap.Stringer("from", from), zap.Error(err))
			continue
		}
		for _, f := range frames {
			store.Apply(f)
		}
	}
}
