package device

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/device_mapper/internal/orientation"
)

// OpenSerial opens a serial port for 8N1 line-oriented traffic.
func OpenSerial(port string, baud int) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	rw, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	return rw, nil
}

// ParseLine decodes one "label v..." line from a serial device:
//
//	grip 0.42            value
//	trigger on           bool (on/off, true/false)
//	hand 1 2 3           position
//	head 0 0 0 1         rotation quaternion x y z w
//	emg 1 2 or 5+ nums   sample
func ParseLine(device, line string, t time.Time) (Frame, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Frame{}, fmt.Errorf("serial line %q: want label and at least one value", line)
	}
	f := Frame{Device: device, Label: fields[0], Time: t}
	args := fields[1:]

	if len(args) == 1 {
		switch strings.ToLower(args[0]) {
		case "on", "true":
			f.Bool = ptr(true)
			return f, nil
		case "off", "false":
			f.Bool = ptr(false)
			return f, nil
		}
	}

	nums := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return Frame{}, fmt.Errorf("serial line %q: %w", line, err)
		}
		nums[i] = v
	}

	switch len(nums) {
	case 1:
		f.Value = ptr(nums[0])
	case 3:
		f.Position = &orientation.Vec3{X: nums[0], Y: nums[1], Z: nums[2]}
	case 4:
		f.Rotation = &orientation.Quat{X: nums[0], Y: nums[1], Z: nums[2], W: nums[3]}
	default:
		f.Sample = nums
	}
	return f, nil
}

// ReadLines parses lines from r until EOF, ctx is done or fn fails. Lines
// that do not parse are passed to bad, if set, and skipped. rc is closed
// when ctx is done to unblock the read.
func ReadLines(ctx context.Context, rc io.ReadCloser, device string, fn func(Frame) error, bad func(line string, err error)) error {
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f, err := ParseLine(device, line, time.Now())
		if err != nil {
			if bad != nil {
				bad(line, err)
			}
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read: %w", err)
	}
	return nil
}
