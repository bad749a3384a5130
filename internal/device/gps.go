package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/device_mapper/internal/orientation"
)

// Fix is the combined state of a GPS receiver.
type Fix struct {
	Time       string  `json:"time"`
	Date       string  `json:"date"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	Altitude   float64 `json:"alt"`
	SpeedKnots float64 `json:"speed_knots"`
	CourseDeg  float64 `json:"course_deg"`
	Validity   string  `json:"validity"`
	Satellites int64   `json:"satellites"`
}

// GPS turns NMEA sentences into frames for one device. The "fix" input
// carries position (lon, lat, alt), speed as value, course as yaw and
// validity as bool.
type GPS struct {
	device string
	fix    Fix
}

func NewGPS(device string) *GPS { return &GPS{device: device} }

// Fix returns the state accumulated so far.
func (g *GPS) Fix() Fix { return g.fix }

// Parse feeds one NMEA line. It reports false for lines that are not
// sentences it uses.
func (g *GPS) Parse(line string, t time.Time) (Frame, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Frame{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return Frame{}, false
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		g.fix.Time = m.Time.String()
		g.fix.Date = m.Date.String()
		g.fix.Latitude = m.Latitude
		g.fix.Longitude = m.Longitude
		g.fix.SpeedKnots = m.Speed
		g.fix.CourseDeg = m.Course
		g.fix.Validity = string(m.Validity)
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		g.fix.Latitude = m.Latitude
		g.fix.Longitude = m.Longitude
		g.fix.Altitude = m.Altitude
		g.fix.Satellites = m.NumSatellites
	default:
		return Frame{}, false
	}
	return g.frame(t), true
}

func (g *GPS) frame(t time.Time) Frame {
	return Frame{
		Device:   g.device,
		Label:    "fix",
		Position: &orientation.Vec3{X: g.fix.Longitude, Y: g.fix.Latitude, Z: g.fix.Altitude},
		Euler:    &orientation.Vec3{Y: g.fix.CourseDeg},
		Value:    ptr(g.fix.SpeedKnots),
		Bool:     ptr(g.fix.Validity == nmea.ValidRMC),
		Time:     t,
	}
}

// ReadNMEA parses sentences from rc until EOF or ctx is done, passing
// every resulting frame to fn.
func (g *GPS) ReadNMEA(ctx context.Context, rc io.ReadCloser, fn func(Frame) error) error {
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	reader := bufio.NewReader(rc)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if f, ok := g.Parse(line, time.Now()); ok {
				if err := fn(f); err != nil {
					return err
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("gps read: %w", err)
		}
	}
}
