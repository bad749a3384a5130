package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker              string
	MQTTClientIDMapper      string
	MQTTClientIDProducer    string
	MQTTClientIDGPS         string
	MQTTClientIDSerial      string
	MQTTClientIDConsole     string
	MQTTClientIDCalibration string

	// Topics
	TopicFrames       string // device frames, one JSON frame per message
	TopicOutputPrefix string // mapped values go to <prefix>/<target>/<kind>

	// Mapping
	Targets         []string // target objects registered at startup
	StartupDocument string   // mapping document loaded at startup, .json or .yaml
	ProfileDBPath   string

	// Transports
	UDPListenAddr  string
	SerialPort     string
	SerialBaudRate int
	SerialDevice   string // device name frames from the serial port are tagged with
	GPSSerialPort  string
	GPSBaudRate    int
	GPSDevice      string
	MockDevice     string

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string
	IMUDevice    string
	BMPSPIDevice string

	// Timing
	TickInterval      time.Duration
	ProducerInterval  time.Duration
	SourceTimeout     time.Duration
	CalibrationWindow time.Duration

	// Web Server
	WebServerPort int

	LogLevel string
}

// Package-level unexported variables for the singleton:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: InitGlobal loads the file at most once.
//   - configMu: write lock for initialization, read lock for Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns the configuration used when a key is absent.
func Defaults() *Config {
	return &Config{
		MQTTBroker:              "tcp://localhost:1883",
		MQTTClientIDMapper:      "device-mapper",
		MQTTClientIDProducer:    "device-mapper-producer",
		MQTTClientIDGPS:         "device-mapper-gps",
		MQTTClientIDSerial:      "device-mapper-serial",
		MQTTClientIDConsole:     "device-mapper-console",
		MQTTClientIDCalibration: "device-mapper-calibration",
		TopicFrames:             "devices/frames",
		TopicOutputPrefix:       "mapper",
		SerialBaudRate:          115200,
		SerialDevice:            "serial",
		GPSBaudRate:             9600,
		GPSDevice:               "gps",
		MockDevice:              "mock",
		IMUDevice:               "imu",
		TickInterval:            20 * time.Millisecond,
		ProducerInterval:        50 * time.Millisecond,
		SourceTimeout:           time.Second,
		CalibrationWindow:       2 * time.Second,
		WebServerPort:           8080,
		LogLevel:                "info",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Defaults()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_MAPPER":
		c.MQTTClientIDMapper = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_GPS":
		c.MQTTClientIDGPS = value
	case "MQTT_CLIENT_ID_SERIAL":
		c.MQTTClientIDSerial = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_CALIBRATION":
		c.MQTTClientIDCalibration = value

	// Topics
	case "TOPIC_FRAMES":
		c.TopicFrames = value
	case "TOPIC_OUTPUT_PREFIX":
		c.TopicOutputPrefix = strings.TrimSuffix(value, "/")

	// Mapping
	case "TARGETS":
		c.Targets = nil
		for _, t := range strings.Split(value, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.Targets = append(c.Targets, t)
			}
		}
	case "STARTUP_DOCUMENT":
		c.StartupDocument = value
	case "PROFILE_DB_PATH":
		c.ProfileDBPath = value

	// Transports
	case "UDP_LISTEN_ADDR":
		c.UDPListenAddr = value
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseInt(key, value, 300, 4000000)
	case "SERIAL_DEVICE":
		c.SerialDevice = value
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parseInt(key, value, 300, 4000000)
	case "GPS_DEVICE":
		c.GPSDevice = value
	case "MOCK_DEVICE":
		c.MockDevice = value

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_DEVICE":
		c.IMUDevice = value
	case "BMP_SPI_DEVICE":
		c.BMPSPIDevice = value

	// Timing
	case "TICK_INTERVAL_MS":
		c.TickInterval, err = parseMillis(key, value)
	case "PRODUCER_INTERVAL_MS":
		c.ProducerInterval, err = parseMillis(key, value)
	case "SOURCE_TIMEOUT_MS":
		c.SourceTimeout, err = parseMillis(key, value)
	case "CALIBRATION_WINDOW_MS":
		c.CalibrationWindow, err = parseMillis(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)

	case "LOG_LEVEL":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "error":
			c.LogLevel = strings.ToLower(value)
		default:
			return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", value)
		}

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseInt(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseMillis(key, value string) (time.Duration, error) {
	ms, err := parseInt(key, value, 1, 3600000)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicFrames == "" {
		return fmt.Errorf("TOPIC_FRAMES is required")
	}
	if c.TopicOutputPrefix == "" {
		return fmt.Errorf("TOPIC_OUTPUT_PREFIX is required")
	}
	if c.SerialPort != "" && c.SerialDevice == "" {
		return fmt.Errorf("SERIAL_DEVICE is required when SERIAL_PORT is set")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
