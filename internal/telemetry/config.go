// Package telemetry carries the ambient stack around the core algorithms:
// on-disk YAML configuration with environment overrides, a read-only
// websocket broadcast of Controller.Snapshot, and CSV telemetry logging.
// None of it is part of the control loop itself — the core package treats
// every tunable as "set by an external tuning surface," and this package
// is that surface's on-disk half.
package telemetry

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mgriffin/goecu/internal/fuel"
	"github.com/mgriffin/goecu/internal/ignition"
	"github.com/mgriffin/goecu/internal/sensor"
)

// Config holds everything needed to stand up a Controller and its
// capability providers from a single file.
type Config struct {
	mu sync.RWMutex

	Engine   EngineConfig    `yaml:"engine" json:"engine"`
	Fuel     fuel.Config     `yaml:"fuel" json:"fuel"`
	Ignition ignition.Config `yaml:"ignition" json:"ignition"`
	Sensors  SensorConfig    `yaml:"sensors" json:"sensors"`
	Hardware HardwareConfig  `yaml:"hardware" json:"hardware"`
	Logging  LoggingConfig   `yaml:"logging" json:"logging"`
	Server   ServerConfig    `yaml:"server" json:"server"`

	path string
}

// EngineConfig names the physical engine the rest of the config tunes for.
type EngineConfig struct {
	Cylinders    int `yaml:"cylinders" json:"cylinders"`
	CrankTeeth   int `yaml:"crank_teeth" json:"crankTeeth"`
	CrankMissing int `yaml:"crank_missing" json:"crankMissing"`
}

// SensorConfig mirrors sensor.ChannelMap and sensor.Reference for on-disk
// storage; NewPipeline consumes the converted form.
type SensorConfig struct {
	Channels       sensor.ChannelMap `yaml:"channels" json:"channels"`
	Vref           float64           `yaml:"vref" json:"vref"`
	TPSMinV        float64           `yaml:"tps_min_v" json:"tpsMinV"`
	TPSMaxV        float64           `yaml:"tps_max_v" json:"tpsMaxV"`
	NTCPullupOhm   float64           `yaml:"ntc_pullup_ohm" json:"ntcPullupOhm"`
	TPSDisagreePct float64           `yaml:"tps_disagree_pct" json:"tpsDisagreePct"`
	FilterAlpha    float64           `yaml:"filter_alpha" json:"filterAlpha"`
}

func (s SensorConfig) Reference() sensor.Reference {
	return sensor.Reference{
		Vref:           s.Vref,
		TPSMinV:        s.TPSMinV,
		TPSMaxV:        s.TPSMaxV,
		NTCPullupOhm:   s.NTCPullupOhm,
		TPSDisagreePct: s.TPSDisagreePct,
	}
}

// HardwareConfig selects and configures the hal capability provider: the
// in-process simulator, or a serial-bridge board.
type HardwareConfig struct {
	Provider       string `yaml:"provider" json:"provider"` // "sim" or "serial"
	PortPath       string `yaml:"port_path" json:"portPath"`
	BaudRate       int    `yaml:"baud_rate" json:"baudRate"`
	VoltageChannel int    `yaml:"voltage_channel" json:"voltageChannel"`

	InjectorPins []int `yaml:"injector_pins" json:"injectorPins"`
	CoilPins     []int `yaml:"coil_pins" json:"coilPins"`
}

type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a four-cylinder, 60-2-wheel, speed-density config
// with every table-dependent value left to the table package's own
// defaults (the controller seeds those separately).
func DefaultConfig() *Config {
	cylinders := 4
	return &Config{
		Engine: EngineConfig{Cylinders: cylinders, CrankTeeth: 60, CrankMissing: 2},
		Fuel:     fuel.DefaultConfig(cylinders),
		Ignition: ignition.DefaultConfig(cylinders),
		Sensors: SensorConfig{
			Channels: sensor.ChannelMap{
				TPS1: 0, TPS2: 1, MAP: 2, IAT: 3, CLT: 4,
				Baro: 5, FuelPressure: 6, FuelLevel: 7,
				WBO2: 8, FlexFuel: 9, BrakePedal: 20, ClutchPedal: 21,
			},
			Vref: 5.0, TPSMinV: 0.5, TPSMaxV: 4.5,
			NTCPullupOhm: 10000, TPSDisagreePct: 10, FilterAlpha: 0.1,
		},
		Hardware: HardwareConfig{
			Provider:       "sim",
			PortPath:       "/dev/ttyECU",
			BaudRate:       115200,
			VoltageChannel: 10,
			InjectorPins:   []int{9, 10, 11, 12},
			CoilPins:       []int{22, 23, 24, 25},
		},
		Logging: LoggingConfig{Enabled: false, Path: "./goecu.csv", IntervalMs: 100},
		Server:  ServerConfig{ListenAddr: ":8090"},
	}
}

// LoadConfig reads YAML from path, then applies environment overrides.
// Falls back to defaults if the file is missing or malformed.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[telemetry] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[telemetry] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[telemetry] loaded config from %s", path)
	}

	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}
	cfg.applyEnvOverrides()
	return cfg
}

func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides supports GOECU_PROVIDER, GOECU_PORT, GOECU_BAUD,
// GOECU_LISTEN_ADDR, GOECU_LOG_ENABLED, GOECU_LOG_PATH.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GOECU_PROVIDER"); v != "" {
		c.Hardware.Provider = v
	}
	if v := os.Getenv("GOECU_PORT"); v != "" {
		c.Hardware.PortPath = v
	}
	if v := os.Getenv("GOECU_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Hardware.BaudRate = n
		}
	}
	if v := os.Getenv("GOECU_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("GOECU_LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("GOECU_LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
}

// Save writes the config back to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.path == "" {
		c.path = "./goecu.yaml"
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("goecu: telemetry: marshal config: %w", err)
	}
	return os.WriteFile(c.path, data, 0644)
}
