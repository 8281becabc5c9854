package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// PanelConfig describes how the IT8951 controller is wired to the host.
type PanelConfig struct {
	// SPIPort is the periph.io SPI port name ("" for the first one, typically
	// /dev/spidev0.0 on Raspberry Pi).
	SPIPort string `yaml:"spi_port" json:"spi_port"`
	// SPIHz is the SPI clock. The IT8951 HAT is stable up to 24MHz.
	SPIHz int64 `yaml:"spi_hz" json:"spi_hz"`

	// GPIO names resolved with gpioreg.ByName.
	CSPin    string `yaml:"cs_pin" json:"cs_pin"`
	HRDYPin  string `yaml:"hrdy_pin" json:"hrdy_pin"`
	PowerPin string `yaml:"power_pin" json:"power_pin"`

	// Rotation is the logical rotation in degrees. The frame is portrait, so
	// only 90 and 270 are accepted; anything else becomes 90.
	Rotation int `yaml:"rotation" json:"rotation"`
	// Inverted swaps black and white on every pixel written.
	Inverted bool `yaml:"inverted" json:"inverted"`
	// VCOMmV is the magnitude of the (negative) VCOM voltage in millivolts.
	VCOMmV int `yaml:"vcom_mv" json:"vcom_mv"`

	HRDYTimeout     time.Duration `yaml:"hrdy_timeout" json:"hrdy_timeout"`
	LUTPollInterval time.Duration `yaml:"lut_poll_interval" json:"lut_poll_interval"`
	// MaxTransfer caps the size of a single SPI data burst in bytes.
	MaxTransfer int `yaml:"max_transfer" json:"max_transfer"`
}

// RefreshConfig tunes the waveform selection.
type RefreshConfig struct {
	// FastPerDeep is the number of consecutive fast refreshes after which a
	// GC16 refresh is forced to clear ghosting.
	FastPerDeep int `yaml:"fast_per_deep" json:"fast_per_deep"`
	// DU4Levels are the 4-bit gray levels (0..15) that DU4 renders exactly.
	// Pixels at 0 and 15 are A2-safe, everything else needs GC16.
	DU4Levels []uint8 `yaml:"du4_levels" json:"du4_levels"`
}

// TouchConfig describes the GT911 touch controller.
type TouchConfig struct {
	I2CBus string `yaml:"i2c_bus" json:"i2c_bus"`
	Addr   uint16 `yaml:"addr" json:"addr"`
	// Rotation must normally match the panel rotation.
	Rotation     int           `yaml:"rotation" json:"rotation"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// SwipeThreshold is the minimum travel in pixels for a swipe.
	SwipeThreshold int `yaml:"swipe_threshold" json:"swipe_threshold"`
}

// ReaderConfig controls the library and text layout.
type ReaderConfig struct {
	// LibraryDir is the root of the files list.
	LibraryDir string `yaml:"library_dir" json:"library_dir"`
	// RegularFont and BoldFont are font file names or paths looked up with
	// go-findfont. Empty means the built-in Go fonts.
	RegularFont string  `yaml:"regular_font" json:"regular_font"`
	BoldFont    string  `yaml:"bold_font" json:"bold_font"`
	FontSize    float64 `yaml:"font_size" json:"font_size"`
	HeadingSize float64 `yaml:"heading_size" json:"heading_size"`
	LineSpacing int     `yaml:"line_spacing" json:"line_spacing"`
	// SectionCache is the number of parsed EPUB sections kept in memory.
	SectionCache int `yaml:"section_cache" json:"section_cache"`
}

// PowerConfig controls sleep gating.
type PowerConfig struct {
	// SleepAfter is the inactivity period after which the panel is put to
	// sleep. Zero disables sleeping.
	SleepAfter time.Duration `yaml:"sleep_after" json:"sleep_after"`
}

// StatusConfig controls the status bar and the devices feeding it.
type StatusConfig struct {
	// Cron is a cron-style schedule for status bar refreshes.
	Cron string `yaml:"cron" json:"cron"`

	BatteryBus  string `yaml:"battery_bus" json:"battery_bus"`
	BatteryAddr uint16 `yaml:"battery_addr" json:"battery_addr"`
	// MockBattery forces the mock battery reader.
	MockBattery bool `yaml:"mock_battery" json:"mock_battery"`

	RTCBus  string `yaml:"rtc_bus" json:"rtc_bus"`
	RTCAddr uint16 `yaml:"rtc_addr" json:"rtc_addr"`
	// UseRTC reads the clock from the BM8563 instead of the system time.
	UseRTC bool `yaml:"use_rtc" json:"use_rtc"`
}

// Config is the top-level application configuration.
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level"`

	Panel   PanelConfig   `yaml:"panel" json:"panel"`
	Refresh RefreshConfig `yaml:"refresh" json:"refresh"`
	Touch   TouchConfig   `yaml:"touch" json:"touch"`
	Reader  ReaderConfig  `yaml:"reader" json:"reader"`
	Power   PowerConfig   `yaml:"power" json:"power"`
	Status  StatusConfig  `yaml:"status" json:"status"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Panel: PanelConfig{
			SPIPort:         "",
			SPIHz:           20_000_000,
			CSPin:           "GPIO8",
			HRDYPin:         "GPIO24",
			PowerPin:        "GPIO17",
			Rotation:        90,
			Inverted:        false,
			VCOMmV:          2300,
			HRDYTimeout:     2 * time.Second,
			LUTPollInterval: 10 * time.Millisecond,
			MaxTransfer:     4096,
		},
		Refresh: RefreshConfig{
			FastPerDeep: 12,
			DU4Levels:   []uint8{0x5, 0xA},
		},
		Touch: TouchConfig{
			I2CBus:         "",
			Addr:           0x5D,
			Rotation:       90,
			PollInterval:   20 * time.Millisecond,
			SwipeThreshold: 80,
		},
		Reader: ReaderConfig{
			LibraryDir:   "/var/lib/epdreader/books",
			FontSize:     28,
			HeadingSize:  36,
			LineSpacing:  5,
			SectionCache: 4,
		},
		Power: PowerConfig{
			SleepAfter: 30 * time.Second,
		},
		Status: StatusConfig{
			Cron:        "* * * * *",
			BatteryAddr: 0x57,
			RTCAddr:     0x51,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}

	p := &c.Panel
	if p.SPIHz <= 0 {
		p.SPIHz = d.Panel.SPIHz
	}
	if p.CSPin == "" {
		p.CSPin = d.Panel.CSPin
	}
	if p.HRDYPin == "" {
		p.HRDYPin = d.Panel.HRDYPin
	}
	if p.PowerPin == "" {
		p.PowerPin = d.Panel.PowerPin
	}
	p.Rotation = portraitRotation(p.Rotation)
	if p.VCOMmV <= 0 {
		p.VCOMmV = d.Panel.VCOMmV
	}
	if p.HRDYTimeout <= 0 {
		p.HRDYTimeout = d.Panel.HRDYTimeout
	}
	if p.LUTPollInterval <= 0 {
		p.LUTPollInterval = d.Panel.LUTPollInterval
	}
	if p.MaxTransfer <= 0 {
		p.MaxTransfer = d.Panel.MaxTransfer
	}
	// Keep bursts word aligned.
	p.MaxTransfer &^= 1

	if c.Refresh.FastPerDeep <= 0 {
		c.Refresh.FastPerDeep = d.Refresh.FastPerDeep
	}
	if c.Refresh.DU4Levels == nil {
		c.Refresh.DU4Levels = d.Refresh.DU4Levels
	}
	levels := c.Refresh.DU4Levels[:0]
	for _, l := range c.Refresh.DU4Levels {
		// 0 and 15 are A2 levels; out-of-range values are dropped.
		if l > 0 && l < 15 {
			levels = append(levels, l)
		}
	}
	c.Refresh.DU4Levels = levels

	t := &c.Touch
	if t.Addr == 0 {
		t.Addr = d.Touch.Addr
	}
	t.Rotation = normalizeRotation(t.Rotation)
	if t.PollInterval <= 0 {
		t.PollInterval = d.Touch.PollInterval
	}
	if t.SwipeThreshold <= 0 {
		t.SwipeThreshold = d.Touch.SwipeThreshold
	}

	r := &c.Reader
	if r.LibraryDir == "" {
		r.LibraryDir = d.Reader.LibraryDir
	}
	if r.FontSize <= 0 {
		r.FontSize = d.Reader.FontSize
	}
	if r.HeadingSize <= 0 {
		r.HeadingSize = d.Reader.HeadingSize
	}
	if r.LineSpacing < 0 {
		r.LineSpacing = d.Reader.LineSpacing
	}
	if r.SectionCache <= 0 {
		r.SectionCache = d.Reader.SectionCache
	}

	if c.Power.SleepAfter < 0 {
		c.Power.SleepAfter = 0
	}

	s := &c.Status
	if s.Cron == "" {
		s.Cron = d.Status.Cron
	}
	if s.BatteryAddr == 0 {
		s.BatteryAddr = d.Status.BatteryAddr
	}
	if s.RTCAddr == 0 {
		s.RTCAddr = d.Status.RTCAddr
	}
}

// normalizeRotation snaps a rotation in degrees to 0, 90, 180 or 270.
// Unknown values fall back to 0.
func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	switch deg {
	case 0, 90, 180, 270:
		return deg
	}
	return 0
}

// portraitRotation is normalizeRotation limited to the portrait
// orientations of the landscape panel.
func portraitRotation(deg int) int {
	if r := normalizeRotation(deg); r == 270 {
		return r
	}
	return 90
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory + rename, final mode 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".epdreader-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
