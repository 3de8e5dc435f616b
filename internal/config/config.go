package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Formats   FormatsConfig   `mapstructure:"formats" yaml:"formats"`
	Devices   DevicesConfig   `mapstructure:"devices" yaml:"devices"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg" yaml:"ffmpeg"`
}

type RecordingConfig struct {
	MaxDurationSeconds int           `mapstructure:"max_duration_seconds" yaml:"max_duration_seconds"`
	CountdownSteps     []string      `mapstructure:"countdown_steps" yaml:"countdown_steps"`
	TickInterval       time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
}

type FormatsConfig struct {
	// Ranked MIME candidates, most preferred first. An empty match at
	// runtime falls back to whatever the host picks by default.
	Audio []string `mapstructure:"audio" yaml:"audio"`
	Video []string `mapstructure:"video" yaml:"video"`
}

type DevicesConfig struct {
	Audio string `mapstructure:"audio" yaml:"audio"` // ALSA device name
	Video string `mapstructure:"video" yaml:"video"` // v4l2 device path
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type FFmpegConfig struct {
	Binary string `mapstructure:"binary" yaml:"binary"`
}

var defaultConfig = Config{
	Recording: RecordingConfig{
		MaxDurationSeconds: 30,
		CountdownSteps:     []string{"3", "2", "1", "BEGIN"},
		TickInterval:       time.Second,
	},
	Formats: FormatsConfig{
		Audio: []string{"audio/mp4;codecs=aac", "audio/webm;codecs=opus"},
		Video: []string{"video/mp4;codecs=h264", "video/webm;codecs=vp8,opus"},
	},
	Devices: DevicesConfig{
		Audio: "default",
		Video: "/dev/video0",
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Recordings"),
	},
	Server: ServerConfig{
		Host: "127.0.0.1",
		Port: 8080,
	},
	FFmpeg: FFmpegConfig{
		Binary: "ffmpeg",
	},
}

// DefaultPath returns the config file location used when --config is not
// given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recorder.yaml"
	}
	return filepath.Join(home, ".config", "recorder.yaml")
}

// Load reads the configuration from the given file, filling every missing
// key with its default. A missing file is not an error: the defaults are
// returned as-is.
func Load(configFile string) (*Config, error) {
	if configFile == "" {
		configFile = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("RECORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("recording.max_duration_seconds", defaultConfig.Recording.MaxDurationSeconds)
	v.SetDefault("recording.countdown_steps", defaultConfig.Recording.CountdownSteps)
	v.SetDefault("recording.tick_interval", defaultConfig.Recording.TickInterval.String())
	v.SetDefault("formats.audio", defaultConfig.Formats.Audio)
	v.SetDefault("formats.video", defaultConfig.Formats.Video)
	v.SetDefault("devices.audio", defaultConfig.Devices.Audio)
	v.SetDefault("devices.video", defaultConfig.Devices.Video)
	v.SetDefault("output.directory", defaultConfig.Output.Directory)
	v.SetDefault("server.host", defaultConfig.Server.Host)
	v.SetDefault("server.port", defaultConfig.Server.Port)
	v.SetDefault("ffmpeg.binary", defaultConfig.FFmpeg.Binary)
}

// Validate checks the resolved configuration for values the session or the
// ffmpeg host cannot work with.
func (c *Config) Validate() error {
	if c.Recording.MaxDurationSeconds <= 0 {
		return fmt.Errorf("recording.max_duration_seconds must be > 0, got: %d", c.Recording.MaxDurationSeconds)
	}
	if c.Recording.TickInterval <= 0 {
		return fmt.Errorf("recording.tick_interval must be > 0, got: %s", c.Recording.TickInterval)
	}
	if len(c.Recording.CountdownSteps) == 0 {
		return fmt.Errorf("recording.countdown_steps cannot be empty")
	}
	for i, step := range c.Recording.CountdownSteps {
		if strings.TrimSpace(step) == "" {
			return fmt.Errorf("recording.countdown_steps[%d] cannot be blank", i)
		}
	}

	if len(c.Formats.Audio) == 0 {
		return fmt.Errorf("formats.audio cannot be empty")
	}
	if len(c.Formats.Video) == 0 {
		return fmt.Errorf("formats.video cannot be empty")
	}
	for i, mt := range c.Formats.Audio {
		if !isValidMimeCandidate(mt) {
			return fmt.Errorf("formats.audio[%d] must be a MIME type like 'audio/webm;codecs=opus', got: %s", i, mt)
		}
	}
	for i, mt := range c.Formats.Video {
		if !isValidMimeCandidate(mt) {
			return fmt.Errorf("formats.video[%d] must be a MIME type like 'video/mp4;codecs=h264', got: %s", i, mt)
		}
	}

	if c.Devices.Audio == "" {
		return fmt.Errorf("devices.audio cannot be empty")
	}
	if c.Devices.Video == "" {
		return fmt.Errorf("devices.video cannot be empty")
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory cannot be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got: %d", c.Server.Port)
	}

	if c.FFmpeg.Binary == "" {
		return fmt.Errorf("ffmpeg.binary cannot be empty")
	}

	return nil
}

// isValidMimeCandidate accepts "type/subtype" optionally followed by
// parameters, which is all the negotiator needs.
func isValidMimeCandidate(mt string) bool {
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return false
	}
	base := mt
	if idx := strings.Index(mt, ";"); idx != -1 {
		base = mt[:idx]
	}
	kind, subtype, found := strings.Cut(base, "/")
	return found && strings.TrimSpace(kind) != "" && strings.TrimSpace(subtype) != ""
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
