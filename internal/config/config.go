package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "WITHVOICE"

// Config stores runtime configuration for the recorder and its adapters.
type Config struct {
	Recorder RecorderConfig `yaml:"recorder"`
	Capture  CaptureConfig  `yaml:"capture"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Analyser AnalyserConfig `yaml:"analyser"`
	Playback PlaybackConfig `yaml:"playback"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`

	// File is the config file that was read, if any.
	File string `yaml:"-"`
}

type RecorderConfig struct {
	MinDuration      time.Duration `yaml:"min_duration" validate:"gt=0"`
	MaxDuration      time.Duration `yaml:"max_duration" validate:"gtfield=MinDuration"`
	TimerInterval    time.Duration `yaml:"timer_interval" validate:"gt=0"`
	FragmentInterval time.Duration `yaml:"fragment_interval" validate:"gt=0"`
	LevelInterval    time.Duration `yaml:"level_interval" validate:"gt=0"`
}

// MarshalYAML prints durations the way they are written in the file.
func (c RecorderConfig) MarshalYAML() (interface{}, error) {
	return map[string]string{
		"min_duration":      c.MinDuration.String(),
		"max_duration":      c.MaxDuration.String(),
		"timer_interval":    c.TimerInterval.String(),
		"fragment_interval": c.FragmentInterval.String(),
		"level_interval":    c.LevelInterval.String(),
	}, nil
}

type CaptureConfig struct {
	Backend          string `yaml:"backend" validate:"oneof=ffmpeg malgo"`
	FFMPEGCommand    string `yaml:"ffmpeg_command" validate:"required"`
	InputFormat      string `yaml:"input_format"`
	InputDevice      string `yaml:"input_device"`
	SampleRate       int    `yaml:"sample_rate" validate:"gte=8000,lte=192000"`
	Channels         int    `yaml:"channels" validate:"min=1,max=2"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
}

type EncoderConfig struct {
	FFMPEGCommand string `yaml:"ffmpeg_command" validate:"required"`
}

type AnalyserConfig struct {
	FFTSize   int     `yaml:"fft_size" validate:"min=32,max=32768"`
	Smoothing float64 `yaml:"smoothing" validate:"gte=0,lt=1"`
}

type PlaybackConfig struct {
	FFPlayCommand  string `yaml:"ffplay_command" validate:"required"`
	FFProbeCommand string `yaml:"ffprobe_command" validate:"required"`
}

type StorageConfig struct {
	HandleDir  string `yaml:"handle_dir" validate:"required"`
	LibraryDir string `yaml:"library_dir" validate:"required"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=1"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

// Defaults mirrors the values used when nothing overrides a key.
func Defaults() Config {
	return Config{
		Recorder: RecorderConfig{
			MinDuration:      5 * time.Second,
			MaxDuration:      60 * time.Second,
			TimerInterval:    100 * time.Millisecond,
			FragmentInterval: 100 * time.Millisecond,
			LevelInterval:    16 * time.Millisecond,
		},
		Capture: CaptureConfig{
			Backend:          "ffmpeg",
			FFMPEGCommand:    "ffmpeg",
			InputFormat:      "pulse",
			InputDevice:      "default",
			SampleRate:       44100,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
		},
		Encoder:  EncoderConfig{FFMPEGCommand: "ffmpeg"},
		Analyser: AnalyserConfig{FFTSize: 256, Smoothing: 0.8},
		Playback: PlaybackConfig{FFPlayCommand: "ffplay", FFProbeCommand: "ffprobe"},
		Storage: StorageConfig{
			HandleDir:  filepath.Join(os.TempDir(), "withvoice"),
			LibraryDir: defaultLibraryDir(),
		},
		Log:    LogConfig{Level: "info", MaxSizeMB: 20, MaxBackups: 3},
		Server: ServerConfig{Listen: "127.0.0.1:8765"},
	}
}

// Load resolves configuration from defaults, an optional YAML file and the
// environment. An explicit path must exist; otherwise
// ~/.config/withvoice/config.yaml is read when present.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindFallbackEnv(v); err != nil {
		return Config{}, err
	}

	file := strings.TrimSpace(path)
	if file == "" {
		file = defaultConfigFile()
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	cfg := fromViper(v)
	cfg.File = file
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindFallbackEnv adds the short variable names accepted next to the
// prefixed ones, in priority order.
func bindFallbackEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"capture.ffmpeg_command": {"WITHVOICE_CAPTURE_FFMPEG_COMMAND", "WITHVOICE_FFMPEG_COMMAND"},
		"encoder.ffmpeg_command": {"WITHVOICE_ENCODER_FFMPEG_COMMAND", "WITHVOICE_FFMPEG_COMMAND"},
		"capture.input_format":   {"WITHVOICE_CAPTURE_INPUT_FORMAT", "WITHVOICE_AUDIO_INPUT_FORMAT"},
		"capture.input_device":   {"WITHVOICE_CAPTURE_INPUT_DEVICE", "WITHVOICE_AUDIO_INPUT_DEVICE", "PULSE_SOURCE"},
		"capture.sample_rate":    {"WITHVOICE_CAPTURE_SAMPLE_RATE", "WITHVOICE_SAMPLE_RATE"},
		"capture.channels":       {"WITHVOICE_CAPTURE_CHANNELS", "WITHVOICE_CHANNELS"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

func defaultConfigFile() string {
	var candidates []string
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "withvoice", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "withvoice", "config.yaml"))
	}
	return firstExisting(candidates...)
}

func defaultLibraryDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "WithVoice")
	}
	return filepath.Join(os.TempDir(), "withvoice-library")
}

func fromViper(v *viper.Viper) Config {
	d := Defaults()
	return Config{
		Recorder: RecorderConfig{
			MinDuration:      durationOrDefault(v, "recorder.min_duration", d.Recorder.MinDuration),
			MaxDuration:      durationOrDefault(v, "recorder.max_duration", d.Recorder.MaxDuration),
			TimerInterval:    durationOrDefault(v, "recorder.timer_interval", d.Recorder.TimerInterval),
			FragmentInterval: durationOrDefault(v, "recorder.fragment_interval", d.Recorder.FragmentInterval),
			LevelInterval:    durationOrDefault(v, "recorder.level_interval", d.Recorder.LevelInterval),
		},
		Capture: CaptureConfig{
			Backend:          strings.ToLower(stringOrDefault(v, "capture.backend", d.Capture.Backend)),
			FFMPEGCommand:    stringOrDefault(v, "capture.ffmpeg_command", d.Capture.FFMPEGCommand),
			InputFormat:      stringOrDefault(v, "capture.input_format", d.Capture.InputFormat),
			InputDevice:      stringOrDefault(v, "capture.input_device", d.Capture.InputDevice),
			SampleRate:       positiveIntOrDefault(v, "capture.sample_rate", d.Capture.SampleRate),
			Channels:         positiveIntOrDefault(v, "capture.channels", d.Capture.Channels),
			EchoCancellation: boolOrDefault(v, "capture.echo_cancellation", d.Capture.EchoCancellation),
			NoiseSuppression: boolOrDefault(v, "capture.noise_suppression", d.Capture.NoiseSuppression),
		},
		Encoder: EncoderConfig{
			FFMPEGCommand: stringOrDefault(v, "encoder.ffmpeg_command", d.Encoder.FFMPEGCommand),
		},
		Analyser: AnalyserConfig{
			FFTSize:   positiveIntOrDefault(v, "analyser.fft_size", d.Analyser.FFTSize),
			Smoothing: floatOrDefault(v, "analyser.smoothing", d.Analyser.Smoothing),
		},
		Playback: PlaybackConfig{
			FFPlayCommand:  stringOrDefault(v, "playback.ffplay_command", d.Playback.FFPlayCommand),
			FFProbeCommand: stringOrDefault(v, "playback.ffprobe_command", d.Playback.FFProbeCommand),
		},
		Storage: StorageConfig{
			HandleDir:  stringOrDefault(v, "storage.handle_dir", d.Storage.HandleDir),
			LibraryDir: stringOrDefault(v, "storage.library_dir", d.Storage.LibraryDir),
		},
		Log: LogConfig{
			Level:      strings.ToLower(stringOrDefault(v, "log.level", d.Log.Level)),
			File:       stringOrDefault(v, "log.file", d.Log.File),
			MaxSizeMB:  positiveIntOrDefault(v, "log.max_size_mb", d.Log.MaxSizeMB),
			MaxBackups: nonNegativeIntOrDefault(v, "log.max_backups", d.Log.MaxBackups),
		},
		Server: ServerConfig{
			Listen: stringOrDefault(v, "server.listen", d.Server.Listen),
		},
	}
}

var validate = validator.New()

// Validate checks the structural constraints between settings.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func stringOrDefault(v *viper.Viper, key string, fallback string) string {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return fallback
	}
	return value
}

func positiveIntOrDefault(v *viper.Viper, key string, fallback int) int {
	parsed, ok := parseInt(v, key)
	if !ok || parsed <= 0 {
		return fallback
	}
	return parsed
}

func nonNegativeIntOrDefault(v *viper.Viper, key string, fallback int) int {
	parsed, ok := parseInt(v, key)
	if !ok || parsed < 0 {
		return fallback
	}
	return parsed
}

func parseInt(v *viper.Viper, key string) (int, bool) {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func floatOrDefault(v *viper.Viper, key string, fallback float64) float64 {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// durationOrDefault accepts Go duration strings or bare milliseconds.
func durationOrDefault(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		if ms <= 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func boolOrDefault(v *viper.Viper, key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(v.GetString(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
