package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	AppName     string          `yaml:"app_name"`
	Environment string          `yaml:"environment"`
	DataDir     string          `yaml:"data_dir"`
	UI          UIConfig        `yaml:"ui"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Audio       AudioConfig     `yaml:"audio"`
	STT         STTConfig       `yaml:"stt"`
	History     HistoryConfig   `yaml:"history"`
}

type UIConfig struct {
	Notifications bool `yaml:"notifications"`
	RestoreLast   bool `yaml:"restore_last"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AudioConfig struct {
	Mode            string `yaml:"mode"` // portaudio, mock
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
	KeepRecordings  bool   `yaml:"keep_recordings"`
}

type STTConfig struct {
	Mode         string `yaml:"mode"` // cpp, exec, server, mock
	Command      string `yaml:"command"`
	Model        string `yaml:"model"` // tiny, base, small, medium, large
	Language     string `yaml:"language"`
	ModelDir     string `yaml:"model_dir"`
	AutoDownload bool   `yaml:"auto_download"`
	Endpoint     string `yaml:"endpoint"`
	APIKey       string `yaml:"api_key"`
	Threads      int    `yaml:"threads"`
	Translate    bool   `yaml:"translate"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, session, persistent
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		AppName:     "murmel",
		Environment: "development",
		DataDir:     "./data",
		UI: UIConfig{
			Notifications: true,
			RestoreLast:   true,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    8390,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
			TraceStdout:  false,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           -1,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			Mode:            "portaudio",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			KeepRecordings:  false,
		},
		STT: STTConfig{
			Mode:         "cpp",
			Model:        "small",
			Language:     "de",
			ModelDir:     "./data/models",
			AutoDownload: true,
			Threads:      0,
			Translate:    false,
			TimeoutMS:    120000,
		},
		History: HistoryConfig{
			Path:          "./data/murmel-history.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   500,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.AppName, "MURMEL_APP_NAME")
	overrideString(&cfg.Environment, "MURMEL_ENVIRONMENT")
	overrideString(&cfg.DataDir, "MURMEL_DATA_DIR")
	overrideBool(&cfg.UI.Notifications, "MURMEL_UI_NOTIFICATIONS")
	overrideBool(&cfg.UI.RestoreLast, "MURMEL_UI_RESTORE_LAST")
	overrideBool(&cfg.HTTP.Enabled, "MURMEL_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "MURMEL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMEL_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMEL_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMEL_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMEL_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "MURMEL_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Embedded, "MURMEL_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMEL_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MURMEL_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MURMEL_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MURMEL_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MURMEL_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MURMEL_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMEL_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.Mode, "MURMEL_AUDIO_MODE")
	overrideInt(&cfg.Audio.SampleRate, "MURMEL_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "MURMEL_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "MURMEL_AUDIO_FRAME_DURATION_MS")
	overrideBool(&cfg.Audio.KeepRecordings, "MURMEL_AUDIO_KEEP_RECORDINGS")
	overrideString(&cfg.STT.Mode, "MURMEL_STT_MODE")
	overrideString(&cfg.STT.Command, "MURMEL_STT_COMMAND")
	overrideString(&cfg.STT.Model, "MURMEL_STT_MODEL")
	overrideString(&cfg.STT.Language, "MURMEL_STT_LANGUAGE")
	overrideString(&cfg.STT.ModelDir, "MURMEL_STT_MODEL_DIR")
	overrideBool(&cfg.STT.AutoDownload, "MURMEL_STT_AUTO_DOWNLOAD")
	overrideString(&cfg.STT.Endpoint, "MURMEL_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "MURMEL_STT_API_KEY")
	overrideInt(&cfg.STT.Threads, "MURMEL_STT_THREADS")
	overrideBool(&cfg.STT.Translate, "MURMEL_STT_TRANSLATE")
	overrideInt(&cfg.STT.TimeoutMS, "MURMEL_STT_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "MURMEL_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "MURMEL_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "MURMEL_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "MURMEL_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "MURMEL_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.AppName == "" {
		return errors.New("app_name must not be empty")
	}
	if cfg.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
		// ok
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.HTTP.Enabled {
		if cfg.HTTP.Bind == "" {
			return errors.New("http.bind must not be empty when the debug endpoint is enabled")
		}
		if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
			return errors.New("http.port must be between 1 and 65535")
		}
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port != -1 && (cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535) {
			return errors.New("bus.port must be -1 (random) or between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Audio.Mode {
	case "portaudio", "mock":
		// ok
	default:
		return errors.New("audio.mode must be one of portaudio|mock")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 || cfg.Audio.Channels > 2 {
		return errors.New("audio.channels must be 1 or 2")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	switch cfg.STT.Mode {
	case "cpp", "exec", "server", "mock":
		// ok
	default:
		return errors.New("stt.mode must be one of cpp|exec|server|mock")
	}
	switch cfg.STT.Model {
	case "tiny", "base", "small", "medium", "large":
		// ok
	default:
		return errors.New("stt.model must be one of tiny|base|small|medium|large")
	}
	if cfg.STT.Language == "" {
		return errors.New("stt.language must not be empty")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.Mode == "server" && cfg.STT.Endpoint == "" && cfg.STT.APIKey == "" {
		return errors.New("stt.endpoint or stt.api_key must be set when mode=server")
	}
	if cfg.STT.Mode == "cpp" {
		// the in-process whisper backend only accepts 16kHz mono input
		if cfg.Audio.SampleRate != 16000 {
			return errors.New("audio.sample_rate must be 16000 when stt.mode=cpp")
		}
		if cfg.Audio.Channels != 1 {
			return errors.New("audio.channels must be 1 when stt.mode=cpp")
		}
	}
	if cfg.STT.Mode == "cpp" || cfg.STT.Mode == "exec" {
		if cfg.STT.ModelDir == "" {
			return errors.New("stt.model_dir must not be empty when mode=cpp or mode=exec")
		}
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionMode != "ephemeral" && cfg.History.Path == "" {
		return errors.New("history.path must not be empty when retention is enabled")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
