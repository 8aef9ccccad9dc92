package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// SpanExporter is otlp, stderr or none; empty picks otlp when an
	// endpoint is set and none otherwise.
	SpanExporter   string `yaml:"span_exporter"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	ASR         ASRConfig        `yaml:"asr"`
	MT          MTConfig         `yaml:"mt"`
	TTS         TTSConfig        `yaml:"tts"`
	Cache       CacheConfig      `yaml:"cache"`
	Jobs        JobsConfig       `yaml:"jobs"`
	Web         WebConfig        `yaml:"web"`
	Languages   LanguagesConfig  `yaml:"languages"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig controls how input recordings are normalised before recognition.
type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	FFmpeg     string `yaml:"ffmpeg"` // optional, used for containers without a native decoder
}

type ASRConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, openai
	Command   string `yaml:"command"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	ModelDir  string `yaml:"model_dir"`
	ModelSize string `yaml:"model_size"`
}

type MTConfig struct {
	Mode        string  `yaml:"mode"` // mock, exec, ollama, openai
	Command     string  `yaml:"command"`
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxLength   int     `yaml:"max_length"`
	Temperature float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Mode       string  `yaml:"mode"` // mock, exec, piper
	Command    string  `yaml:"command"`
	Voice      string  `yaml:"voice"`
	Rate       float64 `yaml:"rate"`
	SampleRate int     `yaml:"sample_rate"`
}

type CacheConfig struct {
	MaxModels int `yaml:"max_models"`
}

type JobsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	QueueGroup  string `yaml:"queue_group"`
	Concurrency int    `yaml:"max_concurrency"`
	// WorkerID names this node in worker announcements; empty derives one
	// from runtime_name.
	WorkerID          string `yaml:"worker_id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type WebConfig struct {
	Enabled     bool   `yaml:"enabled"`
	UploadDir   string `yaml:"upload_dir"`
	OutputDir   string `yaml:"output_dir"`
	OutputTTL   string `yaml:"output_ttl"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// LanguagesConfig replaces the built-in language table when Names is non-empty.
type LanguagesConfig struct {
	Names  map[string]string `yaml:"names"`
	Order  []string          `yaml:"order"`
	Models []ModelConfig     `yaml:"models"`
}

type ModelConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	ID     string `yaml:"id"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-s2s",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "0.0.0.0",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-s2s-runs.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
		},
		ASR: ASRConfig{
			Mode:      "mock",
			Endpoint:  "http://localhost:8178/v1",
			ModelSize: "small",
		},
		MT: MTConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxLength:   512,
			Temperature: 0.2,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			SampleRate: 22050,
		},
		Cache: CacheConfig{
			MaxModels: 8,
		},
		Jobs: JobsConfig{
			Enabled:           false,
			QueueGroup:        "s2s-workers",
			Concurrency:       2,
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Web: WebConfig{
			Enabled:     true,
			OutputTTL:   "1h",
			MaxUploadMB: 64,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
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

// SpanExporterName resolves SpanExporter, defaulting on the OTLP endpoint.
func (c TelemetryConfig) SpanExporterName() string {
	if c.SpanExporter != "" {
		return c.SpanExporter
	}
	if strings.TrimSpace(c.OTLPEndpoint) != "" {
		return "otlp"
	}
	return "none"
}

// OutputTTLDuration parses web.output_ttl; zero disables output expiry.
func (c WebConfig) OutputTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.OutputTTL)
	if err != nil {
		return 0
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.SpanExporter, "LOQA_TELEMETRY_SPAN_EXPORTER")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE")
	overrideString(&cfg.Audio.FFmpeg, "LOQA_AUDIO_FFMPEG")
	overrideString(&cfg.ASR.Mode, "LOQA_ASR_MODE")
	overrideString(&cfg.ASR.Command, "LOQA_ASR_COMMAND")
	overrideString(&cfg.ASR.Endpoint, "LOQA_ASR_ENDPOINT")
	overrideString(&cfg.ASR.APIKey, "LOQA_ASR_API_KEY")
	overrideString(&cfg.ASR.Model, "LOQA_ASR_MODEL")
	overrideString(&cfg.ASR.ModelDir, "LOQA_ASR_MODEL_DIR")
	overrideString(&cfg.ASR.ModelSize, "LOQA_ASR_MODEL_SIZE")
	overrideString(&cfg.MT.Mode, "LOQA_MT_MODE")
	overrideString(&cfg.MT.Command, "LOQA_MT_COMMAND")
	overrideString(&cfg.MT.Endpoint, "LOQA_MT_ENDPOINT")
	overrideString(&cfg.MT.APIKey, "LOQA_MT_API_KEY")
	overrideString(&cfg.MT.Model, "LOQA_MT_MODEL")
	overrideInt(&cfg.MT.MaxLength, "LOQA_MT_MAX_LENGTH")
	overrideFloat(&cfg.MT.Temperature, "LOQA_MT_TEMPERATURE")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideFloat(&cfg.TTS.Rate, "LOQA_TTS_RATE")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.Cache.MaxModels, "LOQA_CACHE_MAX_MODELS")
	overrideBool(&cfg.Jobs.Enabled, "LOQA_JOBS_ENABLED")
	overrideString(&cfg.Jobs.QueueGroup, "LOQA_JOBS_QUEUE_GROUP")
	overrideInt(&cfg.Jobs.Concurrency, "LOQA_JOBS_MAX_CONCURRENCY")
	overrideString(&cfg.Jobs.WorkerID, "LOQA_JOBS_WORKER_ID")
	overrideInt(&cfg.Jobs.HeartbeatInterval, "LOQA_JOBS_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Jobs.HeartbeatTimeout, "LOQA_JOBS_HEARTBEAT_TIMEOUT_MS")
	overrideBool(&cfg.Web.Enabled, "LOQA_WEB_ENABLED")
	overrideString(&cfg.Web.UploadDir, "LOQA_WEB_UPLOAD_DIR")
	overrideString(&cfg.Web.OutputDir, "LOQA_WEB_OUTPUT_DIR")
	overrideString(&cfg.Web.OutputTTL, "LOQA_WEB_OUTPUT_TTL")
	overrideInt(&cfg.Web.MaxUploadMB, "LOQA_WEB_MAX_UPLOAD_MB")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Jobs.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Jobs.Concurrency <= 0 {
			return errors.New("jobs.max_concurrency must be >= 1")
		}
		if cfg.Jobs.HeartbeatInterval <= 0 {
			return errors.New("jobs.heartbeat_interval_ms must be positive")
		}
		if cfg.Jobs.HeartbeatTimeout <= cfg.Jobs.HeartbeatInterval {
			return errors.New("jobs.heartbeat_timeout_ms must exceed jobs.heartbeat_interval_ms")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Telemetry.SpanExporter {
	case "", "none", "stderr":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when span_exporter=otlp")
		}
	default:
		return errors.New("telemetry.span_exporter must be one of otlp|stderr|none")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	switch cfg.ASR.Mode {
	case "mock":
	case "exec":
		if cfg.ASR.Command == "" {
			return errors.New("asr.command must be set when mode=exec")
		}
	case "openai":
		if cfg.ASR.Endpoint == "" {
			return errors.New("asr.endpoint must be set when mode=openai")
		}
	default:
		return errors.New("asr.mode must be one of mock|exec|openai")
	}
	switch cfg.ASR.ModelSize {
	case "tiny", "base", "small", "medium", "large":
	default:
		return errors.New("asr.model_size must be one of tiny|base|small|medium|large")
	}
	switch cfg.MT.Mode {
	case "mock":
	case "exec":
		if cfg.MT.Command == "" {
			return errors.New("mt.command must be set when mode=exec")
		}
	case "ollama", "openai":
		if cfg.MT.Endpoint == "" {
			return fmt.Errorf("mt.endpoint must be set when mode=%s", cfg.MT.Mode)
		}
		if cfg.MT.Mode == "ollama" && cfg.MT.Model == "" {
			return errors.New("mt.model must be set when mode=ollama")
		}
	default:
		return errors.New("mt.mode must be one of mock|exec|ollama|openai")
	}
	if cfg.MT.MaxLength < 0 {
		return errors.New("mt.max_length must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "piper":
		if cfg.TTS.Voice == "" {
			return errors.New("tts.voice must name a piper model when mode=piper")
		}
	default:
		return errors.New("tts.mode must be one of mock|exec|piper")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Rate < 0 {
		return errors.New("tts.rate must be >= 0")
	}
	if cfg.Cache.MaxModels <= 0 {
		return errors.New("cache.max_models must be >= 1")
	}
	if cfg.Web.Enabled {
		if cfg.Web.MaxUploadMB <= 0 {
			return errors.New("web.max_upload_mb must be >= 1")
		}
		if cfg.Web.OutputTTL != "" {
			if _, err := time.ParseDuration(cfg.Web.OutputTTL); err != nil {
				return fmt.Errorf("web.output_ttl: %w", err)
			}
		}
	}
	if len(cfg.Languages.Models) > 0 && len(cfg.Languages.Names) == 0 {
		return errors.New("languages.names must be set when languages.models is configured")
	}
	for _, m := range cfg.Languages.Models {
		if m.Source == "" || m.Target == "" || m.ID == "" {
			return errors.New("languages.models entries need source, target and id")
		}
	}
	return nil
}
