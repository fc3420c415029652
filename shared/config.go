package shared

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "INTERVIEW"

type Config struct {
	BackendURL string           `mapstructure:"backend_url" yaml:"backend_url"`
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	Audio      AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Speech     SpeechConfig     `mapstructure:"speech" yaml:"speech"`
	Services   ServicesConfig   `mapstructure:"services" yaml:"services"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

type ConnectionConfig struct {
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay" yaml:"max_reconnect_delay"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	AudioFlushInterval   time.Duration `mapstructure:"audio_flush_interval" yaml:"audio_flush_interval"`
	MaxBatchChunks       int           `mapstructure:"max_batch_chunks" yaml:"max_batch_chunks"`
	MaxQueuedChunks      int           `mapstructure:"max_queued_chunks" yaml:"max_queued_chunks"`
}

type AudioConfig struct {
	ChunkInterval time.Duration `mapstructure:"chunk_interval" yaml:"chunk_interval"`
	SampleRate    int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels      int           `mapstructure:"channels" yaml:"channels"`
	Format        string        `mapstructure:"format" yaml:"format"`
}

type SpeechConfig struct {
	WordsPerMinute int    `mapstructure:"words_per_minute" yaml:"words_per_minute"`
	Lang           string `mapstructure:"lang" yaml:"lang"`
}

type ServicesConfig struct {
	SessionURL   string        `mapstructure:"session_url" yaml:"session_url"`
	UploadURL    string        `mapstructure:"upload_url" yaml:"upload_url"`
	Judge0URL    string        `mapstructure:"judge0_url" yaml:"judge0_url"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DefaultConnectionConfig holds the production connection defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		DialTimeout:          15 * time.Second,
		WriteTimeout:         5 * time.Second,
		AudioFlushInterval:   5 * time.Second,
		MaxBatchChunks:       50,
		MaxQueuedChunks:      500,
	}
}

func setDefaults(v *viper.Viper) {
	cc := DefaultConnectionConfig()
	v.SetDefault("backend_url", "http://localhost:8000")
	v.SetDefault("connection.max_reconnect_attempts", cc.MaxReconnectAttempts)
	v.SetDefault("connection.reconnect_delay", cc.ReconnectDelay)
	v.SetDefault("connection.max_reconnect_delay", cc.MaxReconnectDelay)
	v.SetDefault("connection.heartbeat_interval", cc.HeartbeatInterval)
	v.SetDefault("connection.dial_timeout", cc.DialTimeout)
	v.SetDefault("connection.write_timeout", cc.WriteTimeout)
	v.SetDefault("connection.audio_flush_interval", cc.AudioFlushInterval)
	v.SetDefault("connection.max_batch_chunks", cc.MaxBatchChunks)
	v.SetDefault("connection.max_queued_chunks", cc.MaxQueuedChunks)
	v.SetDefault("audio.chunk_interval", 500*time.Millisecond)
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.format", "opus")
	v.SetDefault("speech.words_per_minute", 160)
	v.SetDefault("speech.lang", "en-US")
	v.SetDefault("services.session_url", "http://localhost:3000/api/auth/session")
	v.SetDefault("services.upload_url", "http://localhost:3000/api/cloudinary")
	v.SetDefault("services.judge0_url", "https://judge0-ce.p.rapidapi.com")
	v.SetDefault("services.poll_interval", time.Second)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 2)
	v.SetDefault("log.max_age_days", 3)
	v.SetDefault("log.compress", false)
}

// LoadConfig reads an optional YAML file at path, then INTERVIEW_* environment
// overrides (connection.heartbeat_interval -> INTERVIEW_CONNECTION_HEARTBEAT_INTERVAL).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Connection.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c ConnectionConfig) Validate() error {
	switch {
	case c.MaxReconnectAttempts < 0:
		return errors.New("connection.max_reconnect_attempts must not be negative")
	case c.ReconnectDelay <= 0:
		return errors.New("connection.reconnect_delay must be positive")
	case c.MaxReconnectDelay < c.ReconnectDelay:
		return errors.New("connection.max_reconnect_delay must be >= reconnect_delay")
	case c.HeartbeatInterval <= 0:
		return errors.New("connection.heartbeat_interval must be positive")
	case c.AudioFlushInterval <= 0:
		return errors.New("connection.audio_flush_interval must be positive")
	case c.MaxBatchChunks <= 0:
		return errors.New("connection.max_batch_chunks must be positive")
	case c.MaxQueuedChunks < c.MaxBatchChunks:
		return errors.New("connection.max_queued_chunks must be >= max_batch_chunks")
	}
	return nil
}
