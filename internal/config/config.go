package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/meltforce/squatclicker/internal/economy"
	"github.com/meltforce/squatclicker/internal/exercise"
	"github.com/meltforce/squatclicker/internal/pose"
	"github.com/meltforce/squatclicker/internal/rep"
	"github.com/meltforce/squatclicker/internal/session"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Exercise  ExerciseConfig  `yaml:"exercise"`
	Economy   EconomyConfig   `yaml:"economy"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// RedisConfig enables cross-replica event relay when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// File, when set, receives logs in addition to stdout and is rotated by size.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ExerciseConfig struct {
	DefaultGoal   int            `yaml:"default_goal"`
	MaxGoal       int            `yaml:"max_goal"`
	MaxFPS        float64        `yaml:"max_fps"`
	FrameBuffer   int            `yaml:"frame_buffer"`
	RecordTimeout time.Duration  `yaml:"record_timeout"`
	Detector      DetectorConfig `yaml:"detector"`
}

type DetectorConfig struct {
	Side          string  `yaml:"side"`
	DownBelow     float64 `yaml:"down_below"`
	UpAbove       float64 `yaml:"up_above"`
	KneeAnkleGate bool    `yaml:"knee_ankle_gate"`
	MinKneeAnkle  float64 `yaml:"min_knee_ankle"`
	MinVisibility float64 `yaml:"min_visibility"`
}

type EconomyConfig struct {
	economy.Config `yaml:",inline"`
	Reward         economy.RewardPolicy `yaml:"reward"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Rep converts the detector section into detector thresholds.
func (d DetectorConfig) Rep() (rep.Config, error) {
	side, err := pose.ParseSide(d.Side)
	if err != nil {
		return rep.Config{}, err
	}
	cfg := rep.Config{
		Side:          side,
		DownBelow:     d.DownBelow,
		UpAbove:       d.UpAbove,
		KneeAnkleGate: d.KneeAnkleGate,
		MinKneeAnkle:  d.MinKneeAnkle,
		MinVisibility: d.MinVisibility,
	}
	if err := cfg.Validate(); err != nil {
		return rep.Config{}, err
	}
	return cfg, nil
}

// Manager returns the exercise manager settings.
func (c *Config) Manager() (exercise.Config, error) {
	det, err := c.Exercise.Detector.Rep()
	if err != nil {
		return exercise.Config{}, err
	}
	return exercise.Config{
		DefaultGoal:   c.Exercise.DefaultGoal,
		MaxGoal:       c.Exercise.MaxGoal,
		FrameBuffer:   c.Exercise.FrameBuffer,
		RecordTimeout: c.Exercise.RecordTimeout,
		Session:       session.Config{Detector: det, MaxFPS: c.Exercise.MaxFPS},
		Reward:        c.Economy.Reward,
	}, nil
}

// SlogLevel maps the configured level name to a slog level. Unknown names
// fall back to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the settings used for anything the config file omits.
func Default() *Config {
	det := rep.DefaultConfig()
	return &Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		Tailscale: TailscaleConfig{Hostname: "squatclicker", StateDir: "tsnet-state"},
		Logging:   LoggingConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 28},
		Exercise: ExerciseConfig{
			DefaultGoal:   10,
			MaxGoal:       500,
			MaxFPS:        10,
			FrameBuffer:   8,
			RecordTimeout: 5 * time.Second,
			Detector: DetectorConfig{
				Side:          string(det.Side),
				DownBelow:     det.DownBelow,
				UpAbove:       det.UpAbove,
				KneeAnkleGate: det.KneeAnkleGate,
				MinKneeAnkle:  det.MinKneeAnkle,
				MinVisibility: det.MinVisibility,
			},
		},
		Economy: EconomyConfig{
			Config: economy.DefaultConfig(),
			Reward: economy.DefaultRewardPolicy(),
		},
	}
}

// LoadEnvFile loads KEY=value pairs from a dotenv file into the process
// environment. A missing file is not an error. Variables already set win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads config from a YAML file over the defaults, then applies
// environment variable overrides. Env vars use the prefix SQUATCLICKER_:
//
//	SQUATCLICKER_SERVER_HOST, SQUATCLICKER_SERVER_PORT,
//	SQUATCLICKER_DB_HOST, SQUATCLICKER_DB_PORT, SQUATCLICKER_DB_NAME,
//	SQUATCLICKER_DB_USER, SQUATCLICKER_DB_PASSWORD, SQUATCLICKER_DB_SSLMODE,
//	SQUATCLICKER_AUTH_API_KEY, SQUATCLICKER_TAILSCALE_ENABLED,
//	SQUATCLICKER_TAILSCALE_HOSTNAME, SQUATCLICKER_REDIS_ADDR,
//	SQUATCLICKER_REDIS_PASSWORD, SQUATCLICKER_LOG_LEVEL, SQUATCLICKER_LOG_FILE,
//	SQUATCLICKER_EXERCISE_DEFAULT_GOAL, SQUATCLICKER_EXERCISE_MAX_FPS,
//	SQUATCLICKER_REWARD_PARTIAL_CREDIT
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv("SQUATCLICKER_" + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv("SQUATCLICKER_" + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv("SQUATCLICKER_" + key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("SERVER_HOST", &cfg.Server.Host)
	num("SERVER_PORT", &cfg.Server.Port)
	str("DB_HOST", &cfg.Database.Host)
	num("DB_PORT", &cfg.Database.Port)
	str("DB_NAME", &cfg.Database.Name)
	str("DB_USER", &cfg.Database.User)
	str("DB_PASSWORD", &cfg.Database.Password)
	str("DB_SSLMODE", &cfg.Database.SSLMode)
	str("AUTH_API_KEY", &cfg.Auth.APIKey)
	flag("TAILSCALE_ENABLED", &cfg.Tailscale.Enabled)
	str("TAILSCALE_HOSTNAME", &cfg.Tailscale.Hostname)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FILE", &cfg.Logging.File)
	num("EXERCISE_DEFAULT_GOAL", &cfg.Exercise.DefaultGoal)
	flag("REWARD_PARTIAL_CREDIT", &cfg.Economy.Reward.PartialCredit)

	if v := os.Getenv("SQUATCLICKER_EXERCISE_MAX_FPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Exercise.MaxFPS = f
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Exercise.DefaultGoal < 1 {
		return fmt.Errorf("exercise.default_goal must be at least 1")
	}
	if c.Exercise.MaxGoal > 0 && c.Exercise.DefaultGoal > c.Exercise.MaxGoal {
		return fmt.Errorf("exercise.default_goal %d exceeds exercise.max_goal %d",
			c.Exercise.DefaultGoal, c.Exercise.MaxGoal)
	}
	if c.Exercise.MaxFPS < 0 {
		return fmt.Errorf("exercise.max_fps must not be negative")
	}
	if _, err := c.Exercise.Detector.Rep(); err != nil {
		return fmt.Errorf("exercise.detector: %w", err)
	}
	if c.Economy.ClickUpgradeCost <= 0 || c.Economy.AutoUpgradeCost <= 0 {
		return fmt.Errorf("economy upgrade costs must be positive")
	}
	if c.Economy.Reward.PerRep < 0 || c.Economy.Reward.GoalBonus < 0 {
		return fmt.Errorf("economy.reward values must not be negative")
	}
	return nil
}
