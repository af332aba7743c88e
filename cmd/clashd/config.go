package main

import (
	"fmt"
	"os"
	"time"

	"codeclash/internal/arena"
	"codeclash/internal/common/mq"
	"codeclash/internal/common/storage"
	"codeclash/internal/environment"
	"codeclash/internal/game"
	"codeclash/internal/leaderboard"
	"codeclash/internal/scheduler"
	"codeclash/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultTrajectoryDir   = "trajectories"
	defaultTrajectoryTopic = "codeclash.trajectories"

	runtimeLocal  = "local"
	runtimeDocker = "docker"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// TournamentConfig names the tournament and its participants. With no
// explicit matches configured, every head-to-head pairing is played.
type TournamentConfig struct {
	Name           string                `yaml:"name"`
	GameID         string                `yaml:"gameID"`
	Players        []game.Player         `yaml:"players"`
	SubmissionsDir string                `yaml:"submissionsDir"`
	Matches        []scheduler.MatchSpec `yaml:"matches"`
}

// EnvironmentConfig selects and configures the sandbox runtime.
type EnvironmentConfig struct {
	Runtime string                    `yaml:"runtime"`
	Local   environment.LocalConfig   `yaml:"local"`
	Docker  environment.DockerConfig  `yaml:"docker"`
	Manager environment.ManagerConfig `yaml:"manager"`
}

// TrajectoryConfig selects the record sinks. A sink is enabled by giving it
// a destination; all enabled sinks receive every record.
type TrajectoryConfig struct {
	Dir         string `yaml:"dir"`
	Topic       string `yaml:"topic"`
	Bucket      string `yaml:"bucket"`
	EnableKafka bool   `yaml:"enableKafka"`
	EnableMinIO bool   `yaml:"enableMinio"`
}

// AppConfig holds clashd configuration.
type AppConfig struct {
	Server      ServerConfig            `yaml:"server"`
	Logger      logger.Config           `yaml:"logger"`
	Tournament  TournamentConfig        `yaml:"tournament"`
	Games       []game.Config           `yaml:"games"`
	Environment EnvironmentConfig       `yaml:"environment"`
	Arena       arena.Config            `yaml:"arena"`
	Scheduler   scheduler.Config        `yaml:"scheduler"`
	Trajectory  TrajectoryConfig        `yaml:"trajectory"`
	Kafka       mq.KafkaConfig          `yaml:"kafka"`
	MinIO       storage.MinIOConfig     `yaml:"minio"`
	Redis       leaderboard.RedisConfig `yaml:"redis"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Environment.Runtime == "" {
		cfg.Environment.Runtime = runtimeLocal
	}
	if cfg.Environment.Runtime != runtimeLocal && cfg.Environment.Runtime != runtimeDocker {
		return nil, fmt.Errorf("unknown environment runtime %q", cfg.Environment.Runtime)
	}

	if cfg.Trajectory.Dir == "" {
		cfg.Trajectory.Dir = defaultTrajectoryDir
	}
	if cfg.Trajectory.Topic == "" {
		cfg.Trajectory.Topic = defaultTrajectoryTopic
	}
	if cfg.Trajectory.EnableKafka && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("trajectory kafka sink enabled but no brokers configured")
	}
	if cfg.Trajectory.EnableMinIO {
		if cfg.MinIO.Endpoint == "" {
			return nil, fmt.Errorf("trajectory minio sink enabled but no endpoint configured")
		}
		if cfg.Trajectory.Bucket == "" {
			cfg.Trajectory.Bucket = cfg.MinIO.Bucket
		}
	}

	if cfg.Tournament.Name == "" {
		return nil, fmt.Errorf("tournament name is required")
	}
	if cfg.Tournament.GameID == "" && len(cfg.Tournament.Matches) == 0 {
		return nil, fmt.Errorf("tournament gameID is required")
	}
	if len(cfg.Tournament.Players) < 2 && len(cfg.Tournament.Matches) == 0 {
		return nil, fmt.Errorf("tournament needs at least two players")
	}
	if cfg.Tournament.SubmissionsDir == "" {
		return nil, fmt.Errorf("tournament submissionsDir is required")
	}
	if len(cfg.Games) == 0 {
		return nil, fmt.Errorf("at least one game must be configured")
	}

	return &cfg, nil
}
