package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 保存整个服务的运行配置
type Config struct {
	LogLevel string
	LogPath  string

	HTTPAddr          string
	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string // bcrypt

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// PlaylistStore 选择保存播放列表的后端: mysql 或 minio
	PlaylistStore string

	NeteaseAPIURL    string
	NeteaseRateLimit int

	DiscordToken string
	SearchMode   string
	RestartDelay time.Duration

	ConfigFile string
	Nodes      []NodeConfig
	Inactivity InactivityConfig
}

// NodeConfig 单个音频节点
type NodeConfig struct {
	Name      string `yaml:"name"`
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	Secure    bool   `yaml:"secure"`
	RateLimit int    `yaml:"rateLimit"`
}

// InactivityConfig 空闲检测配置，可以通过配置文件热更新
type InactivityConfig struct {
	DefaultTimeout     time.Duration   `yaml:"defaultTimeout"`
	PollInterval       time.Duration   `yaml:"pollInterval"`
	Mode               string          `yaml:"mode"`
	TimeoutBehavior    string          `yaml:"timeoutBehavior"`
	UseDefaultTrackers bool            `yaml:"useDefaultTrackers"`
	Trackers           []TrackerConfig `yaml:"trackers"`
}

// TrackerConfig 单个检测器。Kind 取值 users / idle
type TrackerConfig struct {
	Kind        string        `yaml:"kind"`
	Label       string        `yaml:"label"`
	Timeout     time.Duration `yaml:"timeout"`
	Threshold   int           `yaml:"threshold"`
	ExcludeBots bool          `yaml:"excludeBots"`
}

// fileConfig 配置文件中允许出现的部分
type fileConfig struct {
	Nodes      []NodeConfig      `yaml:"nodes"`
	Inactivity *InactivityConfig `yaml:"inactivity"`
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// parseNodes 解析 LAVALINK_NODES，格式为 password@host:port，多个节点用逗号分隔
func parseNodes(raw string) []NodeConfig {
	var nodes []NodeConfig
	for i, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		node := NodeConfig{Name: fmt.Sprintf("node-%d", i+1), Address: entry}
		if at := strings.LastIndex(entry, "@"); at >= 0 {
			node.Password = entry[:at]
			node.Address = entry[at+1:]
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// DefaultInactivity 默认空闲检测配置
func DefaultInactivity() InactivityConfig {
	return InactivityConfig{
		DefaultTimeout:     getEnvDuration("INACTIVITY_TIMEOUT", 2*time.Minute),
		PollInterval:       getEnvDuration("INACTIVITY_POLL_INTERVAL", 5*time.Second),
		Mode:               getEnv("INACTIVITY_MODE", "any"),
		TimeoutBehavior:    getEnv("INACTIVITY_TIMEOUT_BEHAVIOR", "highest"),
		UseDefaultTrackers: getEnvBool("INACTIVITY_USE_DEFAULT_TRACKERS", true),
	}
}

// Load loads configuration from environment variables (via .env file), then
// overlays nodes and inactivity settings from the YAML config file if present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	cfg := &Config{
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogPath:           getEnv("LOG_PATH", ""),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		DBHost:            getEnv("DB_HOST", "127.0.0.1"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBUser:            getEnv("DB_USER", "root"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBName:            getEnv("DB_NAME", "qfmbot"),
		RedisHost:         getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:         getEnv("REDIS_PORT", "6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		MinioEndpoint:     getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey:    getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:    getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:       getEnv("MINIO_BUCKET", "qfmbot"),
		MinioRegion:       getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:       getEnvBool("MINIO_USE_SSL", false),
		PlaylistStore:     getEnv("PLAYLIST_STORE", "mysql"),
		NeteaseAPIURL:     getEnv("NETEASE_API_URL", ""),
		NeteaseRateLimit:  getEnvInt("NETEASE_RATE_LIMIT", 5),
		DiscordToken:      os.Getenv("DISCORD_TOKEN"),
		SearchMode:        getEnv("SEARCH_MODE", "ytsearch"),
		RestartDelay:      getEnvDuration("RESTART_DELAY", 2*time.Second),
		ConfigFile:        getEnv("CONFIG_FILE", "config.yaml"),
		Nodes:             parseNodes(os.Getenv("LAVALINK_NODES")),
		Inactivity:        DefaultInactivity(),
	}

	if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
		log.Printf("Failed to load config file %s: %v", cfg.ConfigFile, err)
	}
	return cfg
}

// LoadFile 读取 YAML 配置文件覆盖节点和空闲检测配置，文件不存在时直接返回
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	fc, err := parseFile(data, c.Inactivity)
	if err != nil {
		return err
	}
	if len(fc.Nodes) > 0 {
		c.Nodes = fc.Nodes
	}
	if fc.Inactivity != nil {
		c.Inactivity = *fc.Inactivity
	}
	return nil
}

// parseFile 解析配置文件内容，未出现的空闲检测字段保留 base 中的值
func parseFile(data []byte, base InactivityConfig) (*fileConfig, error) {
	fc := &fileConfig{}
	var raw struct {
		Inactivity yaml.Node `yaml:"inactivity"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if raw.Inactivity.Kind != 0 {
		inactivity := base
		if err := raw.Inactivity.Decode(&inactivity); err != nil {
			return nil, fmt.Errorf("parse inactivity section: %w", err)
		}
		fc.Inactivity = &inactivity
	}

	var nodes struct {
		Nodes []NodeConfig `yaml:"nodes"`
	}
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse nodes section: %w", err)
	}
	fc.Nodes = nodes.Nodes
	return fc, nil
}
