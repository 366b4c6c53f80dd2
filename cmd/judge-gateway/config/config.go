package config

import (
	"os"
	"time"

	"github.com/koding/multiconfig"
)

// Config defines judge gateway configuration
type Config struct {
	// redis
	RedisAddr     string `flagUsage:"redis address, empty uses an embedded in-memory redis" default:"localhost:6379"`
	RedisPassword string `flagUsage:"redis password"`
	RedisDB       int    `flagUsage:"redis database"`
	KeyPrefix     string `flagUsage:"prefix of every redis key" default:"judge-gateway:"`

	// task queue
	QueueKey      string        `flagUsage:"redis sorted set of the task queue" default:"task-queue"`
	MemoryQueue   bool          `flagUsage:"keep the task queue in process memory (single instance only)"`
	PollTimeout   time.Duration `flagUsage:"dequeue wait of a single poll" default:"5s"`
	AckTimeout    time.Duration `flagUsage:"wait for a worker to ack a task" default:"10s"`
	CloseDelay    time.Duration `flagUsage:"delay before closing an unauthenticated connection" default:"1s"`
	DisconnectTTL time.Duration `flagUsage:"lifetime of the disconnected marker of a worker" default:"5m"`

	// lock
	LockTTL        time.Duration `flagUsage:"expiry of a lock record" default:"10s"`
	LockRetry      time.Duration `flagUsage:"interval between lock acquisition attempts" default:"100ms"`
	LockMaxRetries uint          `flagUsage:"lock acquisition attempts before giving up" default:"100"`

	// database
	DBDriver       string        `flagUsage:"database driver: postgres, mysql or sqlite" default:"sqlite"`
	DBDSN          string        `flagUsage:"database dsn (sqlite in memory by default)"`
	DBMaxIdleConns int           `flagUsage:"max idle database connections" default:"10"`
	DBMaxOpenConns int           `flagUsage:"max open database connections"`
	UsageWindow    time.Duration `flagUsage:"window of judge time used for fairness" default:"1h"`

	// workers
	WorkerConf string `flagUsage:"specifies worker identity configuration file" default:"workers.yaml"`

	// file store
	Dir        string        `flagUsage:"specifies directory to store test data and answer files (in memory by default)"`
	FileSecret string        `flagUsage:"secret to sign file download urls"`
	PublicURL  string        `flagUsage:"url prefix workers use to reach this server" default:"http://localhost:5060"`
	FileURLTTL time.Duration `flagUsage:"lifetime of a signed download url" default:"1h"`

	// server config
	HTTPAddr      string `flagUsage:"specifies the http binding address" default:":5060"`
	MonitorAddr   string `flagUsage:"specifies the metrics binding address" default:":5062"`
	AuthToken     string `flagUsage:"bearer token auth for the admin and file api"`
	EnableDebug   bool   `flagUsage:"enable debug endpoint"`
	EnableMetrics bool   `flagUsage:"enable promethus metrics endpoint"`

	// logger config
	Release bool `flagUsage:"release level of logs"`
	Silent  bool `flagUsage:"do not print logs"`

	// show version and exit
	Version bool `flagUsage:"show version and exit"`
}

// Load loads config from flag & environment variables
func (c *Config) Load() error {
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{
			Prefix:    "JG",
			CamelCase: true,
		},
		&multiconfig.FlagLoader{
			CamelCase: true,
			EnvPrefix: "JG",
		},
	)
	if os.Getpid() == 1 {
		c.Release = true
	}
	return cl.Load(c)
}
