package config

import "time"

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"

	SinkNone  = "none"
	SinkNATS  = "nats"
	SinkKafka = "kafka"
)

type AppConfig struct {
	NodeID  int64         `yaml:"node_id"` // 节点号，参与雪花ID
	HTTP    HTTPConfig    `yaml:"http"`
	JWT     JWTConfig     `yaml:"jwt"`
	Hub     HubConfig     `yaml:"hub"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Sink    SinkConfig    `yaml:"sink"`
	Log     LogConfig     `yaml:"log"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"` // 为空则不校验 Origin
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
	Alg    string `yaml:"alg"`
}

// HubConfig tunes per-connection behaviour. PingInterval < 0 disables keepalive pings.
type HubConfig struct {
	SendQueue      int           `yaml:"send_queue"`
	WriteWait      time.Duration `yaml:"write_wait"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PersistTimeout time.Duration `yaml:"persist_timeout"`
	MaxFrameBytes  int64         `yaml:"max_frame_bytes"`
}

type StorageConfig struct {
	Driver      string      `yaml:"driver"` // memory | postgres | mongo
	PostgresURL string      `yaml:"postgres_url"`
	Mongo       MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	MaxPoolSize int    `yaml:"max_pool_size"`
	MaxRetry    int    `yaml:"max_retry"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type SinkConfig struct {
	Driver       string   `yaml:"driver"` // none | nats | kafka
	NATSServers  []string `yaml:"nats_servers"`
	NATSSubject  string   `yaml:"nats_subject"`
	NATSUser     string   `yaml:"nats_user"`
	NATSPassword string   `yaml:"nats_password"`
	JetStream    bool     `yaml:"jetstream"` // 走 JetStream 发布（需预先建好 stream）
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	KafkaEnsure  bool     `yaml:"kafka_ensure_topic"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func (c *AppConfig) norm() {
	if c.NodeID <= 0 {
		c.NodeID = 1
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.JWT.Alg == "" {
		c.JWT.Alg = "HS256"
	}
	if c.Hub.SendQueue <= 0 {
		c.Hub.SendQueue = 256
	}
	if c.Hub.WriteWait <= 0 {
		c.Hub.WriteWait = 5 * time.Second
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = 25 * time.Second
	}
	if c.Hub.PersistTimeout <= 0 {
		c.Hub.PersistTimeout = 5 * time.Second
	}
	if c.Hub.MaxFrameBytes <= 0 {
		c.Hub.MaxFrameBytes = 1 << 20 // 1MB
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = "chat"
	}
	if c.Storage.Mongo.MaxPoolSize <= 0 {
		c.Storage.Mongo.MaxPoolSize = 20
	}
	if c.Storage.Mongo.MaxRetry <= 0 {
		c.Storage.Mongo.MaxRetry = 3
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Sink.Driver == "" {
		c.Sink.Driver = SinkNone
	}
	if c.Sink.NATSSubject == "" {
		c.Sink.NATSSubject = "chat.events"
	}
	if c.Sink.KafkaTopic == "" {
		c.Sink.KafkaTopic = "chat_events"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
