package config

import (
	"fmt"
	"os"
	"strings"

	"ChatHub/tools/decode"
	"ChatHub/tools/errs"
	"ChatHub/tools/ids"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the optional YAML file read by Load.
const ConfigPathEnv = "CHAT_CONFIG"

// 环境变量 -> 配置路径（点分）
var envKeys = map[string]string{
	"CHAT_NODE_ID":              "node_id",
	"CHAT_HTTP_ADDR":            "http.addr",
	"CHAT_HTTP_ALLOWED_ORIGINS": "http.allowed_origins",
	"CHAT_JWT_SECRET":           "jwt.secret",
	"CHAT_JWT_ALG":              "jwt.alg",
	"CHAT_HUB_SEND_QUEUE":       "hub.send_queue",
	"CHAT_HUB_WRITE_WAIT":       "hub.write_wait",
	"CHAT_HUB_PING_INTERVAL":    "hub.ping_interval",
	"CHAT_HUB_PERSIST_TIMEOUT":  "hub.persist_timeout",
	"CHAT_HUB_MAX_FRAME_BYTES":  "hub.max_frame_bytes",
	"CHAT_STORAGE_DRIVER":       "storage.driver",
	"CHAT_POSTGRES_URL":         "storage.postgres_url",
	"CHAT_MONGO_URI":            "storage.mongo.uri",
	"CHAT_MONGO_DATABASE":       "storage.mongo.database",
	"CHAT_REDIS_ENABLED":        "redis.enabled",
	"CHAT_REDIS_ADDR":           "redis.addr",
	"CHAT_REDIS_PASSWORD":       "redis.password",
	"CHAT_REDIS_DB":             "redis.db",
	"CHAT_SINK_DRIVER":          "sink.driver",
	"CHAT_NATS_SERVERS":         "sink.nats_servers",
	"CHAT_NATS_SUBJECT":         "sink.nats_subject",
	"CHAT_NATS_USER":            "sink.nats_user",
	"CHAT_NATS_PASSWORD":        "sink.nats_password",
	"CHAT_NATS_JETSTREAM":       "sink.jetstream",
	"CHAT_KAFKA_BROKERS":        "sink.kafka_brokers",
	"CHAT_KAFKA_TOPIC":          "sink.kafka_topic",
	"CHAT_KAFKA_ENSURE_TOPIC":   "sink.kafka_ensure_topic",
	"CHAT_LOG_LEVEL":            "log.level",
}

// Load builds the configuration from the YAML file named by CHAT_CONFIG (if any),
// then CHAT_* environment overrides, then defaults.
func Load() (AppConfig, error) {
	return LoadWith(os.Getenv(ConfigPathEnv), os.LookupEnv)
}

// LoadWith is Load with an explicit file path and environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (AppConfig, error) {
	raw := map[string]any{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, errs.WrapMsg(err, "read config file", "path", path)
		}
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return AppConfig{}, errs.WrapMsg(err, "parse config file", "path", path)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	if lookup != nil {
		for env, key := range envKeys {
			if v, ok := lookup(env); ok {
				setPath(raw, key, v)
			}
		}
	}

	var c AppConfig
	if err := decode.Map(raw, &c); err != nil {
		return AppConfig{}, errs.WrapMsg(err, "decode config")
	}
	c.norm()
	if err := c.Validate(); err != nil {
		return AppConfig{}, err
	}
	return c, nil
}

func (c *AppConfig) Validate() error {
	if c.NodeID > ids.MaxNodeID {
		return errs.ErrArgs.WrapMsg("node_id out of range", "node_id", c.NodeID, "max", ids.MaxNodeID)
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errs.ErrArgs.WrapMsg("jwt.secret is required")
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return errs.ErrArgs.WrapMsg("storage.postgres_url is required for postgres driver")
		}
	case StorageMongo:
		if c.Storage.Mongo.URI == "" {
			return errs.ErrArgs.WrapMsg("storage.mongo.uri is required for mongo driver")
		}
	default:
		return errs.ErrArgs.WrapMsg("unknown storage driver", "driver", c.Storage.Driver)
	}
	switch c.Sink.Driver {
	case SinkNone:
	case SinkNATS:
		if len(c.Sink.NATSServers) == 0 {
			return errs.ErrArgs.WrapMsg("sink.nats_servers is required for nats sink")
		}
	case SinkKafka:
		if len(c.Sink.KafkaBrokers) == 0 {
			return errs.ErrArgs.WrapMsg("sink.kafka_brokers is required for kafka sink")
		}
	default:
		return errs.ErrArgs.WrapMsg("unknown sink driver", "driver", c.Sink.Driver)
	}
	return nil
}

// setPath 按点分路径写入嵌套 map，中间层不存在时创建
func setPath(m map[string]any, path, value string) {
	parts := strings.Split(path, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func (c AppConfig) String() string {
	return fmt.Sprintf("node=%d http=%s storage=%s sink=%s redis=%t log=%s",
		c.NodeID, c.HTTP.Addr, c.Storage.Driver, c.Sink.Driver, c.Redis.Enabled, c.Log.Level)
}
