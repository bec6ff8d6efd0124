package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Gateway configures the websocket live-query service.
type Gateway struct {
	ListenAddr     string        `envconfig:"GATEWAY_ADDR" default:":8080"`
	KafkaBrokers   []string      `envconfig:"KAFKA_BROKERS" default:"localhost:19092"`
	KafkaTopic     string        `envconfig:"KAFKA_TOPIC" default:"chat-messages"`
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	ScyllaHosts    []string      `envconfig:"SCYLLA_HOSTS" default:"localhost:9042"`
	Keyspace       string        `envconfig:"SCYLLA_KEYSPACE" default:"chat"`
	Collection     string        `envconfig:"COLLECTION" default:"Messages"`
	JWTSecret      string        `envconfig:"JWT_SECRET" default:"my_secret_key"`
	NodeID         int64         `envconfig:"NODE_ID" default:"1"`
	PublishTimeout time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"5s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFile        string        `envconfig:"LOG_FILE" default:"gateway.log"`
}

// API configures the identity and history service.
type API struct {
	ListenAddr  string        `envconfig:"API_ADDR" default:":8081"`
	RedisAddr   string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	ScyllaHosts []string      `envconfig:"SCYLLA_HOSTS" default:"localhost:9042"`
	Keyspace    string        `envconfig:"SCYLLA_KEYSPACE" default:"chat"`
	Collection  string        `envconfig:"COLLECTION" default:"Messages"`
	JWTSecret   string        `envconfig:"JWT_SECRET" default:"my_secret_key"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFile     string        `envconfig:"LOG_FILE"`
}

// Messaging configures the Kafka to ScyllaDB persistence worker.
type Messaging struct {
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:19092"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"chat-messages"`
	GroupID      string   `envconfig:"KAFKA_GROUP_ID" default:"messaging-service-group"`
	Collection   string   `envconfig:"COLLECTION" default:"Messages"`
	ScyllaHosts  []string `envconfig:"SCYLLA_HOSTS" default:"localhost:9042"`
	Keyspace     string   `envconfig:"SCYLLA_KEYSPACE" default:"chat"`
	LogLevel     string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFile      string   `envconfig:"LOG_FILE"`
}

// Client configures the terminal chat client.
type Client struct {
	GatewayURL    string        `envconfig:"GATEWAY_URL" default:"ws://localhost:8080/ws"`
	APIURL        string        `envconfig:"API_URL" default:"http://localhost:8081"`
	AppendTimeout time.Duration `envconfig:"APPEND_TIMEOUT" default:"10s"`
	RestoreDraft  bool          `envconfig:"RESTORE_DRAFT_ON_FAILURE" default:"false"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFile       string        `envconfig:"LOG_FILE" default:"client.log"`
}

// Load fills spec from the environment. A .env file in the working directory,
// when present, is read first and never overrides variables already set.
func Load(spec interface{}) error {
	_ = godotenv.Load()

	if err := envconfig.Process("", spec); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}
