// Package test starts the infrastructure integration tests run against. Postgres is taken
// from the environment when POSTGRES is set and started as container otherwise.
package test

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/segmentio/kafka-go"
	"github.com/testcontainers/testcontainers-go"
	tcnetwork "github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/tenantkit/core/csql"
	"github.com/relabs-tech/tenantkit/core/logger"
)

// Environment is decoded from the environment. Use
// POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker" to test against an existing database.
type Environment struct {
	Postgres         string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	KafkaBrokers     string `env:"KAFKA_BROKERS,optional" description:"comma separated Kafka brokers"`
}

// Infrastructure holds the started containers
type Infrastructure struct {
	containers []testcontainers.Container
	network    *testcontainers.DockerNetwork
}

// Terminate stops all containers which were started
func (i *Infrastructure) Terminate() {
	ctx := context.Background()
	for _, c := range i.containers {
		if err := c.Terminate(ctx); err != nil {
			logger.Default().WithError(err).Warnln("cannot terminate container")
		}
	}
	if i.network != nil {
		i.network.Remove(ctx)
	}
}

func decodeEnvironment() Environment {
	var env Environment
	if err := envdecode.Decode(&env); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		panic(err)
	}
	return env
}

// Postgres opens a database with a fresh schema. The returned infrastructure must be
// terminated when the tests are done.
func Postgres(schema string) (*csql.DB, *Infrastructure) {
	ctx := context.Background()
	env := decodeEnvironment()
	infra := &Infrastructure{}

	if env.Postgres == "" {
		postgresUser := "testuser"
		postgresDB := "testdb"
		env.PostgresPassword = "testpass"
		pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "postgres:15",
				ExposedPorts: []string{"5432/tcp"},
				Env: map[string]string{
					"POSTGRES_USER":     postgresUser,
					"POSTGRES_PASSWORD": env.PostgresPassword,
					"POSTGRES_DB":       postgresDB,
				},
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).WithStartupTimeout(time.Minute),
			},
			Started: true,
		})
		if err != nil {
			panic(err)
		}
		infra.containers = append(infra.containers, pgC)
		host, err := pgC.Host(ctx)
		if err != nil {
			panic(err)
		}
		port, err := pgC.MappedPort(ctx, "5432")
		if err != nil {
			panic(err)
		}
		env.Postgres = fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable", host, port.Port(), postgresUser, postgresDB)
	}

	db := csql.OpenWithSchema(env.Postgres, env.PostgresPassword, schema)
	db.ClearSchema()
	return db, infra
}

// Kafka returns the brokers of a running Kafka. Without KAFKA_BROKERS a single node
// cluster is started.
func Kafka(infra *Infrastructure) []string {
	env := decodeEnvironment()
	if env.KafkaBrokers != "" {
		return strings.Split(env.KafkaBrokers, ",")
	}
	ctx := context.Background()

	network, err := tcnetwork.New(ctx)
	if err != nil {
		panic(err)
	}
	infra.network = network

	zooC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-zookeeper:7.5.0",
			ExposedPorts: []string{"2181/tcp"},
			Env: map[string]string{
				"ZOOKEEPER_CLIENT_PORT": "2181",
				"ZOOKEEPER_TICK_TIME":   "2000",
			},
			WaitingFor:     wait.ForListeningPort("2181/tcp"),
			Networks:       []string{network.Name},
			NetworkAliases: map[string][]string{network.Name: {"zookeeper"}},
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	infra.containers = append(infra.containers, zooC)

	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-kafka:7.5.0",
			ExposedPorts: []string{"29092:29092/tcp"},
			Env: map[string]string{
				"KAFKA_BROKER_ID":                        "1",
				"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
				"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,PLAINTEXT_HOST://0.0.0.0:29092",
				"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://kafka:9092,PLAINTEXT_HOST://localhost:29092",
				"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,PLAINTEXT_HOST:PLAINTEXT",
				"KAFKA_INTER_BROKER_LISTENER_NAME":       "PLAINTEXT",
				"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
			},
			WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
			Networks:       []string{network.Name},
			NetworkAliases: map[string][]string{network.Name: {"kafka"}},
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	infra.containers = append(infra.containers, kafkaC)
	return []string{"localhost:29092"}
}

// CreateTopic creates a topic with a single partition
func CreateTopic(brokers []string, topic string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}
