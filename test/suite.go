package test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/resquery/core/backend"
	"github.com/relabs-tech/resquery/core/client"
	"github.com/relabs-tech/resquery/core/csql"
	"github.com/relabs-tech/resquery/core/logger"
	"github.com/relabs-tech/resquery/core/pipeline"
	"github.com/relabs-tech/resquery/core/query"
	"github.com/relabs-tech/resquery/core/registry"
	"github.com/relabs-tech/resquery/core/schemasync"
	"github.com/relabs-tech/resquery/core/store/postgres"
)

const fieldsTopic = "resquery-fields"

var configurationYAML = `
max_pagination_limit: 50
default_page_size: 2
resources:
  - resource: patient
    fields:
      - {name: name, type: string}
      - {name: age, type: number}
  - resource: form
    collection: forms
    core: true
    fields:
      - {name: name, type: string}
`

// instance is one query service on the shared database
type instance struct {
	engine    *query.Engine
	server    *httptest.Server
	client    client.Client
	consumer  *schemasync.Consumer
	publisher *schemasync.Publisher
}

// IntegrationTestSuite runs query services on postgres with field updates
// distributed over kafka. Set RESQUERY_INTEGRATION to run it, it requires docker.
type IntegrationTestSuite struct {
	suite.Suite
	network           testcontainers.Network
	kafkaContainer    testcontainers.Container
	postgresContainer testcontainers.Container
	kafkaConn         *kafka.Conn
	kafkaAddr         string

	db        *csql.DB
	documents *postgres.Store
	registry  *registry.Registry
	instances []*instance
	cancel    context.CancelFunc
}

func (s *IntegrationTestSuite) createTopic(topic string, numPartitions int) error {
	if s.kafkaConn == nil {
		return fmt.Errorf("kafka connection is not established")
	}

	err := s.kafkaConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

func (s *IntegrationTestSuite) SetupSuite() {
	if os.Getenv("RESQUERY_INTEGRATION") == "" {
		s.T().Skip("set RESQUERY_INTEGRATION to run the integration tests")
	}
	ctx := context.Background()

	// Create a shared Docker network for Kafka and Zookeeper
	networkName := "test-kafka-network_" + fmt.Sprintf("%d", time.Now().Unix())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name:           networkName,
			CheckDuplicate: true,
		},
	})
	s.Require().NoError(err)
	s.network = network

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDB,
			},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"postgres"}},
			WaitingFor:     wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	_, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-zookeeper:7.5.0",
			ExposedPorts: []string{"2181/tcp"},
			Env: map[string]string{
				"ZOOKEEPER_CLIENT_PORT": "2181",
				"ZOOKEEPER_TICK_TIME":   "2000",
			},
			WaitingFor:     wait.ForListeningPort("2181/tcp"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
		},
		Started: true,
	})
	s.Require().NoError(err)

	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-kafka:7.5.0",
			ExposedPorts: []string{"9092:9092/tcp", "29092:29092/tcp"},
			Env: map[string]string{
				"KAFKA_BROKER_ID":                        "1",
				"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
				"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,PLAINTEXT_HOST://0.0.0.0:29092,EXTERNAL://0.0.0.0:9093",
				"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092,PLAINTEXT_HOST://localhost:29092,EXTERNAL://kafka:9093",
				"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,PLAINTEXT_HOST:PLAINTEXT,EXTERNAL:PLAINTEXT",
				"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
				"ALLOW_PLAINTEXT_LISTENER":               "yes",
			},
			WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"kafka"}},
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.kafkaContainer = kafkaC

	kafkaHost, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	kafkaPort, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())

	s.kafkaConn, err = kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)
	s.Require().NoError(s.createTopic(fieldsTopic, 1))

	s.db, err = csql.Open(ctx, fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), postgresUser, postgresDB), postgresPassword, "integration")
	s.Require().NoError(err)
	s.documents = postgres.New(s.db)
	s.Require().NoError(s.documents.CreateCollections(ctx, query.RecordsCollection, "forms"))
	s.registry, err = registry.New(ctx, s.db)
	s.Require().NoError(err)
	s.seed(ctx)

	config, err := backend.ParseConfiguration([]byte(configurationYAML))
	s.Require().NoError(err)

	var runCtx context.Context
	runCtx, s.cancel = context.WithCancel(ctx)
	for _, group := range []string{"instance-a", "instance-b"} {
		s.instances = append(s.instances, s.startInstance(runCtx, config, group))
	}
}

func (s *IntegrationTestSuite) seed(ctx context.Context) {
	forms := []pipeline.Document{
		{"id": uuid.NewString(), "name": "Intake"},
		{"id": uuid.NewString(), "name": "Discharge"},
	}
	s.Require().NoError(s.documents.Insert(ctx, "forms", forms...))

	for _, patient := range []map[string]interface{}{
		{"name": "Alice", "age": 30},
		{"name": "Bob", "age": 17},
		{"name": "Carol", "age": 64},
	} {
		s.Require().NoError(s.documents.Insert(ctx, query.RecordsCollection, pipeline.Document{
			"id": uuid.NewString(), "resource": "patient", "data": patient,
		}))
	}
}

func (s *IntegrationTestSuite) startInstance(ctx context.Context, config *backend.Configuration, group string) *instance {
	engine, err := query.New(ctx, &query.Builder{
		Resources:  config.Resources,
		Executor:   s.documents,
		Settings:   config.Settings(query.Settings{}),
		FieldStore: s.registry.Fields(),
	})
	s.Require().NoError(err)

	kafkaConfig := schemasync.Config{Brokers: []string{s.kafkaAddr}, Topic: fieldsTopic, GroupID: group}
	i := &instance{
		engine:    engine,
		publisher: schemasync.NewPublisher(kafkaConfig),
		consumer:  schemasync.NewConsumer(kafkaConfig, engine),
	}
	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Engine:         engine,
		Router:         router,
		FieldPublisher: i.publisher,
	})
	i.server = httptest.NewServer(router)
	i.client = client.NewWithURL(i.server.URL)

	go func() {
		if err := i.consumer.Run(ctx); err != nil {
			logger.Default().WithError(err).Errorln("consumer stopped:", group)
		}
	}()
	return i
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.cancel != nil {
		s.cancel()
	}
	for _, i := range s.instances {
		i.server.Close()
		i.consumer.Close()
		i.publisher.Close()
	}
	if s.db != nil {
		s.db.ClearSchema()
		s.db.Close()
	}
	if s.kafkaConn != nil {
		s.kafkaConn.Close()
	}

	if s.kafkaContainer != nil {
		err := s.kafkaContainer.Terminate(ctx)
		s.Require().NoError(err)
	}
	if s.postgresContainer != nil {
		err := s.postgresContainer.Terminate(ctx)
		s.Require().NoError(err)
	}
	if s.network != nil {
		s.network.Remove(ctx)
	}
}
