// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/resquery/core/access"
	"github.com/relabs-tech/resquery/core/backend"
	"github.com/relabs-tech/resquery/core/csql"
	"github.com/relabs-tech/resquery/core/logger"
	"github.com/relabs-tech/resquery/core/query"
	"github.com/relabs-tech/resquery/core/registry"
	"github.com/relabs-tech/resquery/core/schemasync"
	"github.com/relabs-tech/resquery/core/store/postgres"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	Schema           string `env:"SCHEMA,default=resquery" description:"the database schema of the collections"`
	Port             int    `env:"PORT,default=3000" description:"the port the REST service listens on"`
	LogLevel         string `env:"LOG_LEVEL,optional,default=info" description:"The level used for logger, can be debug, warning, info, error"`
	JwtSecret        string `env:"JWT_SECRET,optional" description:"the HMAC secret of bearer tokens, enables authorization"`
	JwtIssuer        string `env:"JWT_ISSUER,optional" description:"the accepted issuer of bearer tokens"`
	KafkaBrokers     string `env:"KAFKA_BROKERS,optional" description:"comma separated kafka brokers, distributes field updates"`
	KafkaTopic       string `env:"KAFKA_TOPIC,default=resquery-fields" description:"the kafka topic of field updates"`
	KafkaGroupID     string `env:"KAFKA_GROUP_ID,optional" description:"the consumer group of field updates, defaults to resquery-<hostname>"`
}

func (s *Service) kafka() (schemasync.Config, bool) {
	var brokers []string
	for _, broker := range strings.Split(s.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return schemasync.Config{Brokers: brokers, Topic: s.KafkaTopic, GroupID: s.KafkaGroupID}, len(brokers) > 0
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the REST service",
		Long: `Start the REST service on postgres.

The service is configured with environment variables:
  POSTGRES, POSTGRES_PASSWORD, SCHEMA, PORT, LOG_LEVEL,
  JWT_SECRET, JWT_ISSUER, KAFKA_BROKERS, KAFKA_TOPIC, KAFKA_GROUP_ID

and the query settings MAX_PAGINATION_LIMIT, DEFAULT_PAGE_SIZE and
STRICT_DATES, which the configuration file overrides.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service := &Service{}
			if err := envdecode.Decode(service); err != nil {
				return err
			}
			logger.InitLoggerFromString(service.LogLevel)

			config, err := loadConfiguration(opts.config)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, service, config)
		},
	}
}

func serve(ctx context.Context, service *Service, config *backend.Configuration) error {
	rlog := logger.FromContext(ctx)

	db, err := csql.Open(ctx, service.Postgres, service.PostgresPassword, service.Schema)
	if err != nil {
		return err
	}
	defer db.Close()

	documents := postgres.New(db)
	collections := []string{query.RecordsCollection}
	for _, resource := range config.Resources {
		if resource.IsSystem() {
			collections = append(collections, resource.Collection)
		}
	}
	if err := documents.CreateCollections(ctx, collections...); err != nil {
		return err
	}

	reg, err := registry.New(ctx, db)
	if err != nil {
		return err
	}

	settings, err := query.SettingsFromEnv()
	if err != nil {
		return err
	}
	enforcer, err := config.Enforcer()
	if err != nil {
		return err
	}
	if enforcer != nil {
		rlog.Infof("enforcing %d field policies", len(config.Policies))
	}
	authorization := service.JwtSecret != ""
	engine, err := query.New(ctx, &query.Builder{
		Resources:            config.Resources,
		Executor:             documents,
		Settings:             config.Settings(settings),
		FieldStore:           reg.Fields(),
		Enforcer:             enforcer,
		AuthorizationEnabled: authorization,
	})
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	builder := &backend.Builder{
		Engine:               engine,
		Router:               router,
		AuthorizationEnabled: authorization,
	}
	if authorization {
		builder.Jwt = &access.JwtMiddlewareBuilder{Secret: []byte(service.JwtSecret), Issuer: service.JwtIssuer}
	} else {
		rlog.Warnln("JWT_SECRET not set, authorization is disabled")
	}

	consumerDone := make(chan error, 1)
	if kafka, ok := service.kafka(); ok {
		publisher := schemasync.NewPublisher(kafka)
		defer publisher.Close()
		builder.FieldPublisher = publisher

		consumer := schemasync.NewConsumer(kafka, engine)
		defer consumer.Close()
		go func() {
			consumerDone <- consumer.Run(ctx)
		}()
		rlog.Infoln("distributing field updates on kafka topic", kafka.Topic)
	}
	backend.New(builder)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(service.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverDone := make(chan error, 1)
	go func() {
		rlog.Infoln("listen on port", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
		close(serverDone)
	}()

	var runErr error
	select {
	case err := <-serverDone:
		return err
	case runErr = <-consumerDone:
		if runErr != nil {
			rlog.WithError(runErr).Errorln("field update consumer stopped")
		}
	case <-ctx.Done():
		rlog.Infoln("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return runErr
}
