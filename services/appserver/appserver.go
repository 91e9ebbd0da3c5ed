package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"

	"github.com/relabs-tech/tenantkit/core/access"
	"github.com/relabs-tech/tenantkit/core/assets"
	"github.com/relabs-tech/tenantkit/core/backend"
	"github.com/relabs-tech/tenantkit/core/csql"
	"github.com/relabs-tech/tenantkit/core/logger"
	"github.com/relabs-tech/tenantkit/core/metrics"
	"github.com/relabs-tech/tenantkit/core/notify"
	"github.com/relabs-tech/tenantkit/core/registry"
	"github.com/relabs-tech/tenantkit/core/schema"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	PostgresSchema   string `env:"POSTGRES_SCHEMA,default=tenantkit" description:"the database schema"`
	ListenAddress    string `env:"LISTEN_ADDRESS,default=:3000" description:"the address the server listens on"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"the log level"`
	JWTSecret        string `env:"JWT_SECRET,optional" description:"HS256 secret of caller tokens"`
	CORSOrigins      string `env:"CORS_ORIGINS,optional" description:"comma separated origins of browser clients, all origins if empty"`

	AssetDriver    string `env:"ASSET_DRIVER,default=postgres" description:"postgres, local or s3"`
	AssetLocalPath string `env:"ASSET_LOCAL_PATH,optional" description:"folder of the local asset driver"`
	AWSRegion      string `env:"AWS_REGION,optional" description:"AWS region"`
	AWSAccessID    string `env:"AWS_ACCESS_ID,optional" description:"AWS access key id"`
	AWSAccessKey   string `env:"AWS_ACCESS_KEY,optional" description:"AWS secret access key"`
	AWSBucket      string `env:"AWS_BUCKET,optional" description:"S3 bucket of the s3 asset driver"`
	AWSKeyPrefix   string `env:"AWS_KEY_PREFIX,optional" description:"key prefix of assets in the bucket"`

	NotifyDriver  string `env:"NOTIFY_DRIVER,default=log" description:"log, kafka or sqs"`
	KafkaBrokers  string `env:"KAFKA_BROKERS,optional" description:"comma separated Kafka brokers"`
	KafkaTopic    string `env:"KAFKA_TOPIC,optional" description:"Kafka topic of notifications"`
	SQSQueueURL   string `env:"SQS_QUEUE_URL,optional" description:"SQS queue of notifications"`
	NotifyWorkers int    `env:"NOTIFY_WORKERS,default=4" description:"number of notification workers"`

	AppDefinitions  string `env:"APP_DEFINITIONS,optional" description:"directory of <appId>.yaml|json app definitions imported on start"`
	AppOrganization string `env:"APP_ORGANIZATION,default=default" description:"organization of imported apps"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))
	rlog := logger.Default()
	ctx := context.Background()

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.PostgresSchema)
	defer db.Close()

	driver, err := assets.NewDriver(ctx, assets.Configuration{
		DriverType: assets.DriverType(service.AssetDriver),
		LocalPath:  service.AssetLocalPath,
		S3: assets.S3Configuration{
			AccessID:   service.AWSAccessID,
			AccessKey:  service.AWSAccessKey,
			Region:     service.AWSRegion,
			BucketName: service.AWSBucket,
			KeyPrefix:  service.AWSKeyPrefix,
		},
	})
	if err != nil {
		rlog.WithError(err).Fatalln("cannot create asset driver")
	}

	sender, err := notify.NewSender(ctx, notify.SenderConfiguration{
		Type:         notify.SenderType(service.NotifyDriver),
		KafkaBrokers: splitList(service.KafkaBrokers),
		KafkaTopic:   service.KafkaTopic,
		SQSQueueURL:  service.SQSQueueURL,
		AWSRegion:    service.AWSRegion,
		AWSAccessID:  service.AWSAccessID,
		AWSAccessKey: service.AWSAccessKey,
	})
	if err != nil {
		rlog.WithError(err).Fatalln("cannot create notification sender")
	}
	subscriptions, err := notify.NewSubscriptions(ctx, db)
	if err != nil {
		rlog.WithError(err).Fatalln("cannot create subscriptions")
	}
	apps := registry.New(db)
	dispatcher := notify.NewDispatcher(notify.Configuration{Workers: service.NotifyWorkers}, apps, subscriptions, sender)

	router := mux.NewRouter()
	logger.AddRequestID(router)
	if service.JWTSecret != "" {
		router.Use(access.NewJWTMiddleware([]byte(service.JWTSecret)))
	} else {
		rlog.Warnln("JWT_SECRET is not set, all requests are anonymous")
	}
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	backend.New(&backend.Builder{
		DB:             db,
		Router:         router,
		AssetDriver:    driver,
		Notifier:       dispatcher,
		Subscriptions:  subscriptions,
		AllowedOrigins: splitList(service.CORSOrigins),
	})

	if service.AppDefinitions != "" {
		if err := importDefinitions(ctx, apps, service.AppDefinitions, service.AppOrganization); err != nil {
			rlog.WithError(err).Fatalln("cannot import app definitions")
		}
	}

	server := &http.Server{Addr: service.ListenAddress, Handler: router}
	go func() {
		rlog.Infoln("listen on", service.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rlog.WithError(err).Fatalln("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	rlog.Infoln("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rlog.WithError(err).Errorln("shutdown failed")
	}
	dispatcher.Close()
	if closer, ok := sender.(interface{ Close() error }); ok {
		closer.Close()
	}
}

// appImporter is the part of the registry which imports definitions
type appImporter interface {
	ImportApp(ctx context.Context, id int64, organizationID string, rawDefinition []byte, demoMode bool) error
}

// importDefinitions imports all files named <appId>.json, <appId>.yaml or <appId>.yml
// in dir. Other files are skipped.
func importDefinitions(ctx context.Context, apps appImporter, dir, organizationID string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	rlog := logger.FromContext(ctx)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(schema.IsYAML(name) || strings.HasSuffix(name, ".json")) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, filepath.Ext(name)), 10, 64)
		if err != nil {
			rlog.Warnln("skipping app definition", name, "which is not named by an app id")
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := apps.ImportApp(ctx, id, organizationID, data, false); err != nil {
			return err
		}
		rlog.Infoln("imported app", id, "from", name)
	}
	return nil
}

func splitList(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
