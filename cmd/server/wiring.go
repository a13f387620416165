package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/prometheus/client_golang/prometheus"

	"civic/internal/delivery/email"
	"civic/internal/delivery/objectstore"
	"civic/internal/events"
	officemetrics "civic/internal/offices/metrics"
	officemodels "civic/internal/offices/models"
	officeservice "civic/internal/offices/service"
	officestore "civic/internal/offices/store"
	"civic/internal/officials/access"
	officialmodels "civic/internal/officials/models"
	"civic/internal/officials/projector"
	officialstore "civic/internal/officials/store"
	"civic/internal/platform/config"
	"civic/internal/platform/kafka"
	"civic/internal/platform/postgres"
	"civic/internal/platform/redis"
	"civic/internal/verification/cooldown"
	"civic/internal/verification/documents"
	"civic/internal/verification/emailcode"
	verificationmetrics "civic/internal/verification/metrics"
	"civic/internal/verification/ports"
	"civic/internal/verification/service"
	verificationstore "civic/internal/verification/store"
	"civic/internal/verification/sweeper"
	"civic/internal/verification/website"
	"civic/pkg/platform/circuit"
	"civic/pkg/platform/tx"
)

const officeSearchLimit = 10

type officeStore interface {
	officeservice.OfficeStore
	officestore.Saver
}

type officialStore interface {
	officeservice.OfficialLinker
	projector.Store
	access.ProfileReader
	Save(ctx context.Context, p *officialmodels.OfficialProfile) error
}

// application holds the wired services main serves.
type application struct {
	db       *sql.DB
	redis    *redis.Client
	producer *kafka.Producer

	offices   officeStore
	officials officialStore

	registry     *officeservice.Registry
	gate         *access.Gate
	documents    *documents.Queue
	verification *service.Service
	sweeper      *sweeper.Sweeper
	sink         *events.Sink
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger, reg prometheus.Registerer) (*application, error) {
	app := &application{}
	ok := false
	defer func() {
		if !ok {
			app.close()
		}
	}()

	var requests interface {
		service.RequestStore
		sweeper.Lister
		documents.Store
		emailcode.Store
		website.Store
	}
	var runner tx.Runner
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.DefaultOptions(), log)
		if err != nil {
			return nil, err
		}
		app.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		app.offices = officestore.NewPostgres(db)
		app.officials = officialstore.NewPostgres(db)
		requests = verificationstore.NewPostgres(db)
		runner = tx.NewSQLRunner(db)
	} else {
		log.Warn("DATABASE_URL not set; using in-memory stores")
		app.offices = officestore.NewInMemory()
		app.officials = officialstore.NewInMemory()
		requests = verificationstore.NewInMemory()
		runner = &tx.MutexRunner{}
	}

	bus := events.NewBus(events.WithLogger(log))
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(ctx, cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		app.producer = producer
		app.sink = events.NewSink(producer, circuit.New("kafka"), log)
		bus.Subscribe(app.sink)
	}

	var cooldownStore cooldown.Store = cooldown.NewInMemory()
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		app.redis = rc
		cooldownStore = cooldown.NewRedis(rc.Client)
	}

	mailer, objects, err := awsAdapters(ctx, cfg.AWS, log)
	if err != nil {
		return nil, err
	}

	v := cfg.Verification
	vm := verificationmetrics.New(reg)
	app.registry = officeservice.New(app.offices, app.officials, runner,
		officeservice.WithLogger(log),
		officeservice.WithPublisher(bus),
		officeservice.WithMetrics(officemetrics.New(reg)),
	)
	app.gate = access.New(app.officials)
	proj := projector.New(app.officials, projector.WithLogger(log), projector.WithPublisher(bus))

	issuer := emailcode.New(requests, mailer, proj,
		emailcode.WithLogger(log),
		emailcode.WithTTL(v.CodeTTL),
		emailcode.WithBcryptCost(v.BcryptCost),
		emailcode.WithAllowedDomains(v.AllowedEmailDomains),
	)
	app.documents = documents.New(requests, objects, proj, documents.WithLogger(log))
	verifier := website.New(requests, website.NewHTTPFetcher(v.WebsiteFetchTimeout), proj,
		website.WithLogger(log),
		website.WithMetaName(v.MetaTagName),
	)

	app.verification = service.New(requests, app.officials, app.registry,
		service.Methods{Codes: issuer, Documents: app.documents, Website: verifier},
		proj,
		service.WithLogger(log),
		service.WithPublisher(bus),
		service.WithMetrics(vm),
		service.WithCooldown(cooldown.NewTracker(cooldownStore, v.ResendCooldown)),
	)
	app.sweeper = sweeper.New(requests, app.verification, v.RequestTTL,
		sweeper.WithLogger(log),
		sweeper.WithMetrics(vm),
		sweeper.WithSchedule(v.SweepSchedule),
	)

	ok = true
	return app, nil
}

// awsAdapters builds the SES mailer and the S3 evidence store when they are
// configured. Without a sender, codes go to the log; without a bucket,
// uploads are refused and documents must be referenced by URL.
func awsAdapters(ctx context.Context, cfg config.AWSConfig, log *slog.Logger) (ports.Mailer, ports.ObjectStore, error) {
	var mailer ports.Mailer = email.NewLogMailer(log)
	if cfg.SenderEmail == "" && cfg.EvidenceBucket == "" {
		return mailer, nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.SenderEmail != "" {
		mailer = email.NewSESMailer(sesv2.NewFromConfig(awsCfg), cfg.SenderEmail, email.WithLogger(log))
	}
	var objects ports.ObjectStore
	if cfg.EvidenceBucket != "" {
		client := s3.NewFromConfig(awsCfg)
		objects = objectstore.NewS3Store(objectstore.NewS3Uploader(client), cfg.EvidenceBucket, cfg.PublicBaseURL)
	}
	return mailer, objects, nil
}

func (a *application) searchOffices(ctx context.Context, query string) ([]*officemodels.GovernmentOffice, error) {
	return a.registry.Search(ctx, query, officeSearchLimit)
}

func (a *application) health(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *application) close() {
	if a.producer != nil {
		a.producer.Close(context.Background())
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
