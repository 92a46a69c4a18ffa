package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/number-provisioning/internal/config"
	"github.com/acme/number-provisioning/internal/configapply"
	"github.com/acme/number-provisioning/internal/events"
	"github.com/acme/number-provisioning/internal/infra/db"
	"github.com/acme/number-provisioning/internal/infra/redis"
	"github.com/acme/number-provisioning/internal/numberlock"
	"github.com/acme/number-provisioning/internal/processor"
	"github.com/acme/number-provisioning/internal/provider"
	providerhttp "github.com/acme/number-provisioning/internal/provider/http"
	providermock "github.com/acme/number-provisioning/internal/provider/mock"
	"github.com/acme/number-provisioning/internal/repository"
	pgrepo "github.com/acme/number-provisioning/internal/repository/postgres"
	scyllarepo "github.com/acme/number-provisioning/internal/repository/scylla"
	"github.com/acme/number-provisioning/internal/retry"
	numbersvc "github.com/acme/number-provisioning/internal/service/number"
	"github.com/acme/number-provisioning/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *events.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *Repositories
		services     *Services
		publisher    *events.Publisher
		provisioning provider.Client
		locker       *numberlock.Locker
		processor    *processor.Processor
	}
}

// Repositories groups the typed persistence interfaces.
type Repositories struct {
	Numbers  repository.NumberRepository
	Jobs     repository.JobQueue
	Configs  repository.ConfigurationRepository
	Attempts repository.AttemptStore
}

// Services groups the application services.
type Services struct {
	Numbers *numbersvc.Service
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := events.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &Repositories{
			Numbers:  pgrepo.NewNumberRepository(c.Postgres.DB()),
			Jobs:     pgrepo.NewJobRepository(c.Postgres.DB()),
			Configs:  pgrepo.NewConfigurationRepository(c.Postgres.DB()),
			Attempts: scyllarepo.NewAttemptStore(c.Scylla.Session()),
		}

		var client provider.Client
		if c.Config.Provider.Simulated() {
			client = providermock.NewClient(c.Config.Provider)
		} else {
			client = providerhttp.NewClient(c.Config.Provider)
		}

		publisher := events.NewPublisher(c.Kafka, c.Config.Kafka.EventsTopic, c.Config.Kafka.NotificationsTopic)
		locker := numberlock.NewLocker(c.Redis.Inner(), c.Config.Processor.LockTTL)
		applier := configapply.New(client, repos.Configs)
		policy := retry.FromConfig(c.Config.Retry)

		proc := processor.New(
			repos.Jobs,
			repos.Numbers,
			repos.Configs,
			repos.Attempts,
			client,
			applier,
			locker,
			publisher,
			policy,
			c.Logger.Named("processor"),
			processor.Options{
				PollInterval:  c.Config.Processor.PollInterval,
				ErrorInterval: c.Config.Processor.ErrorInterval,
				WorkerCount:   c.Config.Processor.WorkerCount,
				CallTimeout:   c.Config.Processor.CallTimeout,
			},
		)

		services := &Services{
			Numbers: numbersvc.NewService(repos.Numbers, repos.Jobs, repos.Configs, proc),
		}

		c.components.repositories = repos
		c.components.services = services
		c.components.publisher = publisher
		c.components.provisioning = client
		c.components.locker = locker
		c.components.processor = proc
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *Repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *Services {
	c.initComponents()
	return c.components.services
}

// Processor exposes the queue processor.
func (c *Container) Processor() *processor.Processor {
	c.initComponents()
	return c.components.processor
}

// Publisher exposes the lifecycle event publisher.
func (c *Container) Publisher() *events.Publisher {
	c.initComponents()
	return c.components.publisher
}

// Provider exposes the selected provider client.
func (c *Container) Provider() provider.Client {
	c.initComponents()
	return c.components.provisioning
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.EventsTopic, c.Config.Kafka.NotificationsTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.publisher != nil {
		if err := c.components.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
