package bootstrap

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/perfdeck/perfdeck/config"
	"github.com/perfdeck/perfdeck/internal/adapters/invoker"
	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
	"github.com/perfdeck/perfdeck/internal/engine"
	"github.com/perfdeck/perfdeck/internal/observability/notify"
	"github.com/perfdeck/perfdeck/internal/observability/notify/mail"
	"github.com/perfdeck/perfdeck/internal/observability/statsd"
	"github.com/perfdeck/perfdeck/internal/service"
	"github.com/perfdeck/perfdeck/internal/service/scheduler"
	"github.com/perfdeck/perfdeck/internal/storage"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Projects      *service.ProjectService
	Schedules     *service.ScheduleService
	Assets        *service.AssetService
	Runs          *service.TestRunService
	Reports       *service.ReportService
	Registry      *scheduler.Registry
	Protocol      *scheduler.Protocol
	Notifier      notify.Notifier
	Store         core.ArtifactStore
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB           *sql.DB
	Redis        redis.UniversalClient
	ProjectRepo  *data.ProjectRepo
	ScheduleRepo *data.ScheduleRepo
	AssetRepo    *data.AssetRepo
	TestRunRepo  *data.TestRunRepo
	CacheRepo    *data.RedisCacheRepo
}

// buildObservability configures the metrics adapter.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient) *serviceRepositories {
	repos := &serviceRepositories{
		DB:           db,
		Redis:        redisClient,
		ProjectRepo:  data.NewProjectRepo(db),
		ScheduleRepo: data.NewScheduleRepo(db),
		AssetRepo:    data.NewAssetRepo(db),
		TestRunRepo:  data.NewTestRunRepo(db),
	}
	if redisClient != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(redisClient)
	}
	return repos
}

func newAssetService(repos *serviceRepositories, store core.ArtifactStore, cfg config.CacheConfig, logger *slog.Logger) *service.AssetService {
	opts := service.AssetServiceOptions{
		Repo:   repos.AssetRepo,
		Store:  store,
		Logger: logger,
	}
	if cfg.Enabled && repos.CacheRepo != nil {
		opts.Cache = repos.CacheRepo
		opts.CacheTTL = cfg.AssetTTL
	}
	return service.NewAssetService(opts)
}

func newEngines(store core.ArtifactStore, cfg config.EngineConfig, logger *slog.Logger) (engine.Engine, engine.Engine, error) {
	quick := engine.NewQuickEngine(engine.QuickOptions{
		Logger: logger,
	})
	execEng, err := engine.NewExecEngine(engine.ExecOptions{
		Store:          store,
		PostmanCommand: cfg.PostmanCommand,
		ScriptCommand:  cfg.ScriptCommand,
		Timeout:        cfg.Timeout,
		WorkDir:        cfg.WorkDir,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return quick, execEng, nil
}

func newNotifier(store core.ArtifactStore, cfg config.MailConfig, logger *slog.Logger) notify.Notifier {
	if !cfg.Enabled {
		return nil
	}
	sender, err := mail.NewSender(mail.Config{
		Addr:     cfg.Addr,
		From:     cfg.From,
		Username: cfg.Username,
		Password: cfg.Password,
		Store:    store,
	})
	if err != nil {
		logger.Error("failed to initialise mail sender", "error", err)
		return nil
	}
	return sender
}

// noopRegistry satisfies the schedule service's registry port in processes
// where the scheduler service is not enabled.
type noopRegistry struct{}

func (noopRegistry) Register(*model.Schedule) error { return nil }
func (noopRegistry) Unregister(int64)               {}
func (noopRegistry) Replace(*model.Schedule) error  { return nil }

// NewServices wires the full service graph from configuration and connections.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, nil
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
		appCfg.Sanitize()
	}

	observability := buildObservability(logger, appCfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient)

	store, err := storage.NewFSStore(appCfg.Storage.Root)
	if err != nil {
		return ServiceContainer{}, err
	}

	assetSvc := newAssetService(repos, store, appCfg.Cache, logger)
	projectSvc := service.NewProjectService(service.ProjectServiceOptions{Repo: repos.ProjectRepo})

	quickEng, execEng, err := newEngines(store, appCfg.Engines, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	completer := engine.NewCompleter(repos.TestRunRepo, store, logger)
	runSvc := service.NewTestRunService(service.TestRunServiceOptions{
		Runs:      repos.TestRunRepo,
		Projects:  repos.ProjectRepo,
		Schedules: repos.ScheduleRepo,
		Assets:    assetSvc,
		Quick:     quickEng,
		Exec:      execEng,
		Completer: completer,
		Logger:    logger,
	})

	reportSvc, err := service.NewReportService(service.ReportServiceOptions{
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, err
	}

	notifier := newNotifier(store, appCfg.Mail, logger)

	container := ServiceContainer{
		Projects:      projectSvc,
		Assets:        assetSvc,
		Runs:          runSvc,
		Reports:       reportSvc,
		Notifier:      notifier,
		Store:         store,
		Observability: observability,
	}

	var registry service.CronRegistry = noopRegistry{}
	if appCfg.IsSchedulerEnabled() {
		httpInvoker, invErr := invoker.New(invoker.Options{
			BaseURL:    appCfg.HTTP.BaseURL,
			HTTPClient: &http.Client{Timeout: appCfg.Scheduler.InvokeTimeout},
			Logger:     logger,
		})
		if invErr != nil {
			return ServiceContainer{}, invErr
		}

		protocolCfg := appCfg.Scheduler.Protocol()
		container.Protocol = scheduler.NewProtocol(scheduler.ProtocolOptions{
			Config:    &protocolCfg,
			Invoker:   httpInvoker,
			Runs:      repos.TestRunRepo,
			Schedules: repos.ScheduleRepo,
			Store:     store,
			Reports:   reportSvc,
			Notifier:  notifier,
			Logger:    logger,
			Metrics:   observability.MetricsSink,
		})
		container.Registry = scheduler.NewRegistry(scheduler.RegistryOptions{
			Fire:   container.Protocol.Fire,
			Logger: logger,
		})
		registry = container.Registry
	}

	container.Schedules = service.NewScheduleService(service.ScheduleServiceOptions{
		Repo:     repos.ScheduleRepo,
		Assets:   assetSvc,
		Registry: registry,
		Logger:   logger,
	})

	return container, nil
}
