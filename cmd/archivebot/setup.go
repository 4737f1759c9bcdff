package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/aelexs/archivebot/internal/archive/adapter"
	"github.com/aelexs/archivebot/internal/archive/app"
	"github.com/aelexs/archivebot/internal/archive/port"
	"github.com/aelexs/archivebot/internal/auth"
	"github.com/aelexs/archivebot/internal/awscfg"
	"github.com/aelexs/archivebot/internal/config"
	"github.com/aelexs/archivebot/internal/dispatch"
	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/dynamo"
	"github.com/aelexs/archivebot/internal/observability"
	"github.com/aelexs/archivebot/internal/pairing"
	"github.com/aelexs/archivebot/internal/redis"
	"github.com/aelexs/archivebot/internal/server"
	"github.com/aelexs/archivebot/internal/supervisor"
	"github.com/aelexs/archivebot/internal/whatsapp"
)

// devAdminSecret signs admin tokens in local development when no secret is
// configured. Production requires admin.secret or admin.secretid.
const devAdminSecret domain.SecretString = "local-dev-admin-secret-not-for-prod"

// setup is the archive bot composition root. It creates infrastructure
// clients and adapters, then wires the dispatcher, the reconnection
// supervisor and the admin HTTP surface.
func setup(ctx context.Context, env server.Env) (*server.Deps, error) {
	cfg := env.Config
	logger := env.Logger
	clock := domain.RealClock{}

	var closers []func(context.Context) error

	// 1. Infrastructure clients.
	dynamoClient, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: cfg.DynamoDB.Endpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("archivebot setup: create dynamo client: %w", err)
	}

	awsCfg, err := awscfg.Load(ctx, awscfg.Config{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
	if err != nil {
		return nil, fmt.Errorf("archivebot setup: %w", err)
	}
	secrets := adapter.NewSecretsLoader(secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		o.BaseEndpoint = awscfg.BaseEndpoint(cfg.AWS.Endpoint)
	}))

	// 2. Archive adapters.
	users := adapter.NewUserStore(dynamoClient.DB, cfg.DynamoDB.UsersTable)
	media := adapter.NewMediaStore(dynamoClient.DB, cfg.DynamoDB.MediaTable)

	classifier, closeClassifier, err := newClassifier(ctx, cfg, secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("archivebot setup: %w", err)
	}
	closers = append(closers, closeClassifier)

	storage, closeStorage, err := newObjectStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("archivebot setup: %w", err)
	}
	closers = append(closers, closeStorage)

	shortener := adapter.NewTinyURLShortener(cfg.Shortener.Endpoint, cfg.Shortener.Timeout, logger)

	// 3. Archive service and dispatcher.
	svc := app.NewService(app.ServiceConfig{
		Users:         users,
		Media:         media,
		Classifier:    classifier,
		Storage:       storage,
		Shortener:     shortener,
		Clock:         clock,
		Location:      cfg.Location(),
		MaxMediaBytes: cfg.Bot.MaxMedia,
		Logger:        logger,
	})

	inFlight, closeInFlight, err := newInFlight(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archivebot setup: %w", err)
	}
	closers = append(closers, closeInFlight)

	// The dispatcher replies through whichever session is current when the
	// reply is sent, so it is created before the supervisor that owns it.
	var sup *supervisor.Supervisor
	dispatcher := dispatch.New(dispatch.Config{
		Handlers: svc,
		Reply: func(ctx context.Context, msg domain.InboundMessage, text string) bool {
			session := sup.Current()
			if session == nil {
				return false
			}
			return session.Reply(ctx, msg, text)
		},
		InFlight:    inFlight,
		InFlightTTL: cfg.Dispatch.InFlightTTL,
		CacheSize:   cfg.Dispatch.CacheSize,
		CacheTTL:    cfg.Dispatch.CacheTTL,
		Timeout:     cfg.Dispatch.Timeout,
		Clock:       clock,
		Logger:      logger,
	})

	// 4. Transport and pairing.
	if err := os.MkdirAll(filepath.Dir(cfg.WhatsApp.StorePath), 0o700); err != nil {
		return nil, fmt.Errorf("archivebot setup: create store dir: %w", err)
	}
	if err := os.MkdirAll(cfg.QR.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("archivebot setup: create qr dir: %w", err)
	}

	waLogger := observability.NewTransportLogger(logger, "whatsmeow", cfg.WhatsApp.LogLevel)
	container, err := whatsapp.OpenStore(ctx, cfg.WhatsApp.StorePath, waLogger)
	if err != nil {
		return nil, fmt.Errorf("archivebot setup: %w", err)
	}
	closers = append(closers, func(context.Context) error { return container.Close() })
	factory := boundedFactory(whatsapp.NewFactory(container, waLogger), cfg)

	alerter := newAlerter(cfg, sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		o.BaseEndpoint = awscfg.BaseEndpoint(cfg.AWS.Endpoint)
	}), logger)

	artifact := pairing.NewArtifact(cfg.QR.Dir, cfg.QR.Freshness, clock)
	var terminal io.Writer
	if cfg.QR.Terminal {
		terminal = pairing.TerminalOutput()
	}
	gate := pairing.NewGate(pairing.GateConfig{
		Throttle: pairing.NewThrottle(pairing.ThrottleConfig{
			Window:           cfg.QR.Window,
			MaxRegenerations: cfg.QR.Max,
			Cooldown:         cfg.QR.Cooldown,
		}, clock),
		Artifact: artifact,
		Terminal: terminal,
		Alerter:  alerter,
		Clock:    clock,
		Logger:   logger,
	})

	lifecycle, closeLifecycle, err := newLifecyclePublisher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("archivebot setup: %w", err)
	}
	closers = append(closers, closeLifecycle)

	// 5. Reconnection supervisor.
	sup = supervisor.New(supervisor.Config{
		Factory:    factory,
		WipeDevice: whatsapp.NewDeviceWiper(container),
		Session: whatsapp.SessionConfig{
			StatusTimeout: cfg.Supervisor.Status,
			SendRate:      cfg.WhatsApp.SendRate,
			SendBurst:     cfg.WhatsApp.SendBurst,
			Logger:        logger,
		},
		Gate:     gate,
		Artifact: artifact,
		OnMessage: func(msg domain.InboundMessage) {
			dispatcher.Dispatch(ctx, msg)
		},
		Health:        env.Health,
		Lifecycle:     lifecycle,
		Alerter:       alerter,
		Settle:        cfg.Supervisor.Settle,
		Cooldown:      cfg.Supervisor.Cooldown,
		Teardown:      cfg.Supervisor.Teardown,
		ProbeEvery:    cfg.Supervisor.Probe,
		Inactivity:    cfg.Supervisor.Inactivity,
		FaultDebounce: cfg.WhatsApp.Debounce,
		Clock:         clock,
		Logger:        logger,
	})

	// 6. Admin HTTP surface.
	adminSecret, err := resolveSecret(ctx, cfg, secrets)
	if err != nil {
		return nil, fmt.Errorf("archivebot setup: %w", err)
	}
	handler := port.NewAdminHandler(sup, artifact, auth.NewValidator(adminSecret, clock), logger)

	logger.InfoContext(ctx, "archivebot initialized",
		"event.name", "setup_complete",
		"dispatch_backend", cfg.Dispatch.Backend,
		"timezone", cfg.Bot.Timezone,
	)

	return &server.Deps{
		Handler: port.NewRouter(handler),
		Background: []func(context.Context) error{
			func(ctx context.Context) error {
				defer sup.Recover("supervisor")
				if err := sup.Start(ctx); err != nil {
					// A failed first connect is retried by the reconnect path
					// instead of taking the process down.
					logger.ErrorContext(ctx, "initial connect failed",
						"event.name", "start_failed",
						"error", err,
					)
					sup.ReportFault("start_failed")
				}
				return sup.RunHealthProbe(ctx)
			},
		},
		Close: func(ctx context.Context) error {
			sup.Stop()
			dispatcher.Wait()
			var errs []error
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i](ctx); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}, nil
}

func noopClose(context.Context) error { return nil }

// resolveSecret loads the admin signing secret through loader, falling back
// to devAdminSecret in local development.
func resolveSecret(ctx context.Context, cfg *config.Config, loader *adapter.SecretsLoader) (domain.SecretString, error) {
	if cfg.Admin.Secret.IsEmpty() && cfg.Admin.SecretID == "" && cfg.IsLocal() {
		return devAdminSecret, nil
	}
	secret, err := loader.Resolve(ctx, cfg.Admin.Secret, cfg.Admin.SecretID)
	if err != nil {
		return "", fmt.Errorf("admin secret: %w", err)
	}
	return secret, nil
}

// newSecretsLoader builds a Secrets Manager backed loader for offline
// commands that do not run the full setup.
func newSecretsLoader(ctx context.Context, cfg *config.Config) (*adapter.SecretsLoader, error) {
	awsCfg, err := awscfg.Load(ctx, awscfg.Config{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
	if err != nil {
		return nil, err
	}
	endpoint := awscfg.BaseEndpoint(cfg.AWS.Endpoint)
	return adapter.NewSecretsLoader(secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		o.BaseEndpoint = endpoint
	})), nil
}

// newClassifier returns the Gemini classifier, or a classifier that always
// fails when no key is configured outside prod. Uploads then fall back to
// the mimetype rule.
func newClassifier(ctx context.Context, cfg *config.Config, secrets *adapter.SecretsLoader, logger *slog.Logger) (app.Classifier, func(context.Context) error, error) {
	if cfg.Gemini.APIKey.IsEmpty() && cfg.Gemini.SecretID == "" && !cfg.IsProd() {
		logger.Warn("gemini not configured, uploads use the mimetype fallback")
		return unconfiguredClassifier{}, noopClose, nil
	}

	key, err := secrets.Resolve(ctx, cfg.Gemini.APIKey, cfg.Gemini.SecretID)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini api key: %w", err)
	}
	client, err := adapter.NewGeminiClient(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	classifier := adapter.NewGeminiClassifier(client, cfg.Gemini.Model, cfg.Gemini.Timeout)
	return classifier, func(context.Context) error { return client.Close() }, nil
}

type unconfiguredClassifier struct{}

func (unconfiguredClassifier) Classify(context.Context, []byte, string) (domain.Analysis, error) {
	return domain.Analysis{}, fmt.Errorf("%w: classifier not configured", domain.ErrClassification)
}

// newObjectStorage returns the GCS store. Without a bucket outside prod,
// uploads are rejected with a storage error.
func newObjectStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app.ObjectStorage, func(context.Context) error, error) {
	if cfg.GCS.Bucket == "" && !cfg.IsProd() {
		logger.Warn("gcs bucket not configured, uploads will fail")
		return unconfiguredStorage{}, noopClose, nil
	}

	client, err := adapter.NewGCSClient(ctx, cfg.GCS.CredentialsFile)
	if err != nil {
		return nil, nil, err
	}
	return adapter.NewGCSStorage(client, cfg.GCS.Bucket), func(context.Context) error { return client.Close() }, nil
}

type unconfiguredStorage struct{}

func (unconfiguredStorage) Store(context.Context, []byte, string, string) (string, error) {
	return "", fmt.Errorf("%w: bucket not configured", domain.ErrStorage)
}

// newInFlight selects the duplicate-delivery guard. The redis backend lets
// several replicas share claims.
func newInFlight(ctx context.Context, cfg *config.Config) (dispatch.InFlight, func(context.Context) error, error) {
	if cfg.Dispatch.Backend != "redis" {
		return dispatch.NewMemoryInFlight(domain.RealClock{}), noopClose, nil
	}

	client := redis.NewClient(redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return adapter.NewRedisInFlight(client.RDB), func(context.Context) error { return client.Close() }, nil
}

// newAlerter publishes operator alerts to SNS when a topic is configured
// and logs them otherwise.
func newAlerter(cfg *config.Config, client *sns.Client, logger *slog.Logger) pairing.Alerter {
	if cfg.Alerts.TopicARN == "" {
		return adapter.NewLogAlerter(logger)
	}
	return adapter.NewSNSAlerter(client, cfg.Alerts.TopicARN)
}

// newLifecyclePublisher connects to NATS when a URL is configured. A nil
// publisher disables lifecycle events.
func newLifecyclePublisher(cfg *config.Config, logger *slog.Logger) (supervisor.LifecyclePublisher, func(context.Context) error, error) {
	if cfg.NATS.URL == "" {
		return nil, noopClose, nil
	}
	conn, err := adapter.ConnectNATS(cfg.NATS.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	return adapter.NewNATSLifecyclePublisher(conn, cfg.NATS.Subject), func(context.Context) error {
		return conn.Drain()
	}, nil
}

// boundedFactory applies the configured connect timeout to device loading.
func boundedFactory(factory whatsapp.Factory, cfg *config.Config) whatsapp.Factory {
	return func(ctx context.Context) (whatsapp.Client, error) {
		ctx, cancel := context.WithTimeout(ctx, cfg.WhatsApp.Connect)
		defer cancel()
		return factory(ctx)
	}
}
