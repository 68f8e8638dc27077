package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/boutique-fleurs/api/internal/handlers"
	"github.com/boutique-fleurs/api/internal/payments"
	"github.com/boutique-fleurs/api/internal/platform/auth"
	"github.com/boutique-fleurs/api/internal/platform/config"
	pfirestore "github.com/boutique-fleurs/api/internal/platform/firestore"
	"github.com/boutique-fleurs/api/internal/platform/jobs"
	"github.com/boutique-fleurs/api/internal/platform/observability"
	"github.com/boutique-fleurs/api/internal/platform/secrets"
	"github.com/boutique-fleurs/api/internal/repositories"
	firestoreRepo "github.com/boutique-fleurs/api/internal/repositories/firestore"
	"github.com/boutique-fleurs/api/internal/services"
)

const meterName = "github.com/boutique-fleurs/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	meter := otel.Meter(meterName)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := newFirestoreProvider(cfg)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}
	ledgerRepo, err := firestoreRepo.NewPaymentEventRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise payment event repository", zap.Error(err))
	}

	pubsubClient, orderTopic, err := newOrderEventsTopic(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise pubsub topic", zap.Error(err))
	}
	defer func() {
		orderTopic.Stop()
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	eventPublisher, err := jobs.NewPubSubOrderEventPublisher(orderTopic)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        payments.StripeLogger(observability.ServiceLogger(logger.Named("stripe"))),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{"stripe": stripeProvider})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, auth.WithFirebaseTimeout(cfg.Firebase.Timeout))
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: productRepo,
		Clock:    time.Now,
		Logger:   observability.ServiceLogger(logger.Named("catalog")),
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	numberService, err := services.NewOrderNumberService(services.OrderNumberServiceDeps{
		Counters:       counterRepo,
		Location:       cfg.Orders.Location,
		Prefix:         cfg.Orders.NumberPrefix,
		MaxDailyOrders: int64(cfg.Orders.MaxDailyOrders),
		Clock:          time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise order number service", zap.Error(err))
	}

	orderBuilder, err := services.NewOrderBuilder(services.OrderBuilderDeps{
		Catalog:  catalogService,
		Pricing:  services.NewPricingResolver(),
		Currency: cfg.Orders.Currency,
		Location: cfg.Orders.Location,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise order builder", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        orderRepo,
		Builder:       orderBuilder,
		Numbers:       numberService,
		NumberRetries: cfg.Orders.NumberRetries,
		Clock:         time.Now,
		Events:        eventPublisher,
		Intents:       paymentManager,
		Logger:        observability.ServiceLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:        orderRepo,
		Ledger:        ledgerRepo,
		Numbers:       numberService,
		NumberRetries: cfg.Orders.NumberRetries,
		Verifier:      paymentManager,
		Events:        eventPublisher,
		Meter:         meter,
		Clock:         time.Now,
		Logger:        observability.ServiceLogger(logger.Named("reconciler")),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment reconciler", zap.Error(err))
	}

	invoiceLocale, err := language.Parse(cfg.Invoices.Locale)
	if err != nil {
		logger.Fatal("invalid invoice locale", zap.String("locale", cfg.Invoices.Locale), zap.Error(err))
	}
	vatRate, err := decimal.NewFromString(cfg.Invoices.VATRate)
	if err != nil {
		logger.Fatal("invalid invoice vat rate", zap.String("rate", cfg.Invoices.VATRate), zap.Error(err))
	}
	invoiceService, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Orders:            orderRepo,
		Locale:            invoiceLocale,
		VATRate:           vatRate,
		OrderNumberPrefix: cfg.Orders.NumberPrefix,
	})
	if err != nil {
		logger.Fatal("failed to initialise invoice service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Builder:  orderBuilder,
		Payments: paymentManager,
		Logger:   observability.ServiceLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreProvider, orderTopic, fetcher, buildInfo.Version)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}

	productHandlers := handlers.NewProductHandlers(catalogService)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService, invoiceService)
	adminOrderHandlers := handlers.NewAdminOrderHandlers(orderService, handlers.WithPaymentHistory(reconciler))
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, checkoutService,
		handlers.WithCheckoutRateLimit(cfg.Checkout.RateLimit, cfg.Checkout.RateWindow),
	)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(reconciler)

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfo),
	}
	if healthRepo != nil {
		healthOpts = append(healthOpts, handlers.WithHealthRepository(healthRepo))
	}

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminMiddlewares(authenticator.RequireFirebaseAuth(auth.RoleAdmin)),
		handlers.WithAdminRoutes(productHandlers.AdminRoutes),
		handlers.WithAdminRoutes(adminOrderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithAdditionalRoutes(checkoutHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("boutique-fleurs api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

// newSecretFetcher runs before config.Load, so it reads its settings straight from the raw environment.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRETS_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter(meterName)),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func newFirestoreProvider(cfg config.Config) *pfirestore.Provider {
	opts := []pfirestore.ProviderOption{pfirestore.WithDialTimeout(cfg.Firestore.DialTimeout)}
	// The emulator rejects credentialed clients.
	emulated := strings.TrimSpace(cfg.Firestore.EmulatorHost) != "" || os.Getenv("FIRESTORE_EMULATOR_HOST") != ""
	if credentialsFile := strings.TrimSpace(cfg.Firebase.CredentialsFile); credentialsFile != "" && !emulated {
		opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return pfirestore.NewProvider(cfg.Firestore, opts...)
}

func newOrderEventsTopic(ctx context.Context, cfg config.Config) (*pubsub.Client, *pubsub.Topic, error) {
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(cfg.Firestore.ProjectID)
	}
	if projectID == "" {
		return nil, nil, errors.New("pubsub: project id is required")
	}

	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.OrderEventsTopic)
	topic.EnableMessageOrdering = true
	return client, topic, nil
}

func newHealthRepository(provider *pfirestore.Provider, topic *pubsub.Topic, fetcher *secrets.Fetcher, version string) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   provider.Ping,
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks, repositories.WithVersion(version))
}
