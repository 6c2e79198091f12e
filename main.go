package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"

	"github.com/timpyorke/timing-backoffice-sub000/internal/backoffice"
	"github.com/timpyorke/timing-backoffice-sub000/internal/orderstream"
	"github.com/timpyorke/timing-backoffice-sub000/pkg"
	"github.com/timpyorke/timing-backoffice-sub000/pkg/event"
)

const (
	appNamespace = "BACKOFFICE"
	appName      = "backoffice"
	appVersion   = "0.1.0"
)

func main() {
	config, err := apt.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := apt.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	ordersURL := config.GetStringOrDef("services.orders.url", "http://localhost:8081")
	ordersClient := apt.NewServiceClient(ordersURL)
	da := backoffice.NewOrderDataAccess(ordersClient, logger)

	authURL, _ := config.GetString("services.auth.url")
	tokens := backoffice.NewCachingTokenProvider(tokenSource(authURL, config), 30*time.Second)

	transport := backoffice.NewRetryingTransport(da, tokens, logger)

	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")

	// JetStream replay seeds the cache without a cold poll when the
	// upstream publishes through a stream. Optional, core NATS otherwise.
	var stream *pkg.NATSStream
	if config.GetStringOrDef("nats.stream.enabled", "false") == "true" {
		stream, err = pkg.NewNATSStream(pkg.NATSStreamConfig{
			URL:          natsURL,
			StreamName:   config.GetStringOrDef("nats.stream.name", "ORDER_EVENTS"),
			ConsumerName: config.GetStringOrDef("nats.stream.consumer", appName),
			Topic:        event.OrderUpdatesTopic,
			MaxAge:       24 * time.Hour,
		})
		if err != nil {
			log.Fatalf("%s(%s) cannot connect to NATS stream: %v", appName, appVersion, err)
		}
	}

	var cache *backoffice.OrderStateCache
	if stream != nil {
		cache = backoffice.NewOrderStateCache(stream, transport, logger)
	} else {
		cache = backoffice.NewOrderStateCache(nil, transport, logger)
	}

	notifyWindow := durationOrDef(config, "notify.window", 5*time.Second)
	notifier := backoffice.NewOrderNotifier(notifyWindow, logger)

	hub := backoffice.NewStreamHub(logger)
	notifier.SetSink(hub)
	cache.SetListener(backoffice.NewEngineFeed(notifier, hub))

	dispatcher := backoffice.NewOrderEventDispatcher(cache, logger)

	channel := orderstream.NewNATSChannel(natsURL)
	supervisor := orderstream.NewSupervisor(channel, event.OrderUpdatesTopic, dispatcher.HandleEvent, logger)
	supervisor.OnStateChange(hub.ConnectionStateChanged)

	refreshInterval := durationOrDef(config, "refresh.interval", 30*time.Second)
	scheduler := backoffice.NewRefreshScheduler(transport, cache, refreshInterval, logger)

	coordinator := backoffice.NewMutationCoordinator(transport, cache, logger)

	hd := backoffice.HandlerDeps{
		Cache:       cache,
		Coordinator: coordinator,
		Notifier:    notifier,
		Scheduler:   scheduler,
		Supervisor:  supervisor,
		Hub:         hub,
	}
	handler := backoffice.NewHandler(hd, config, logger)

	warmLifecycle := apt.LifecycleHooks{
		OnStart: func(ctx context.Context) error {
			if err := cache.Warm(ctx); err != nil {
				logger.Error("initial cache warm failed, continuing with empty cache", "error", err)
			}
			return nil
		},
	}

	notifierLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			notifier.Stop()
			return nil
		},
	}

	streamLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			if stream != nil {
				return stream.Close()
			}
			return nil
		},
	}

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      logger,
		DisableCORS: true, // Internal API service
	})
	stack = append(stack, middleware.InternalOnly())

	lifecycles := []interface{}{
		warmLifecycle,
		supervisor,
		scheduler,
		notifierLifecycle,
		streamLifecycle,
	}

	options := []apt.Option{
		apt.WithConfig(config),
		apt.WithLogger(logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", handler),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(appName),
	}

	ms := apt.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	err = ms.Run(ctx)
	if err != nil {
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}

// tokenSource exchanges client credentials for a short-lived bearer token.
func tokenSource(authURL string, config *apt.Config) backoffice.TokenSource {
	client := apt.NewServiceClient(authURL)
	clientID, _ := config.GetString("auth.client.id")
	clientSecret, _ := config.GetString("auth.client.secret")

	return func(ctx context.Context) (string, time.Time, error) {
		body := map[string]string{
			"client_id":     clientID,
			"client_secret": clientSecret,
		}
		resp, err := client.Request(ctx, "POST", "/auth/token", body)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("token exchange: %w", err)
		}

		raw, err := json.Marshal(resp.Data)
		if err != nil {
			return "", time.Time{}, err
		}
		var grant struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		if err := json.Unmarshal(raw, &grant); err != nil {
			return "", time.Time{}, err
		}
		if grant.Token == "" {
			return "", time.Time{}, backoffice.ErrTokenUnavailable
		}
		return grant.Token, grant.ExpiresAt, nil
	}
}

func durationOrDef(config *apt.Config, key string, def time.Duration) time.Duration {
	raw := config.GetStringOrDef(key, "")
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return def
}
