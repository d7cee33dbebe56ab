package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"moff.io/wallet-connector/internal/aws"
	"moff.io/wallet-connector/internal/cache"
	"moff.io/wallet-connector/internal/chains"
	"moff.io/wallet-connector/internal/config"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/internal/database"
	"moff.io/wallet-connector/internal/databus"
	"moff.io/wallet-connector/internal/eip1193"
	"moff.io/wallet-connector/internal/http"
	"moff.io/wallet-connector/internal/injected"
	"moff.io/wallet-connector/internal/metrics"
	"moff.io/wallet-connector/internal/sessions"
	"moff.io/wallet-connector/internal/starter"
	"moff.io/wallet-connector/internal/walletconnect"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
)

func main() {
	log.Infof("Starting app")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	log.SetLevel(config.Global.LogLevel)
	setupReporters(&config.Global.Reporters)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatal(err)
	}
	sinks := []sessions.Sink{metrics.Sink{}}
	var elems []starter.Startable

	// redis 与 kafka 均为可选，连接失败时降级
	var limiter http.Limiter
	if err := cache.Init(&config.Global.RedisCredential); err != nil {
		log.Warnf("redis disabled:%v", err)
	} else {
		defer cache.Close()
		store := cache.NewStore(cache.Redis, config.Global.Sessions.TTL)
		sinks = append(sinks, store)
		elems = append(elems, store)
		limiter = cache.NewConnectLimiter(cache.RateLimiter, config.Global.HTTP.ConnectPerMinute)
	}
	if bus, err := databus.Dial(config.Global.Kafka.Server); err != nil {
		log.Warnf("kafka disabled:%v", err)
	} else {
		sink := databus.NewSink(bus, config.Global.Kafka.Topic)
		sinks = append(sinks, sink)
		elems = append(elems, sink)
	}

	if err := database.InitPostgres(&config.Global.Postgres); err != nil {
		log.Warnf("postgres disabled:%v", err)
	} else {
		defer database.Close()
		sinks = append(sinks, database.NewSink(database.Postgres))
	}
	wcOptions := config.Global.WalletConnect.Options()
	if c := config.Global.Aws; c.Region != "" {
		if err := aws.Init(ctx, c.Region); err != nil {
			log.Fatal(err)
		}
		if err := aws.Client.ResolveProjectID(ctx, wcOptions, c.ProjectIDParameter); err != nil {
			log.Fatal(err)
		}
		if c.EventQueueURL != "" {
			sinks = append(sinks, aws.NewQueueSink(aws.Client, c.EventQueueURL))
		}
	}

	registry := eip1193.NewRegistry()
	if url := config.Global.Injected.BridgeURL; url != "" {
		client, err := eip1193.Dial(ctx, url)
		if err != nil {
			log.Warnf("injected wallet bridge %s unavailable:%v", url, err)
		} else {
			defer client.Close()
			registry.Register(config.Global.Injected.WalletName, client)
		}
	}

	table := config.Global.Chains.Table()
	opts := []sessions.Option{sessions.WithSinks(sinks...), sessions.WithMaxPending(config.Global.Sessions.MaxPending)}
	if store, ok := findStore(sinks); ok {
		opts = append(opts, sessions.WithAccountCache(store))
	}
	manager := sessions.NewManager(newFactory(registry, table), opts...)

	serverOpts := []http.Option{}
	if limiter != nil {
		serverOpts = append(serverOpts, http.WithLimiter(limiter))
	}
	server := http.NewServer(manager, wcOptions, serverOpts...)
	elems = append(elems, manager, server)

	starter.Start(ctx, elems...)
	<-ctx.Done()
	log.Infof("Stopping app")
	starter.Stop(server, manager)
}

func setupReporters(c *config.Reporters) {
	if c.SentryDSN != "" {
		if err := errors.NewSentryReporter(c.SentryDSN); err != nil {
			log.Warnf("sentry reporter:%v", err)
		}
	}
	if c.LarkWebhook != "" {
		errors.NewLarkReporter(c.LarkWebhook, c.Silent)
	}
	if c.DingTalkHook != "" {
		errors.NewDingTalkReporter(c.DingTalkHook, c.DingTalkSecret, c.Silent)
	}
}

func newFactory(registry *eip1193.Registry, table *chains.Table) sessions.Factory {
	return func(kind connector.Kind) (connector.Connector, error) {
		switch kind {
		case connector.KindInjected:
			return injected.New(registry, config.Global.Injected.Network,
				injected.WithWalletName(config.Global.Injected.WalletName),
				injected.WithChainTable(table),
			), nil
		case connector.KindWalletConnect:
			return walletconnect.New(walletconnect.WithChainTable(table)), nil
		}
		return nil, sessions.ErrUnsupportedKind
	}
}

func findStore(sinks []sessions.Sink) (*cache.Store, bool) {
	for _, s := range sinks {
		if store, ok := s.(*cache.Store); ok {
			return store, true
		}
	}
	return nil, false
}
