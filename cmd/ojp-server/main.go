// Command ojp-server is the OJP process entrypoint: it loads configuration,
// wires every internal component, starts the gRPC listener, and shuts down
// gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/source-build/ojp/internal/breaker"
	"github.com/source-build/ojp/internal/cluster"
	"github.com/source-build/ojp/internal/clustermembers"
	"github.com/source-build/ojp/internal/config"
	"github.com/source-build/ojp/internal/coordinator"
	"github.com/source-build/ojp/internal/dispatcher"
	"github.com/source-build/ojp/internal/health"
	"github.com/source-build/ojp/internal/ipwhitelist"
	"github.com/source-build/ojp/internal/obslog"
	"github.com/source-build/ojp/internal/rpcwire"
	"github.com/source-build/ojp/internal/segregator"
	"github.com/source-build/ojp/internal/session"
	"github.com/source-build/ojp/internal/xa"
	"github.com/spf13/pflag"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

// CLI flags, bound with pflag (spf13/pflag) rather than the standard
// library's flag package, matching the teacher's viper+pflag pairing for
// process configuration.
var configFile = pflag.String("config", "", "path to an OJP config file (optional; env + defaults otherwise)")

func main() {
	pflag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		os.Stderr.WriteString("ojp-server: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := obslog.New(obslog.Options{Level: parseLevel(cfg.LogLevel), Console: true})
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthRegistry := health.NewRegistry()
	go healthRegistry.WatchHostResources(ctx, health.ResourceWatchConfig{}, log)

	clusterTracker := cluster.NewTracker()
	coordRegistry := coordinator.NewRegistry()
	clusterTracker.OnChange(coordRegistry.OnClusterHealthChange)

	var roster *clustermembers.Roster
	if len(cfg.ClusterMembersEtcdEndpts) > 0 {
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.ClusterMembersEtcdEndpts,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Error("ojp-server: etcd client init failed, cluster membership disabled", zap.Error(err))
		} else {
			selfAddr, err := clustermembers.SelfAddr(cfg.ServerPort)
			if err != nil {
				log.Warn("ojp-server: could not detect outbound IP, skipping self-registration", zap.Error(err))
			}
			roster = clustermembers.NewRoster(etcdClient, clustermembers.Options{
				SelfAddr: selfAddr,
				Logger:   log,
			})
			if err := roster.Start(ctx); err != nil {
				log.Error("ojp-server: cluster roster start failed, running single-node", zap.Error(err))
				roster = nil
			}
		}
	}

	sessions := session.NewManager(cfg.ConnectionIdleTimeout)

	whitelist, err := ipwhitelist.Parse(joinCSV(cfg.AllowedIPs))
	if err != nil {
		log.Error("ojp-server: invalid allowedIps whitelist", zap.Error(err))
		os.Exit(1)
	}

	cb := breaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout)
	cb.RegisterListener(breaker.NewZapListener(log))

	xaManager := xa.Init(ctx, 3, func(ctx context.Context) error {
		// The XA manager's own bootstrap connectivity check: a lightweight
		// ping against the default datasource is not configured at this
		// layer (datasources are resolved lazily per ConnectionHash), so
		// bootstrap here only validates the manager can be constructed.
		// A real deployment wires this to a warm-up connection attempt
		// against its primary datasource.
		return nil
	}, log)

	endpoints := func(connHash string) []string {
		if roster == nil {
			return nil
		}
		return roster.Endpoints()
	}

	disp := dispatcher.New(dispatcher.Options{
		Whitelist:        whitelist,
		JWTSecret:        authSecret(cfg),
		Cluster:          clusterTracker,
		Coordinators:     coordRegistry,
		Sessions:         sessions,
		Breaker:          cb,
		SegregatorConfig: segregator.Config{
			Enabled:                 cfg.SlowQuerySegregation.Enabled,
			SlowSlotPercentage:      cfg.SlowQuerySegregation.SlowSlotPercentage,
			IdleTimeout:             cfg.SlowQuerySegregation.IdleTimeout,
			SlowSlotTimeout:         cfg.SlowQuerySegregation.SlowSlotTimeout,
			FastSlotTimeout:         cfg.SlowQuerySegregation.FastSlotTimeout,
			UpdateGlobalAvgInterval: cfg.SlowQuerySegregation.UpdateGlobalAvgInterval,
			SlowThresholdMultiplier: cfg.SlowQuerySegregation.SlowThresholdMultiplier,
			FingerprintCacheSize:    cfg.SlowQuerySegregation.FingerprintCacheSize,
		},
		XA:        xaManager,
		Health:    healthRegistry,
		Log:       log,
		Endpoints: endpoints,
	})

	go reapLoop(ctx, disp, cfg.ConnectionIdleTimeout, log)

	grpcServer := grpc.NewServer()
	rpcwire.RegisterStatementServer(grpcServer, disp)
	rpcwire.RegisterHealthServer(grpcServer, disp)

	lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.ServerPort)))
	if err != nil {
		log.Fatal("ojp-server: listen failed", zap.Error(err))
	}

	healthRegistry.Set(health.ServiceOJPServer, health.Serving)
	log.Info("ojp-server: listening", zap.Int("port", cfg.ServerPort))

	serveErr := make(chan error, 1)
	go func() { serveErr <- grpcServer.Serve(lis) }()

	select {
	case <-ctx.Done():
		log.Info("ojp-server: shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("ojp-server: serve exited", zap.Error(err))
		}
	}

	healthRegistry.Set(health.ServiceOJPServer, health.NotServing)
	grpcServer.GracefulStop()
	disp.Shutdown()
	if roster != nil {
		roster.Stop(context.Background())
	}
}

// reapLoop sweeps idle sessions every connectionIdleTimeout/2, per
// SPEC_FULL.md §6's supplement to spec.md §4.1's reap(now) (half the idle
// timeout bounds how stale a session can get before its idleness is
// noticed, without sweeping so often it dominates CPU on a quiet server).
func reapLoop(ctx context.Context, disp *dispatcher.Dispatcher, idleTimeout time.Duration, log *zap.Logger) {
	interval := idleTimeout / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped := disp.ReapIdleSessions(time.Now())
			if len(reaped) > 0 {
				log.Info("ojp-server: reaped idle sessions", zap.Int("count", len(reaped)))
			}
		}
	}
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "DEBUG":
		return obslog.DebugLevel
	case "WARN":
		return obslog.WarnLevel
	case "ERROR":
		return obslog.ErrorLevel
	default:
		return obslog.InfoLevel
	}
}

func joinCSV(parts []string) string {
	if len(parts) == 0 {
		return "*"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "," + p
	}
	return out
}

func authSecret(cfg *config.Config) string {
	if !cfg.AuthJWTRequired {
		return ""
	}
	return cfg.AuthJWTSecret
}
