package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/cartvision/internal/api"
	"github.com/banshee-data/cartvision/internal/catalog"
	"github.com/banshee-data/cartvision/internal/classifier"
	"github.com/banshee-data/cartvision/internal/config"
	"github.com/banshee-data/cartvision/internal/db"
	"github.com/banshee-data/cartvision/internal/engine"
	"github.com/banshee-data/cartvision/internal/monitoring"
	"github.com/banshee-data/cartvision/internal/notify"
	"github.com/banshee-data/cartvision/internal/version"
)

var (
	listen         = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen     = flag.String("grpc-listen", ":9090", "gRPC health listen address (empty disables)")
	dbPathFlag     = flag.String("db-path", "cartvision.db", "path to the sqlite database")
	configPath     = flag.String("config", "", "engine tuning JSON (empty uses defaults)")
	catalogFile    = flag.String("catalog", "", "product catalog JSON imported at startup")
	classifierURL  = flag.String("classifier-url", "", "classifier service endpoint (empty disables frame uploads)")
	kafkaBrokers   = flag.String("kafka-brokers", "", "comma separated Kafka brokers for event export")
	mqttBroker     = flag.String("mqtt-broker", "", "MQTT broker URL for cart displays, e.g. tcp://localhost:1883")
	mqttPrefix     = flag.String("mqtt-prefix", notify.DefaultMQTTTopicPrefix, "MQTT topic prefix")
	corsOrigins    = flag.String("cors-origins", "", "comma separated origins allowed by CORS")
	logLevel       = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON        = flag.Bool("log-json", false, "emit JSON formatted logs")
	streamBuffer   = flag.Int("stream-buffer", 256, "per-subscriber buffer of the live event stream")
	shutdownPeriod = flag.Duration("shutdown-timeout", 5*time.Second, "grace period for open sessions and requests on shutdown")
	versionFlag    = flag.Bool("version", false, "print version and exit")
)

// classifierKeyEnv holds the classifier API key so it never appears in
// process listings.
const classifierKeyEnv = "CARTVISION_CLASSIFIER_KEY"

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "migrate":
			os.Exit(runMigrate(args[1:]))
		case "serve":
			args = args[1:]
		}
	}

	flag.CommandLine.Parse(args)
	if *versionFlag {
		fmt.Println(version.String())
		return
	}

	logger, err := monitoring.NewLogrus(os.Stderr, *logLevel, *logJSON)
	if err != nil {
		log.Fatalf("invalid -log-level: %v", err)
	}
	monitoring.UseLogrus(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Fatalf("cartvision: %v", err)
	}
	logger.Info("graceful shutdown complete")
}

func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	path := fs.String("db-path", "cartvision.db", "path to the sqlite database")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context) error {
	monitoring.Logf("starting %s", version.String())

	cfg := config.EmptyEngineConfig()
	if *configPath != "" {
		loaded, err := config.LoadEngineConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	store, err := db.NewDB(*dbPathFlag)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if *catalogFile != "" {
		entries, err := catalog.LoadFile(*catalogFile)
		if err != nil {
			return err
		}
		if err := store.ImportProducts(ctx, entries); err != nil {
			return fmt.Errorf("import catalog: %w", err)
		}
		monitoring.Logf("imported %d catalog products from %s", len(entries), *catalogFile)
	}

	hub := notify.NewHub(*streamBuffer)
	defer hub.Close()
	notifier, closeNotifiers, err := buildNotifier(hub)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	opts := engine.Options{
		Config:    cfg,
		Catalog:   store,
		Manifests: store,
		Recorder:  store,
		Notifier:  notifier,
	}
	if *classifierURL != "" {
		c := classifier.NewHTTPClient(*classifierURL, nil, cfg.GetClassifierTimeout())
		c.APIKey = os.Getenv(classifierKeyEnv)
		opts.Classifier = c
	} else {
		monitoring.Warnf("no -classifier-url set: frame uploads and scans are disabled")
	}

	eng, err := engine.New(opts)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewServer(eng, hub, store).Handler(splitList(*corsOrigins)))
	mux.Handle("/metrics", eng.Metrics().Handler())
	if err := store.AttachAdminRoutes(mux); err != nil {
		return fmt.Errorf("attach admin routes: %w", err)
	}

	server := &http.Server{
		Addr:    *listen,
		Handler: mux,
	}

	var grpcLis net.Listener
	if *grpcListen != "" {
		grpcLis, err = net.Listen("tcp", *grpcListen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", *grpcListen, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		monitoring.Logf("HTTP server listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcLis != nil {
		grpcServer := grpc.NewServer()
		healthServer := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("cartvision", healthpb.HealthCheckResponse_SERVING)

		g.Go(func() error {
			monitoring.Logf("gRPC health server listening on %s", *grpcListen)
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			healthServer.Shutdown()
			grpcServer.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		monitoring.Logf("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownPeriod)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Warnf("HTTP server shutdown: %v", err)
		}
		if err := eng.Close(shutdownCtx); err != nil {
			monitoring.Warnf("closing sessions: %v", err)
		}
		return nil
	})

	return g.Wait()
}

// buildNotifier combines the live hub with the optional Kafka and MQTT
// exporters. The returned func closes the exporters.
func buildNotifier(hub *notify.Hub) (notify.Notifier, func(), error) {
	multi := notify.Multi{hub}
	var closers []func() error

	if brokers := splitList(*kafkaBrokers); len(brokers) > 0 {
		kp := notify.NewKafkaPublisher(notify.KafkaConfig{Brokers: brokers})
		multi = append(multi, kp)
		closers = append(closers, kp.Close)
		monitoring.Logf("exporting events to Kafka brokers %v", brokers)
	}

	if *mqttBroker != "" {
		mp, err := notify.DialMQTT(notify.MQTTConfig{Broker: *mqttBroker, TopicPrefix: *mqttPrefix})
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}
		multi = append(multi, mp)
		closers = append(closers, mp.Close)
		monitoring.Logf("publishing events to MQTT broker %s", *mqttBroker)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				monitoring.Warnf("closing notifier: %v", err)
			}
		}
	}
	return multi, closeAll, nil
}

// splitList splits a comma separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
