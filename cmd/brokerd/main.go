// Command brokerd runs the data-plane dispatcher and control-plane
// autoscaler in one process: one WorkerBroker per function profile, a
// StateManager/Bridge pair relaying their stats to a DefaultController,
// and a gRPC + HTTP surface for the rest of spec §6-7. Grounded on
// control/cmd/control/main.go and worker/cmd/worker/main.go's flag
// parsing, store/service construction, and goroutine-per-server,
// signal.Notify-shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/xuandao/noslated/internal/broker"
	"github.com/xuandao/noslated/internal/capacity"
	"github.com/xuandao/noslated/internal/controlplane"
	"github.com/xuandao/noslated/internal/controller"
	"github.com/xuandao/noslated/internal/delegate"
	"github.com/xuandao/noslated/internal/httpapi"
	"github.com/xuandao/noslated/internal/launcher"
	"github.com/xuandao/noslated/internal/logging"
	"github.com/xuandao/noslated/internal/metrics"
	"github.com/xuandao/noslated/internal/profilestore"
	"github.com/xuandao/noslated/internal/rpc"
	"github.com/xuandao/noslated/internal/shrink"
)

var log = logging.New("brokerd")

func main() {
	var (
		grpcPort      = flag.String("grpc-port", "8080", "Port to run the gRPC data-plane server on")
		httpPort      = flag.Int("http-port", 8081, "Port to run the HTTP stats server on")
		host          = flag.String("host", "localhost", "Host to bind the servers to")
		dbPath        = flag.String("db", "./brokerd.db", "Path to SQLite profile database file")
		migrations    = flag.String("migrations", "./internal/profilestore/migrations", "Path to profile store migrations directory")
		poolSizeMB    = flag.Int64("pool-size-mb", 0, "Virtual memory pool size in MB (0 = auto-detect from host memory)")
		pollInterval  = flag.Duration("stats-poll-interval", 2*time.Second, "How often broker snapshots are synced into the control plane")
		tracingOTLP   = flag.String("otlp-trace-endpoint", "", "OTLP/HTTP trace collector endpoint (empty disables exporting)")
		dockerEnabled = flag.Bool("docker-launcher", false, "Use the Docker-backed WorkerLauncher instead of the in-process fake")
	)
	flag.Parse()

	log.Printf("starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := newTracerProvider(ctx, *tracingOTLP)
	if err != nil {
		log.Fatalf("tracer provider: %v", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider()
	defer func() { _ = mp.Shutdown(context.Background()) }()
	otel.SetMeterProvider(mp)

	queueMetrics, err := metrics.New(mp.Meter("github.com/xuandao/noslated"))
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	log.Printf("opening profile store at %s...", *dbPath)
	storeCfg := profilestore.Config{DatabasePath: *dbPath, MigrationsPath: *migrations}
	db, err := profilestore.NewDB(storeCfg)
	if err != nil {
		log.Fatalf("open profile store: %v", err)
	}
	defer db.Close()

	if err := profilestore.RunMigrations(storeCfg); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	store := profilestore.NewStore(db)
	profiles, err := store.ListProfiles()
	if err != nil {
		log.Fatalf("list profiles: %v", err)
	}
	log.Printf("loaded %d function profile(s)", len(profiles))

	capMgr, err := capacity.New(capacity.Config{
		PoolSizeMB: *poolSizeMB,
		AutoDetect: *poolSizeMB == 0,
	})
	if err != nil {
		log.Fatalf("capacity manager: %v", err)
	}

	state := controlplane.NewStateManager()
	bridge := controlplane.NewBridge(state)

	var workerLauncher launcher.WorkerLauncher
	if *dockerEnabled {
		dl, err := launcher.NewDockerLauncher(profilestore.ImageLookup(store))
		if err != nil {
			log.Fatalf("docker launcher: %v", err)
		}
		defer dl.Close()
		workerLauncher = dl
	} else {
		workerLauncher = launcher.NewFake()
	}

	registry := newBrokerRegistry()
	for _, p := range profiles {
		b := broker.New(p.Name, p.ToBrokerProfile(), delegate.NewFake(),
			broker.WithEventSink(bridge),
			broker.WithMetrics(queueMetrics),
		)
		b.Start()
		registry.add(b)
		log.Printf("broker %q ready (shrinkStrategy=%s, reservation=%d)", p.Name, p.ShrinkStrategy, p.ReservationCount)
	}

	profileRegistry := profilestore.NewProfileRegistry(store)

	grpcAddress := fmt.Sprintf("%s:%s", *host, *grpcPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", grpcAddress, err)
	}

	grpcServer := grpc.NewServer()
	rpc.RegisterDataPlaneServer(grpcServer, rpc.NewDataPlaneServer(registry.lookup))

	go func() {
		log.Printf("gRPC data-plane server listening on %s", grpcAddress)
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatalf("serve gRPC: %v", err)
		}
	}()

	// The control plane dials its own data-plane process over the same
	// protocol a remote deployment would use, even though in this
	// single-process layout it's loopback (spec §4.4.2's DataPlaneClientManager
	// is a separate process boundary in the general case).
	conn, err := grpc.NewClient(grpcAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial data plane: %v", err)
	}
	defer conn.Close()
	dataPlane := rpc.NewGRPCManager(conn)

	ctrl := controller.New(controller.Config{
		Capacity:              capMgr,
		Profiles:              profileRegistry,
		Launcher:              workerLauncher,
		DataPlane:             dataPlane,
		State:                 state,
		Reservation:           controller.NewDefaultReservationExpander(workerLauncher, profileRegistry),
		DefaultShrinkStrategy: shrink.LCC,
	})
	ctrl.Attach(bridge)

	stopPolling := pollStats(ctx, registry, state, bridge, *pollInterval)
	defer stopPolling()

	statsHandler := httpapi.NewStatsHandler(state)
	httpServer := httpapi.NewServer(httpapi.Config{Port: *httpPort, Handler: statsHandler})

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("start HTTP server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown signal received, draining...")

	if err := httpServer.Shutdown(); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcServer.GracefulStop()
	for _, b := range registry.all() {
		b.Close()
	}
	log.Printf("stopped")
}

// brokerRegistry is the name->broker map cmd/brokerd hands to
// rpc.NewDataPlaneServer as a BrokerLookup. It has no lock: main fills it
// before any server or poller starts, and it is only read afterwards.
type brokerRegistry struct {
	brokers map[string]*broker.WorkerBroker
}

func newBrokerRegistry() *brokerRegistry {
	return &brokerRegistry{brokers: make(map[string]*broker.WorkerBroker)}
}

func (r *brokerRegistry) add(b *broker.WorkerBroker) { r.brokers[b.Name] = b }

func (r *brokerRegistry) lookup(name string) (*broker.WorkerBroker, error) {
	b, ok := r.brokers[name]
	if !ok {
		return nil, fmt.Errorf("brokerd: no broker registered for %q", name)
	}
	return b, nil
}

func (r *brokerRegistry) all() []*broker.WorkerBroker {
	out := make([]*broker.WorkerBroker, 0, len(r.brokers))
	for _, b := range r.brokers {
		out = append(out, b)
	}
	return out
}

// pollStats periodically converts every broker's live Snapshot into the
// control plane's stats report shape and publishes it, mirroring the
// teacher's ping-driven worker_registry health loop but stats-driven
// instead of liveness-driven (spec §4.2's "data plane periodically reports
// per-broker stats").
func pollStats(ctx context.Context, registry *brokerRegistry, state *controlplane.StateManager, bridge *controlplane.Bridge, interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-ticker.C:
				reports := make([]controlplane.BrokerStatsReport, 0, len(registry.brokers))
				for _, b := range registry.all() {
					snap := b.Snapshot()
					workers := make([]controlplane.WorkerStatsReport, len(snap))
					for i, w := range snap {
						workers[i] = controlplane.WorkerStatsReport{
							Name:               w.Name,
							Credential:         w.Credential,
							ActiveRequestCount: w.ActiveRequestCount,
							RegisterTime:       w.RegisterTime,
							Running:            !w.TrafficOff,
						}
					}
					reports = append(reports, controlplane.BrokerStatsReport{
						FunctionName: b.Name,
						// Inspector is a per-request flag (Metadata.Inspect), not
						// persisted function config, so it isn't carried here.
						Inspector:  false,
						Disposable: b.Profile.Disposable,
						Workers:    workers,
					})
				}
				state.SyncWorkerData(reports)
				bridge.PublishTrafficStats()
			}
		}
	}()
	return func() { <-done }
}

func newTracerProvider(ctx context.Context, otlpEndpoint string) (*sdktrace.TracerProvider, error) {
	if otlpEndpoint == "" {
		return sdktrace.NewTracerProvider(), nil
	}
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(otlpEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp)), nil
}
