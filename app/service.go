package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Jammarkeun/PawfectFinds/api/dispatch"
	"github.com/Jammarkeun/PawfectFinds/api/riders"
	"github.com/Jammarkeun/PawfectFinds/config"
	"github.com/Jammarkeun/PawfectFinds/core/directory"
	coredispatch "github.com/Jammarkeun/PawfectFinds/core/dispatch"
	"github.com/Jammarkeun/PawfectFinds/core/dispatch/logging"
	coremetrics "github.com/Jammarkeun/PawfectFinds/core/metrics"
	"github.com/Jammarkeun/PawfectFinds/core/model"
	"github.com/Jammarkeun/PawfectFinds/core/notify"
	"github.com/Jammarkeun/PawfectFinds/core/registry"
	"github.com/Jammarkeun/PawfectFinds/core/store"
	"github.com/Jammarkeun/PawfectFinds/infra/amqp"
	"github.com/Jammarkeun/PawfectFinds/infra/logger"
	"github.com/Jammarkeun/PawfectFinds/infra/metrics"
	"github.com/Jammarkeun/PawfectFinds/infra/mqtt"
	"github.com/Jammarkeun/PawfectFinds/infra/nats"
	"github.com/Jammarkeun/PawfectFinds/infra/store/memory"
	"github.com/Jammarkeun/PawfectFinds/infra/store/postgres"
	"github.com/Jammarkeun/PawfectFinds/internal/eventbus"
)

// Service orchestrates the dispatch coordinator and its transports.
type Service struct {
	Coordinator *coredispatch.Coordinator
	gateway     *mqtt.Gateway
	bridge      *amqp.Bridge
	natsPub     *nats.RoomPublisher
	pg          *postgres.Store
	apiSrv      *http.Server
	log         logger.Logger
	promEnabled bool
	promAddr    string
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var (
		orderStore store.OrderStore
		pg         *postgres.Store
	)
	switch cfg.Store.Backend {
	case "postgres":
		st, err := postgres.Connect(ctx, cfg.Store.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		orderStore, pg = st, st
	default:
		orderStore = memory.New()
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sink coremetrics.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	reg := registry.NewMemoryRegistry(orderStore)
	dir := directory.New()
	fanout := notify.NewFanout(dir, logger.New("notify"))

	var natsPub *nats.RoomPublisher
	if cfg.NATS.Enabled {
		pub, err := nats.NewRoomPublisher(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		natsPub = pub
		fanout.AddRoomPublisher(pub)
	}

	bus := eventbus.New()
	coord, err := coredispatch.NewCoordinator(reg, orderStore, dir, fanout, sink, bus, logger.New("dispatch"), cfg.Dispatch)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	var audit logging.LogStore
	if cfg.Audit.Enabled {
		switch cfg.Audit.Backend {
		case "sqlite":
			audit, err = logging.NewSQLiteStore(cfg.Audit.Path)
		default:
			audit, err = logging.NewJSONLStore(cfg.Audit.Path)
		}
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		coord.SetAuditStore(audit)
	}

	gw, err := mqtt.NewGateway(cfg.MQTT, coord)
	if err != nil {
		return nil, fmt.Errorf("mqtt gateway: %w", err)
	}
	fanout.AddRoomPublisher(gw)

	var bridge *amqp.Bridge
	if cfg.AMQP.Enabled {
		bridge, err = amqp.NewBridge(cfg.AMQP)
		if err != nil {
			gw.Disconnect()
			return nil, fmt.Errorf("amqp bridge: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/api/riders/status", riders.NewStatusHandler(reg))
	mux.Handle("/api/riders/", riders.NewKPIHandler(orderStore))
	mux.Handle("/api/dispatch/logs", dispatch.NewLogHandler(audit, cfg.API.AuthToken))

	return &Service{
		Coordinator: coord,
		gateway:     gw,
		bridge:      bridge,
		natsPub:     natsPub,
		pg:          pg,
		apiSrv:      &http.Server{Addr: cfg.API.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log:         logg,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promAddr:    cfg.Metrics.PrometheusAddr,
	}, nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	orders := make(chan model.Order, 16)
	go s.Coordinator.Run(ctx, orders)
	if s.bridge != nil {
		go func() {
			if err := s.bridge.Run(ctx, orders); err != nil {
				s.log.Errorf("amqp bridge: %v", err)
			}
		}()
	}
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.apiSrv.Shutdown(sctx)
	}()
	if err := s.Coordinator.OfferPending(ctx); err != nil {
		s.log.Warnf("initial offer pass: %v", err)
	}
	if err := s.apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-ctx.Done()
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.bridge != nil {
		s.bridge.Close()
	}
	s.gateway.Disconnect()
	if s.natsPub != nil {
		s.natsPub.Close()
	}
	if s.pg != nil {
		s.pg.Close()
	}
	return s.Coordinator.Close()
}
