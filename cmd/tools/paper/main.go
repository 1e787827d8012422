package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/pkg/sys"

	"papersim/internal/checkpoint"
	"papersim/internal/obs"
	"papersim/internal/ops"
	"papersim/internal/order"
	"papersim/internal/simulator"
	"papersim/pkg/conn"
)

var bpsDivisor = decimal.NewFromInt(10_000)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config (env PAPERSIM_* overrides)")
	inputPath := flag.String("input", "testdata/prices.csv", "CSV of timestamp,symbol,price rows")
	resume := flag.Bool("resume", false, "Resume from the latest checkpoint of simulator.id")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0=all)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disable)")
	flag.Parse()

	if *maxTicks < 0 {
		log.Fatalf("max-ticks must be >= 0")
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "papersim.paper",
			ServerAddress:   *pyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(registry)
	if loaded.MetricsAddr != "" {
		go serveMetrics(loaded.MetricsAddr, registry)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, loaded)
	if err != nil {
		log.Fatalf("checkpoint store init failed: %v", err)
	}
	defer closeStore()

	f, err := os.Open(*inputPath)
	if err != nil {
		log.Fatalf("open input failed: %v", err)
	}
	ticks, err := readTicks(f)
	_ = f.Close()
	if err != nil {
		log.Fatalf("read input failed: %v", err)
	}

	sim, err := openSimulator(ctx, loaded, store, metrics, *resume)
	if err != nil {
		log.Fatalf("simulator init failed: %v", err)
	}

	r := &runner{
		sim:   sim,
		store: store,
		paper: loaded.Paper,
		every: loaded.Checkpoint.Every,
	}
	if err := r.run(ctx, ticks, *maxTicks); err != nil {
		log.Fatalf("paper failed: %v", err)
	}

	log.Printf("paper completed: ticks=%d orders=%d executions=%d cash=%s value=%s positions=%d",
		r.ticks, r.orders, r.executions, sim.Cash(), sim.TotalValue(nil), len(sim.Positions()))
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics server stopped: %v", err)
	}
}

// store is the subset of the checkpoint stores the tool needs.
type store interface {
	Save(ctx context.Context, cp checkpoint.Checkpoint) error
	LoadLatest(ctx context.Context, simulatorID string) (checkpoint.Checkpoint, error)
}

type fileStore struct {
	*checkpoint.FileStore
}

func (s fileStore) Save(_ context.Context, cp checkpoint.Checkpoint) error {
	_, err := s.FileStore.Save(cp)
	return err
}

func (s fileStore) LoadLatest(_ context.Context, simulatorID string) (checkpoint.Checkpoint, error) {
	return s.FileStore.LoadLatest(simulatorID)
}

func openStore(ctx context.Context, loaded ops.Loaded) (store, func(), error) {
	switch loaded.Checkpoint.Backend {
	case ops.BackendPostgres:
		client, err := conn.New(ctx, loaded.Postgres)
		if err != nil {
			return nil, nil, err
		}
		db := checkpoint.NewDBStore(client)
		if err := db.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return db, func() { _ = client.Close() }, nil
	default:
		return fileStore{checkpoint.NewFileStore(loaded.Checkpoint.Dir)}, func() {}, nil
	}
}

func openSimulator(ctx context.Context, loaded ops.Loaded, st store, metrics *obs.Metrics, resume bool) (*simulator.Simulator, error) {
	if !resume {
		cfg := loaded.Simulator
		cfg.Metrics = metrics
		return simulator.New(cfg)
	}
	if loaded.Simulator.ID == "" {
		return nil, fmt.Errorf("resume requires simulator.id")
	}
	cp, err := st.LoadLatest(ctx, loaded.Simulator.ID)
	if err != nil {
		return nil, err
	}
	return checkpoint.Restore(cp, metrics)
}

type runner struct {
	sim   *simulator.Simulator
	store store
	paper ops.PaperSpec
	every int

	ticks      int
	orders     int
	executions int
	buy        bool
}

func (r *runner) run(ctx context.Context, ticks []tick, maxTicks int) error {
	symbol := r.paper.Symbol
	resumedAt := r.sim.Now()
	r.buy = true

	for _, t := range ticks {
		if !resumedAt.IsZero() && !t.At.After(resumedAt) {
			continue
		}
		if maxTicks > 0 && r.ticks >= maxTicks {
			break
		}
		select {
		case <-sys.Shutdown():
			log.Printf("shutdown requested at tick %d", r.ticks)
			return r.checkpoint(ctx)
		default:
		}

		r.ticks++
		if symbol == "" {
			symbol = firstSymbol(t.Prices)
		}
		if r.paper.OrderEvery > 0 && r.ticks%r.paper.OrderEvery == 0 {
			if price, ok := t.Prices[symbol]; ok {
				if err := r.place(symbol, price, t.At); err != nil {
					return err
				}
			}
		}

		execs, err := r.sim.ProcessMarketData(t.At, t.Prices)
		if err != nil {
			return err
		}
		r.executions += len(execs)

		if r.every > 0 && r.ticks%r.every == 0 {
			if err := r.checkpoint(ctx); err != nil {
				return err
			}
		}
	}
	return r.checkpoint(ctx)
}

func (r *runner) place(symbol string, price decimal.Decimal, at time.Time) error {
	side := order.SideBuy
	if !r.buy {
		side = order.SideSell
	}
	if r.paper.Alternate {
		r.buy = !r.buy
	}

	id := fmt.Sprintf("%s-%d", symbol, at.UnixNano())
	var o order.Order
	if r.paper.LimitBps.IsPositive() {
		offset := price.Mul(r.paper.LimitBps).Div(bpsDivisor)
		limit := price.Sub(offset)
		if side == order.SideSell {
			limit = price.Add(offset)
		}
		o = order.NewLimitOrder(id, symbol, side, r.paper.OrderQty, limit, at)
	} else {
		o = order.NewMarketOrder(id, symbol, side, r.paper.OrderQty, at)
	}

	placed, err := r.sim.SubmitOrder(o, at)
	if err != nil {
		return err
	}
	r.orders++
	if placed.Status == order.StatusRejected {
		log.Printf("order %s rejected: %s %s", placed.ID, placed.RejectReason, placed.RejectMessage)
	}
	return nil
}

func (r *runner) checkpoint(ctx context.Context) error {
	return r.store.Save(ctx, checkpoint.Create(r.sim))
}

func firstSymbol(prices map[string]decimal.Decimal) string {
	first := ""
	for symbol := range prices {
		if first == "" || symbol < first {
			first = symbol
		}
	}
	return first
}
