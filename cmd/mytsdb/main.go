// Command mytsdb is the CLI entry point: thin kingpin glue over the
// evaluator, write buffer, background processor, and rule manager exposed
// as Go packages (spec.md §6 "External Interfaces").
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoogleCloudPlatform/mytsdb/internal/background"
	"github.com/GoogleCloudPlatform/mytsdb/internal/config"
	"github.com/GoogleCloudPlatform/mytsdb/internal/memstore"
	"github.com/GoogleCloudPlatform/mytsdb/internal/metrics"
	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/engine"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/funcs"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/parser"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
	"github.com/GoogleCloudPlatform/mytsdb/internal/rules"
	"github.com/GoogleCloudPlatform/mytsdb/internal/writebuffer"
)

// storeWriter adapts memstore.Store's single-series Write to the
// writebuffer.Storage interface the flush workers target, dropping any
// series the rule manager currently rejects (spec.md §4.G "Rule Manager" +
// §4.I "Ingestion surface").
type storeWriter struct {
	store *memstore.Store
	rules *rules.Manager
}

func (w storeWriter) Write(_ context.Context, op writebuffer.WriteOperation) error {
	if w.rules.Load().ShouldDrop(op.Series) {
		return nil
	}
	return w.store.Write(model.Series{Labels: op.Series, Samples: op.Samples})
}

func writebufferFromConfig(cfg config.Config, store *memstore.Store, rm *rules.Manager, logger log.Logger) *writebuffer.Buffer {
	wcfg := writebuffer.Config{
		NumShards:            cfg.WriteBuffer.NumShards,
		BufferSizePerShard:   cfg.WriteBuffer.BufferSizePerShard,
		FlushInterval:        cfg.WriteBuffer.FlushInterval(),
		MaxFlushWorkers:      cfg.WriteBuffer.MaxFlushWorkers,
		RetryAttempts:        cfg.WriteBuffer.RetryAttempts,
		RetryDelay:           cfg.WriteBuffer.RetryDelay(),
		LoadBalanceThreshold: cfg.WriteBuffer.LoadBalanceThreshold,
	}
	return writebuffer.New(wcfg, storeWriter{store: store, rules: rm}, logger)
}

func main() {
	app := kingpin.New("mytsdb", "A standalone PromQL engine and ingestion pipeline.")
	logLevel := app.Flag("log.level", "Log filtering level.").Default("info").
		Enum("debug", "info", "warn", "error")
	configFile := app.Flag("config.file", "YAML configuration file.").String()

	queryCmd := app.Command("query", "Evaluate an instant PromQL query against an empty store.")
	queryExpr := queryCmd.Arg("expr", "PromQL expression.").Required().String()
	queryAt := queryCmd.Flag("time", "Evaluation time (RFC3339); defaults to now.").String()

	rangeCmd := app.Command("query-range", "Evaluate a PromQL range query against an empty store.")
	rangeExpr := rangeCmd.Arg("expr", "PromQL expression.").Required().String()
	rangeStart := rangeCmd.Flag("start", "Range start (RFC3339).").Required().String()
	rangeEnd := rangeCmd.Flag("end", "Range end (RFC3339).").Required().String()
	rangeStep := rangeCmd.Flag("step", "Range step.").Default("15s").Duration()

	serveCmd := app.Command("serve", "Run the write buffer, background processor, and metrics server.")
	listenAddr := serveCmd.Flag("web.listen-address", "Address to serve /metrics on.").Default(":9090").String()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := newLogger(*logLevel)

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			level.Error(logger).Log("msg", "failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	store := memstore.New()
	reg := funcs.NewRegistry()

	var err error
	switch cmd {
	case queryCmd.FullCommand():
		err = runQuery(store, reg, cfg, *queryExpr, *queryAt)
	case rangeCmd.FullCommand():
		err = runQueryRange(store, reg, cfg, *rangeExpr, *rangeStart, *rangeEnd, *rangeStep)
	case serveCmd.FullCommand():
		err = runServe(logger, cfg, *listenAddr)
	}
	if err != nil {
		level.Error(logger).Log("msg", "command failed", "cmd", cmd, "err", err)
		os.Exit(1)
	}
}

func newLogger(lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	var option level.Option
	switch lvl {
	case "debug":
		option = level.AllowDebug()
	case "warn":
		option = level.AllowWarn()
	case "error":
		option = level.AllowError()
	default:
		option = level.AllowInfo()
	}
	return level.NewFilter(logger, option)
}

func parseTimeFlag(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, v)
}

func runQuery(store *memstore.Store, reg *funcs.Registry, cfg config.Config, expr, atFlag string) error {
	at, err := parseTimeFlag(atFlag, time.Now())
	if err != nil {
		return err
	}
	node, errs := parser.Parse(expr)
	if len(errs) > 0 {
		return fmt.Errorf("parse error: %s", joinParseErrors(errs))
	}

	ev := engine.New(context.Background(), store, reg, at.UnixMilli(), cfg.Engine.LookbackMs)
	val, err := ev.Evaluate(node)
	if err != nil {
		return err
	}
	fmt.Println(formatValue(val))
	return nil
}

func formatValue(val value.Value) string {
	switch v := val.(type) {
	case value.Scalar:
		return fmt.Sprintf("scalar: %v @%d", v.V, v.Timestamp)
	case value.StringValue:
		return fmt.Sprintf("string: %q @%d", v.V, v.Timestamp)
	case value.VectorValue:
		var sb strings.Builder
		for _, s := range v {
			fmt.Fprintf(&sb, "%s => %v @%d\n", s.Labels.String(), s.Value, s.Timestamp)
		}
		return strings.TrimRight(sb.String(), "\n")
	case value.MatrixValue:
		var sb strings.Builder
		for _, series := range v {
			fmt.Fprintf(&sb, "%s\n", series.Labels.String())
			for _, s := range series.Samples {
				fmt.Fprintf(&sb, "  %d %v\n", s.Timestamp, s.Value)
			}
		}
		return strings.TrimRight(sb.String(), "\n")
	default:
		return fmt.Sprintf("%v", val)
	}
}

func runQueryRange(store *memstore.Store, reg *funcs.Registry, cfg config.Config, expr, startFlag, endFlag string, step time.Duration) error {
	start, err := time.Parse(time.RFC3339, startFlag)
	if err != nil {
		return err
	}
	end, err := time.Parse(time.RFC3339, endFlag)
	if err != nil {
		return err
	}
	node, errs := parser.Parse(expr)
	if len(errs) > 0 {
		return fmt.Errorf("parse error: %s", joinParseErrors(errs))
	}

	ev, err := engine.NewRange(context.Background(), store, reg, start.UnixMilli(), end.UnixMilli(), step.Milliseconds(), cfg.Engine.LookbackMs)
	if err != nil {
		return err
	}
	matrix, err := ev.EvaluateRange(node)
	if err != nil {
		return err
	}
	fmt.Println(formatValue(value.MatrixValue(matrix)))
	return nil
}

func joinParseErrors(errs []*parser.Error) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// runServe wires the write buffer, background processor, rule manager, and
// metrics server as coordinated oklog/run actors (spec.md §6), grounded on
// the teacher's cmd/example-app main.go run.Group pattern.
func runServe(logger log.Logger, cfg config.Config, addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	qm := metrics.New()
	if err := qm.Register(reg); err != nil {
		return err
	}

	store := memstore.New()
	rm := rules.NewManager(logger)
	wb := writebufferFromConfig(cfg, store, rm, logger)
	bp := background.NewProcessor(background.Config{
		NumWorkers:        cfg.BackgroundProcessor.NumWorkers,
		MaxQueueSize:      cfg.BackgroundProcessor.MaxQueueSize,
		TaskTimeout:       cfg.BackgroundProcessor.TaskTimeout(),
		ShutdownTimeout:   cfg.BackgroundProcessor.ShutdownTimeout(),
		WorkerWaitTimeout: cfg.BackgroundProcessor.WorkerWaitTimeout(),
	}, logger)

	var g run.Group
	{
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case <-term:
				level.Info(logger).Log("msg", "received interrupt, shutting down")
			case <-cancel:
			}
			return nil
		}, func(error) {
			close(cancel)
		})
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			wb.Start(ctx)
			<-ctx.Done()
			return nil
		}, func(error) {
			cancel()
			wb.Shutdown(context.Background())
		})
	}
	{
		bp.Start()
		g.Add(func() error {
			<-context.Background().Done()
			return nil
		}, func(error) {
			bp.Shutdown(context.Background())
		})
	}
	{
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		server := &http.Server{Addr: addr, Handler: mux}
		g.Add(func() error {
			level.Info(logger).Log("msg", "serving metrics", "addr", addr)
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			server.Shutdown(ctx)
		})
	}

	return g.Run()
}
