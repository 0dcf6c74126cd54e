package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"so-fileserver-demo/internal/metrics"
	"so-fileserver-demo/internal/pool"
	"so-fileserver-demo/internal/sched"
	"so-fileserver-demo/internal/server"
)

// Defaults de los posicionales.
const (
	defaultPort    = 8080
	defaultWorkers = 4
	defaultDocroot = "./www"
)

// queueCapacityStr es la capacidad de la cola, constante de build:
//
//	go build -ldflags "-X main.queueCapacityStr=2048" ./cmd/server
var queueCapacityStr = "1024"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "server [port [workers [docroot]]]",
		Short:        "Servidor de archivos estáticos multihilo con planificación intercambiable",
		Args:         cobra.MaximumNArgs(3),
		RunE:         run,
		SilenceUsage: true,
	}
	cmd.Flags().String("scheduler", "sjf", "política de planificación: fifo|sjf (también env SCHEDULER; el flag gana)")
	cmd.Flags().String("log-level", "info", "nivel de log: debug|info|warn|error")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logger, err := buildLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	log := zap.S().Named("main")

	port, workers, docroot, err := parseArgs(args)
	if err != nil {
		return err
	}

	// precedencia flag > env SCHEDULER > default, vía viper
	v := viper.New()
	if err := v.BindPFlag("scheduler", cmd.Flags().Lookup("scheduler")); err != nil {
		return err
	}
	if err := v.BindEnv("scheduler", "SCHEDULER"); err != nil {
		return err
	}
	schedName := v.GetString("scheduler")

	capacity := queueCapacity()
	policy, err := sched.FromName(schedName, capacity)
	if err != nil {
		log.Warnw("unknown scheduler; falling back to sjf", "name", schedName)
		schedName = "sjf"
		policy = sched.NewSJF(capacity)
	}

	p := pool.New(workers, capacity, docroot,
		pool.WithScheduler(policy),
		pool.WithHooks(pool.Hooks{OnSubmit: metrics.IncSubmit, OnPop: metrics.IncPop}),
	)
	reporter := metrics.StartReporter(5 * time.Second)

	ln, err := server.Listen(port)
	if err != nil {
		p.Close()
		reporter.Stop()
		return err
	}

	// SIGINT/SIGTERM: cerrar el listener; Serve retorna y se drena el pool
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("signal received; shutting down")
		ln.Close()
	}()

	log.Infow("listening",
		"addr", ln.Addr().String(),
		"workers", workers,
		"capacity", capacity,
		"scheduler", schedName,
		"docroot", docroot,
	)

	serveErr := server.Serve(ln, p)
	ln.Close()
	p.Close()
	reporter.Stop()
	log.Info("bye")
	return serveErr
}

// parseArgs procesa los posicionales: port, workers, docroot.
func parseArgs(args []string) (port, workers int, docroot string, err error) {
	port, workers, docroot = defaultPort, defaultWorkers, defaultDocroot
	if len(args) >= 1 {
		port, err = strconv.Atoi(args[0])
		if err != nil || port < 0 || port > 65535 {
			return 0, 0, "", fmt.Errorf("invalid port %q", args[0])
		}
	}
	if len(args) >= 2 {
		workers, err = strconv.Atoi(args[1])
		if err != nil || workers < 1 {
			return 0, 0, "", fmt.Errorf("invalid worker count %q", args[1])
		}
	}
	if len(args) >= 3 {
		docroot = args[2]
	}
	return port, workers, docroot, nil
}

func queueCapacity() int {
	if n, err := strconv.Atoi(queueCapacityStr); err == nil && n >= 1 {
		return n
	}
	return 1024
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
