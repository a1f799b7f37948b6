// Command objcached runs the object cache daemon's plugin channel core: it
// loads a YAML config, constructs the configured backend, and drives the
// I/O supervisor until a signal stops it — the Cobra-based counterpart of
// the teacher's asnsrv command and its signal loop in srv.Main.
package main

import (
	"fmt"
	"io"
	"log"
	"log/syslog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/objcached/objcached/backend/memstore"

	"github.com/objcached/objcached/backend"
	"github.com/objcached/objcached/channel"
	"github.com/objcached/objcached/config"
	"github.com/objcached/objcached/metrics"
	"github.com/objcached/objcached/trace"
)

func main() {
	root := &cobra.Command{
		Use:   "objcached CONFIG",
		Short: "run the object cache daemon's channel core",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.New(args[0])
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	be, err := backend.NewBackend(cfg.Backend, cfg.BackendOptions)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	logger, closeLogger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogger()

	if cfg.PidFile != "" {
		if err := writePidFile(cfg.PidFile); err != nil {
			return fmt.Errorf("pid file: %w", err)
		}
		defer os.Remove(cfg.PidFile)
	}

	traceRing := trace.NewRing(cfg.TraceRingSize)

	ch := channel.New(channel.Config{
		Backend:         be,
		Name:            cfg.Name,
		ProtocolVersion: cfg.ProtocolVersion,
		MaxObjectSize:   cfg.MaxObjectSize,
		Capabilities:    cfg.CapabilityMask(),
		Log:             logger,
		Trace:           traceRing,
	})

	if len(cfg.Listen) == 0 {
		return config.ErrNoListen
	}
	lns := make([]net.Listener, 0, len(cfg.Listen))
	closeAll := func() {
		for _, ln := range lns {
			ln.Close()
		}
	}
	for _, locator := range cfg.Listen {
		ln, err := channel.Listen(locator)
		if err != nil {
			closeAll()
			return fmt.Errorf("listen %s: %w", locator, err)
		}
		lns = append(lns, ln)
	}

	sup, err := channel.NewSupervisor(ch, lns, cfg.MaxObjectSize, cfg.NumWorkers, logger)
	if err != nil {
		closeAll()
		return fmt.Errorf("supervisor: %w", err)
	}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.WritePrometheus(w, true)
		})
		metricsSrv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Println("metrics server:", err)
			}
		}()
		defer metricsSrv.Close()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for s := range sig {
			switch s {
			case syscall.SIGUSR1:
				logger.Println("SIGUSR1: flushing trace ring")
				traceRing.Flush(logger.Writer())
			case syscall.SIGHUP:
				logger.Println("SIGHUP: asking connections to detach")
				if err := sup.AskToDetach(); err != nil {
					logger.Println("AskToDetach:", err)
				}
			case syscall.SIGTERM, syscall.SIGINT:
				logger.Println("caught", s, "terminating")
				if err := sup.Terminate(); err != nil {
					logger.Println("Terminate:", err)
				}
				return
			}
		}
	}()

	logger.Println("started", os.Getpid(), "listening on", cfg.Listen)
	err = sup.Run()
	logger.Println("stopped")
	return err
}

// newLogger mirrors the teacher's srv.newLogger: an empty log file name
// means syslog, os.DevNull means discard, anything else opens (or
// creates) that file.
func newLogger(cfg *config.Config) (*log.Logger, func(), error) {
	switch cfg.LogFile {
	case "":
		w, err := syslog.New(syslog.LOG_NOTICE, cfg.Name)
		if err != nil {
			return nil, nil, err
		}
		return log.New(w, "", 0), func() { w.Close() }, nil
	case os.DevNull:
		return log.New(io.Discard, "", log.LstdFlags), func() {}, nil
	default:
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0664)
		if err != nil {
			return nil, nil, err
		}
		return log.New(f, cfg.Name+" ", log.LstdFlags), func() { f.Close() }, nil
	}
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
