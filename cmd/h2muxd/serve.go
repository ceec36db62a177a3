package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gohttp2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/jakegut/h2demux/internal/config"
	"github.com/jakegut/h2demux/internal/h2log"
	"github.com/jakegut/h2demux/internal/introspect"
	"github.com/jakegut/h2demux/http2"
)

type serveFlags struct {
	configPath      string
	listen          string
	introspectAddr  string
	logLevel        string
	logFile         string
	dataDir         string
	compareAddr     string
}

var serveConfig serveFlags

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Run the h2muxd daemon",
	RunE:  runServe,
}

func init() {
	flags := serveCommand.Flags()
	flags.StringVar(&serveConfig.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&serveConfig.listen, "listen", "", "override the h2c listen address")
	flags.StringVar(&serveConfig.introspectAddr, "introspect-addr", "", "override the introspection websocket address")
	flags.StringVar(&serveConfig.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	flags.StringVar(&serveConfig.logFile, "log-file", "", "rotated JSON log file path")
	flags.StringVar(&serveConfig.dataDir, "data-dir", ".", "directory holding the single-instance lock file")
	flags.StringVar(&serveConfig.compareAddr, "compare-addr", "0.0.0.0:1010", "address for the golang.org/x/net/http2 comparison server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfig.configPath)
	if err != nil {
		return err
	}
	if serveConfig.listen != "" {
		cfg.Listen = serveConfig.listen
	}
	if serveConfig.introspectAddr != "" {
		cfg.IntrospectAddr = serveConfig.introspectAddr
	}
	if serveConfig.logLevel != "" {
		cfg.LogLevel = serveConfig.logLevel
	}
	if serveConfig.logFile != "" {
		cfg.LogFile = serveConfig.logFile
	}

	logger, err := h2log.New(h2log.Config{
		FilePath: cfg.LogFile,
		Level:    cfg.LogLevel,
		Console:  true,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	lockPath := filepath.Join(serveConfig.dataDir, "h2muxd.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("another h2muxd instance is already running (%s)", lockPath)
	}
	defer lock.Unlock()

	if serveConfig.configPath != "" {
		watcher, err := config.NewWatcher(serveConfig.configPath, logger)
		if err != nil {
			logger.Warn("config watcher disabled", zap.Error(err))
		} else {
			watcher.OnLevelChange(func(level string) {
				logger.Info("log level changed", zap.String("level", level))
			})
			stop := make(chan struct{})
			defer close(stop)
			go watcher.Run(stop)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}
	defer listener.Close()
	logger.Info("h2muxd listening", zap.String("addr", cfg.Listen))

	go runComparisonServer(ctx, serveConfig.compareAddr, logger)

	introspectSrv := &introspectHost{logger: logger}
	go func() {
		if err := introspectSrv.ListenAndServe(ctx, cfg.IntrospectAddr); err != nil && ctx.Err() == nil {
			logger.Warn("introspection server stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("accept failed", zap.Error(err))
			continue
		}
		logger.Info("accepted connection", zap.String("remote", conn.RemoteAddr().String()))

		bootstrap := http2.NewBootstrap(newDemoHandlerFactory(logger)).
			WithLogger(logger).
			Option(http2.OptAutoRead, true).
			Option(http2.OptMaxMessagesPerRead, cfg.MaxMessagesPerRead)

		h2conn := http2.NewConnection(conn, bootstrap, false, cfg.InitialWindow, logger)
		introspectSrv.track(h2conn.Core())

		go func() {
			if err := h2conn.Serve(); err != nil {
				logger.Debug("connection ended", zap.Error(err))
			}
		}()
	}
}

// introspectHost fronts internal/introspect.Server with whichever
// connection's core is currently live — a single daemon in this reference
// implementation serves one h2c connection's registry at a time, enough to
// drive the `top` dashboard demo.
type introspectHost struct {
	logger *zap.Logger
	srv    *introspect.Server
}

func (h *introspectHost) track(core *http2.Core) {
	h.srv = introspect.NewServer(core, 250*time.Millisecond, h.logger)
}

func (h *introspectHost) ListenAndServe(ctx context.Context, addr string) error {
	for h.srv == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return h.srv.ListenAndServe(ctx, addr)
}

// runComparisonServer runs a plain golang.org/x/net/http2 + h2c server
// side-by-side with h2muxd's hand-rolled transport, exactly as the
// teacher's exampleServer did — proof the hand-rolled framer/mux speaks
// the same wire protocol a standard-library client expects.
func runComparisonServer(ctx context.Context, addr string, logger *zap.Logger) {
	h2 := &gohttp2.Server{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "Hello, %v, http: %v", r.URL.Path, r.TLS == nil)
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(handler, h2),
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	logger.Info("comparison h2c server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && ctx.Err() == nil {
		logger.Warn("comparison server stopped", zap.Error(err))
	}
}
