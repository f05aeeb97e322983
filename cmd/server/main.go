package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/10and01/vmsim/simulator"
	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve a live virtual-memory simulation over HTTP and WebSocket",
	RunE:  runServer,

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().String("addr", "", "listen address (default $VMSIM_ADDR or :8080)")
	rootCmd.Flags().String("config", "", "simulation config file (.json or .yaml)")
	rootCmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().Bool("open", false, "open the status page in a browser")
	rootCmd.Flags().Duration("update-interval", 500*time.Millisecond, "websocket snapshot period")
}

func listenAddr(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("VMSIM_ADDR"); env != "" {
		return env
	}
	return ":8080"
}

func runServer(cmd *cobra.Command, _ []string) error {
	// .env is optional
	_ = godotenv.Load()

	addrFlag, _ := cmd.Flags().GetString("addr")
	configPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")
	open, _ := cmd.Flags().GetBool("open")
	interval, _ := cmd.Flags().GetDuration("update-interval")

	logger := simulator.NewLogger(level, os.Stderr)

	config := simulator.DefaultConfig()
	if configPath != "" {
		var err error
		if config, err = simulator.LoadConfig(configPath); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	state, err := newSimState(ctx, config, logger, newPromMetrics(reg))
	if err != nil {
		return fmt.Errorf("error creating simulator: %w", err)
	}

	s := &server{state: state, logger: logger, updateInterval: interval}
	router := newRouter(s, reg)

	addr := listenAddr(addrFlag)
	srv := &http.Server{Addr: addr, Handler: router}

	router.HandleFunc("/quitquitquit", func(w http.ResponseWriter, _ *http.Request) {
		logger.Info("shutdown requested via /quitquitquit")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Server shutting down...")

		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
			srv.Shutdown(context.Background())
		}()
	})

	url := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		url = "http://" + addr
	}
	logger.Info("server starting", "url", url, "websocket", strings.Replace(url, "http", "ws", 1)+"/ws")

	if open {
		go func() {
			time.Sleep(200 * time.Millisecond)
			if err := browser.OpenURL(url); err != nil {
				logger.Warn("could not open browser", "err", err)
			}
		}()
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
