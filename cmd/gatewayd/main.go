// gatewayd is the edge process: it loads device/server config, drives the
// poll/decode/publish pipeline, and exposes the operator control API. It
// generalizes the teacher's cmd/server/edge/main.go composition (load
// config, connect broker, start pollers, wait for SIGINT/SIGTERM) from a
// single MQTT-only edge node to the full ConfigStore/PollingEngine/
// Publisher/ControlAPI wiring.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/controlapi"
	"github.com/fieldgate/gateway/internal/logging"
	"github.com/fieldgate/gateway/internal/metrics"
	"github.com/fieldgate/gateway/internal/polling"
	"github.com/fieldgate/gateway/internal/publish"
	"github.com/fieldgate/gateway/internal/telemetry"
	"github.com/fieldgate/gateway/internal/transport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()
	v.SetDefault("config_dir", "/etc/gateway")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")

	cmd := &cobra.Command{
		Use:           "gatewayd",
		Short:         "Modbus polling and northbound publishing gateway daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v.GetString("config_dir"), v.GetString("listen_addr"), v.GetString("metrics_addr"))
		},
	}

	flags := cmd.Flags()
	flags.String("config-dir", v.GetString("config_dir"), "directory holding devices.json/server_config.json/logging.json")
	flags.String("listen-addr", v.GetString("listen_addr"), "operator control API listen address")
	flags.String("metrics-addr", v.GetString("metrics_addr"), "Prometheus /metrics listen address")
	_ = v.BindPFlag("config_dir", flags.Lookup("config-dir"))
	_ = v.BindPFlag("listen_addr", flags.Lookup("listen-addr"))
	_ = v.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))

	cmd.AddCommand(newValidateConfigCmd(v))
	return cmd
}

func newValidateConfigCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the config directory without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := config.NewStore(v.GetString("config_dir"))
			if err := store.Load(); err != nil {
				return err
			}
			for _, d := range store.Snapshot().Devices() {
				if err := config.ValidateDevice(d); err != nil {
					return fmt.Errorf("device %s: %w", d.DeviceID, err)
				}
			}
			logging.Info("config valid", "devices", len(store.Snapshot().Devices()))
			return nil
		},
	}
}

func run(configDir, listenAddr, metricsAddr string) error {
	logging.Init()

	store := config.NewStore(configDir)
	if err := store.Load(); err != nil {
		logging.Fatal("config load failed", "error", err)
	}
	logging.Info("config loaded", "dir", configDir, "devices", len(store.Snapshot().Devices()))
	if lvl := store.Snapshot().Docs.Logging.Level; lvl != "" {
		logging.SetLevel(lvl)
	}

	pool := transport.NewTCPPool()
	defer pool.Close()
	factory := buildTransportFactory(pool)

	queue := telemetry.NewQueue()
	engine := polling.NewEngine(store, factory, queue)
	publisher := publish.New(store, queue)
	api := controlapi.New(store, engine, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := publisher.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	controlSrv := &http.Server{Addr: listenAddr, Handler: api.Handler()}
	go func() {
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sigCh:
		logging.Info("shutting down", "signal", s)
	case err := <-errCh:
		logging.Error("fatal subsystem error", "error", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = controlSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	logging.Info("bye")
	return nil
}

// buildTransportFactory caches one RTUTransport per serial port (so
// devices sharing a bus are correctly serialized) and builds a fresh
// lightweight TCPTransport per device backed by the shared pool. Engine
// reconciliation can create several device workers concurrently, each
// calling this factory from its own goroutine, so the RTU cache needs its
// own lock independent of any single worker's.
func buildTransportFactory(pool *transport.TCPPool) polling.TransportFactory {
	var mu sync.Mutex
	rtuByPort := make(map[string]*transport.RTUTransport)

	return func(d config.DeviceConfig) (transport.Transport, error) {
		if d.Protocol == config.ProtocolRTU {
			mu.Lock()
			defer mu.Unlock()
			if t, ok := rtuByPort[d.SerialPort]; ok {
				return t, nil
			}
			t := transport.NewRTUTransport(d)
			rtuByPort[d.SerialPort] = t
			return t, nil
		}
		return transport.NewTCPTransport(pool, d.Host, d.Port, time.Duration(d.TimeoutMs)*time.Millisecond), nil
	}
}
