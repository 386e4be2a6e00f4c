package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertof/go-lywsd03mmc-bridge/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/collector"
	"github.com/robertof/go-lywsd03mmc-bridge/homeassistant"
	"github.com/robertof/go-lywsd03mmc-bridge/metrics"
	"github.com/robertof/go-lywsd03mmc-bridge/mqtt"
	"github.com/robertof/go-lywsd03mmc-bridge/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	zerolog.DurationFieldUnit = time.Second
	zerolog.TimeFieldFormat = time.RFC3339Nano

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05.000",
	})

	cfg := ParseArgs()

	if cfg.Trace || os.Getenv("TRACE") != "" {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	} else if cfg.Debug || os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if cfg.DiscoverDevices {
		doDeviceDiscovery(cfg)
		return
	}

	log.Info().
		Array("Devices", utils.ToZeroLogArray(cfg.Devices)).
		Stringer("Mode", cfg.Mode()).
		Int("BluetoothDeviceID", cfg.BluetoothDeviceId).
		Str("MQTTBroker", cfg.MQTT.Broker).
		Int("MQTTPort", cfg.MQTT.Port).
		Str("TopicPrefix", cfg.MQTT.TopicPrefix).
		Bool("HomeAssistant", cfg.HomeAssistant).
		Str("BindAddr", cfg.BindAddress).
		Msg("Starting with the specified configuration")

	bleHandle := initBle(cfg)

	defer func() {
		if err := bleHandle.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop Bluetooth device")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx = ble.WrapContextWithSigHandler(ctx, cancel)

	client := mqtt.NewClient(cfg.MQTT)

	var emitter collector.Emitter = &mqtt.StateSink{
		Publisher:   client,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}

	if cfg.HomeAssistant {
		emitter = homeassistant.NewSink(client, cfg.HomeAssistantConfig)
	}

	coll, err := collector.New(bleHandle, emitter, cfg.Devices, collector.Options{
		Mode:        cfg.Mode(),
		ScanTimeout: cfg.ScanTimeout,
	})

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up collector")
	}

	recurring := collector.NewRecurring(coll)

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return client.Run(ctx)
	})

	eg.Go(func() error {
		waitForBroker(ctx, client)
		return recurring.Start(ctx, cfg.CollectionInterval)
	})

	if cfg.BindAddress != "" {
		registry := prometheus.NewRegistry()

		ble.RegisterMetrics(registry)
		collector.RegisterMetrics(registry)
		metrics.RegisterCollector(recurring.Latest, registry)

		eg.Go(func() error {
			return serveMetrics(ctx, cfg.BindAddress, registry)
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Shutting down due to error")
		return
	}

	log.Info().Msg("Shut down")
}

func initBle(cfg config) *ble.Handle {
	var bleFlags ble.Flags = ble.FlagEnableDeviceAllowList
	deviceAddresses := make([]net.HardwareAddr, len(cfg.Devices))

	for i, dev := range cfg.Devices {
		deviceAddresses[i] = dev.Addr()
	}

	bleHandle, err := ble.InitWithConnParams(cfg.BluetoothDeviceId, cfg.BluetoothConnParams, bleFlags)

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
	}

	err = bleHandle.SetAllowListedAddresses(deviceAddresses)

	if err != nil {
		log.Error().Err(err).Msg("Failed to set device allow list")
	}

	return bleHandle
}

// waitForBroker gives the MQTT client a chance to connect before the first cycle, so that its
// readings are not dropped.
func waitForBroker(ctx context.Context, client *mqtt.Client) {
	const maxWait = 10 * time.Second

	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for !client.IsConnected() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	if !client.IsConnected() {
		log.Warn().
			Dur("WaitedSec", maxWait).
			Msg("MQTT broker not reachable yet, starting collection anyway")
	}
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down Prometheus server")
		}
	}()

	log.Info().
		Str("ListenAddress", addr).
		Msg("Starting Prometheus server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
