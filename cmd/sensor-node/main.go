package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lora-node/lora-node-pro/internal/api"
	"github.com/lora-node/lora-node-pro/internal/buffer"
	"github.com/lora-node/lora-node-pro/internal/config"
	"github.com/lora-node/lora-node-pro/internal/hal"
	"github.com/lora-node/lora-node-pro/internal/link"
	"github.com/lora-node/lora-node-pro/internal/radio"
	"github.com/lora-node/lora-node-pro/internal/sensors"
	"github.com/lora-node/lora-node-pro/internal/storage"
	"github.com/lora-node/lora-node-pro/pkg/crypto"
)

func main() {
	var configPath = flag.String("config", "config/sensor-node.yml", "config file path")
	var showConfig = flag.Bool("show-config", false, "print config summary and exit")
	var generateKey = flag.Bool("generate-key", false, "generate a new keyfile and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("load config failed")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	if *generateKey {
		if err := crypto.GenerateKeyfile(cfg.Crypto.Keyfile); err != nil {
			log.Fatal().Err(err).Str("keyfile", cfg.Crypto.Keyfile).Msg("generate keyfile failed")
		}
		fmt.Printf("keyfile written to %s\n", cfg.Crypto.Keyfile)
		return
	}

	deviceID := cfg.DeviceID()
	log.Info().
		Str("config_path", *configPath).
		Str("device_id", deviceID).
		Msg("sensor node starting")

	cipher, err := crypto.LoadKeyfile(cfg.Crypto.Keyfile)
	if err != nil {
		log.Fatal().Err(err).Str("keyfile", cfg.Crypto.Keyfile).Msg("load keyfile failed")
	}

	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("open database failed")
	}
	defer store.Close()

	queue := buffer.New(store, buffer.Options{
		FlushInterval:   cfg.Buffer.FlushInterval,
		CleanupInterval: cfg.Buffer.CleanupInterval,
		Retention:       cfg.Buffer.Retention,
	})

	gpio, err := hal.NewPeriphGPIO()
	if err != nil {
		log.Fatal().Err(err).Msg("GPIO init failed")
	}
	spi, err := hal.NewPeriphSPI(cfg.Radio.SPIPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Radio.SPIPort).Msg("SPI init failed")
	}
	defer spi.Close()

	driver := radio.New(gpio, spi, radio.Pins{
		Reset: cfg.Radio.ResetPin,
		Busy:  cfg.Radio.BusyPin,
		DIO1:  cfg.Radio.DIO1Pin,
	})

	manager := link.New(driver, queue, cipher, link.Config{
		Radio: radio.Config{
			FrequencyHz:     cfg.Radio.FrequencyHz,
			SpreadingFactor: cfg.Radio.SpreadingFactor,
			BandwidthKHz:    cfg.Radio.BandwidthKHz,
			CodingRate:      cfg.Radio.CodingRate,
			TxPowerDBm:      cfg.Radio.TxPowerDBm,
			PreambleLength:  cfg.Radio.PreambleLength,
			SyncWord:        cfg.Radio.SyncWord,
			CRCEnabled:      cfg.Radio.CRCEnabled,
		},
		DestAddr:         cfg.Link.DestAddr,
		DestFreqMHz:      int(cfg.Radio.FrequencyHz / 1_000_000),
		SrcAddr:          cfg.Link.SrcAddr,
		SrcFreqMHz:       int(cfg.Radio.FrequencyHz / 1_000_000),
		BatchSize:        cfg.Link.BatchSize,
		SyncInterval:     cfg.Link.SyncInterval,
		ReconnectBackoff: cfg.Link.ReconnectBackoff,
	})

	collector := sensors.NewCollector(
		sensors.NewMock(time.Now().UnixNano()),
		deviceID, cfg.Node.Location, cfg.Node.SampleInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := queue.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("durable queue stopped")
			cancel()
		}
	}()
	go func() {
		if err := manager.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("link manager stopped")
			cancel()
		}
	}()
	go func() {
		if err := collector.Run(ctx, manager.Ingest); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("sensor collector stopped")
			cancel()
		}
	}()

	var server *api.RESTServer
	if cfg.API.Enabled {
		server = api.NewRESTServer(cfg, queue, manager)
		go func() {
			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
			if err := server.ListenAndServe(addr); err != nil {
				log.Error().Err(err).Msg("API server stopped")
			}
		}()
	}

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down")
	}

	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API shutdown failed")
		}
		shutdownCancel()
	}
	if err := queue.Stop(); err != nil {
		log.Error().Err(err).Msg("final flush failed")
	}

	log.Info().Msg("sensor node stopped")
}
