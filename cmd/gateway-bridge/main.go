package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lora-node/lora-node-pro/internal/config"
	"github.com/lora-node/lora-node-pro/internal/gateway"
	"github.com/lora-node/lora-node-pro/internal/hal"
	"github.com/lora-node/lora-node-pro/internal/radio"
	"github.com/lora-node/lora-node-pro/pkg/crypto"
)

func main() {
	var configPath = flag.String("config", "config/gateway-bridge.yml", "config file path")
	var showConfig = flag.Bool("show-config", false, "print config summary and exit")
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

	log.Info().Str("config_path", *configPath).Msg("gateway bridge starting")

	cipher, err := crypto.LoadKeyfile(cfg.Crypto.Keyfile)
	if err != nil {
		log.Fatal().Err(err).Str("keyfile", cfg.Crypto.Keyfile).Msg("load keyfile failed")
	}

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
	if err := driver.Reset(); err != nil {
		log.Fatal().Err(err).Msg("radio reset failed")
	}
	if err := driver.Configure(radio.Config{
		FrequencyHz:     cfg.Radio.FrequencyHz,
		SpreadingFactor: cfg.Radio.SpreadingFactor,
		BandwidthKHz:    cfg.Radio.BandwidthKHz,
		CodingRate:      cfg.Radio.CodingRate,
		TxPowerDBm:      cfg.Radio.TxPowerDBm,
		PreambleLength:  cfg.Radio.PreambleLength,
		SyncWord:        cfg.Radio.SyncWord,
		CRCEnabled:      cfg.Radio.CRCEnabled,
	}); err != nil {
		log.Fatal().Err(err).Msg("radio configure failed")
	}

	nc, err := gateway.Connect(cfg.NATS.URL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("connect NATS failed")
	}
	defer nc.Close()

	// The bridge listens on the node's destination address: frames the
	// nodes send to DestAddr are the ones meant for this station.
	bridge := gateway.New(driver, nc, cipher,
		cfg.Link.DestAddr, cfg.NATS.SubjectPrefix, cfg.Link.RxTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := bridge.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("bridge stopped")
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	cancel()
	log.Info().Msg("gateway bridge stopped")
}
