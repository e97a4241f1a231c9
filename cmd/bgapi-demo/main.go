// Command bgapi-demo drives a BLED112 dongle: it either scans for nearby
// devices and prints their scan responses, or advertises and waits for a
// central to connect.
//
// Usage:
//
//	bgapi-demo [flags] [port] scan|advertise
//
// The port may be omitted when serial.port is set in the config file or a
// BLED112 is plugged in.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/chaz8081/bgapi-host/internal/ble"
	blecrypto "github.com/chaz8081/bgapi-host/internal/ble/crypto"
	"github.com/chaz8081/bgapi-host/internal/config"
	"github.com/chaz8081/bgapi-host/internal/metrics"
	"github.com/chaz8081/bgapi-host/internal/transport"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/bgapi-host/config.yaml)")
	logLevel := flag.String("loglevel", "", "log level: debug, info, warn, or error (overrides config)")
	reset := flag.Bool("reset", false, "reset the dongle and reconnect before starting")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	genSecret := flag.Bool("gen-oob-secret", false, "print a random security.oob_secret value and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [port] scan|advertise\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("write config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
		} else {
			fmt.Println("Wrote", path)
		}
		return
	}

	if *genSecret {
		secret, err := blecrypto.NewSecret()
		if err != nil {
			log.Fatalf("generate secret: %v", err)
		}
		fmt.Println(secret)
		return
	}

	port, mode, err := parseArgs(flag.Args())
	if err != nil {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath, log)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	level, _ := cfg.Level()
	log.SetLevel(level)

	if port == "" {
		port = cfg.Serial.Port
	}
	if port == "" {
		found, err := transport.FindBLED112()
		if err != nil {
			log.Fatalf("no port given: %v", err)
		}
		port = found.Name
		log.WithField("port", found.String()).Info("found BLED112")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		m = metrics.New(reg)
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, log.WithField("component", "metrics")); err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	opts, err := cfg.SessionOptions(log.WithField("component", "ble"), m)
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	session := ble.New(opts)

	secret, _ := cfg.OOBSecret()
	if err := installHandlers(session, mode, secret, log); err != nil {
		log.Fatalf("handlers: %v", err)
	}

	printBanner(cfg, port, mode)

	if *reset {
		log.Info("Resetting dongle...")
		err = session.ResetConnect(ctx, port)
	} else {
		err = session.Connect(port)
	}
	if err != nil {
		log.Fatalf("connect %s: %v", port, err)
	}

	if err := session.SystemGetInfo(); err != nil {
		log.Fatalf("system_get_info: %v", err)
	}
	readOne(session, log)

	switch mode {
	case "advertise":
		err = session.GapSetMode(ble.GapGeneralDiscoverable, ble.GapUndirectedConnectable)
	case "scan":
		err = session.GapDiscover(ble.DiscoverObservation)
	}
	if err != nil {
		session.Disconnect()
		log.Fatalf("%s: %v", mode, err)
	}
	readOne(session, log)

	fmt.Println("Running. Ctrl+C to quit.")
	err = session.Run(ctx, cfg.Session.PollTimeout)
	if errors.Is(err, context.Canceled) {
		fmt.Println("disconnecting")
		return
	}
	session.Disconnect()
	log.Fatalf("read loop: %v", err)
}

func parseArgs(args []string) (port, mode string, err error) {
	switch len(args) {
	case 1:
		mode = args[0]
	case 2:
		port, mode = args[0], args[1]
	default:
		return "", "", fmt.Errorf("expected [port] mode")
	}
	if mode != "scan" && mode != "advertise" {
		return "", "", fmt.Errorf("mode must be scan or advertise, got %q", mode)
	}
	return port, mode, nil
}

// installHandlers prints what the dongle reports. When advertising, a
// dropped connection turns advertising back on.
func installHandlers(s *ble.Session, mode string, oobSecret []byte, log *logrus.Logger) error {
	if err := s.OnSystemInfo(func(info ble.SystemInfo) error {
		fmt.Printf("System info: %s\n", info)
		return nil
	}); err != nil {
		return err
	}
	if err := s.OnSystemBoot(func(info ble.SystemInfo) error {
		log.WithField("version", info.String()).Info("dongle booted")
		return nil
	}); err != nil {
		return err
	}
	if err := s.OnGapSetMode(func(r ble.Result) error {
		fmt.Printf("GAP mode is set, result=%s\n", r)
		return nil
	}); err != nil {
		return err
	}
	if err := s.OnGapDiscover(func(r ble.Result) error {
		if err := r.Err(); err != nil {
			return err
		}
		fmt.Println("Discovery started")
		return nil
	}); err != nil {
		return err
	}
	if err := s.OnScanResponse(func(r ble.ScanResponse) error {
		fmt.Printf("Scan response %s: %s, rssi=%d\n", r.Address(), r.LocalName(), r.RSSI)
		return nil
	}); err != nil {
		return err
	}
	if err := s.OnConnectionStatus(func(c ble.ConnectionStatus) error {
		fmt.Printf("Connected to: %s\n", c.Address)
		if len(oobSecret) > 0 && c.Completed() {
			return s.SMSetOOBSecret(oobSecret, c.Address)
		}
		return nil
	}); err != nil {
		return err
	}
	return s.OnConnectionDisconnected(func(d ble.ConnectionDisconnected) error {
		log.WithFields(logrus.Fields{
			"connection": d.Connection,
			"reason":     d.Reason.String(),
		}).Info("connection disconnected")
		if mode != "advertise" {
			return nil
		}
		return s.GapSetMode(ble.GapGeneralDiscoverable, ble.GapUndirectedConnectable)
	})
}

// readOne processes the reply to a startup command. A missing reply is not
// fatal; the main loop keeps reading.
func readOne(s *ble.Session, log *logrus.Logger) {
	if err := s.ReadMessage(time.Second); err != nil {
		log.WithError(err).Warn("no reply")
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string, log *logrus.Logger) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Debugf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Debug("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, port, mode string) {
	fmt.Println("=== bgapi-demo ===")
	fmt.Printf("  Port:    %s (%s, %d baud)\n", port, cfg.Serial.Driver, cfg.Serial.BaudRate)
	fmt.Printf("  Mode:    %s\n", mode)
	fmt.Printf("  Reader:  background=%v\n", cfg.Session.BackgroundReader)
	if cfg.Metrics.Addr != "" {
		fmt.Printf("  Metrics: %s\n", cfg.Metrics.Addr)
	}
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("==================")
}
