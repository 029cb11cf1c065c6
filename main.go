package main

import (
	"context"
	"embed"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"pantilt-remote/internal/config"
	"pantilt-remote/internal/debug"
	"pantilt-remote/internal/driver"
	"pantilt-remote/internal/events"
	"pantilt-remote/internal/motion"
	"pantilt-remote/internal/server"
	"pantilt-remote/internal/sim"
	"pantilt-remote/internal/transport"
)

//go:embed web/*
var staticFiles embed.FS

func main() {
	// Command line flags
	configPath := flag.String("config", "", "YAML configuration file")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	address := flag.String("head", "", "Head address: serial device or tcp://host:port (overrides config)")
	rtspURL := flag.String("rtsp", "", "RTSP URL for camera preview (overrides config)")
	simulate := flag.Bool("simulate", false, "Use the simulated head")
	debugLevel := flag.Int("debug", -1, "Debug level 0-4 (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}
	if *address != "" {
		cfg.Serial.Address = *address
	}
	if *rtspURL != "" {
		cfg.Preview.RTSPURL = *rtspURL
	}
	if *simulate {
		cfg.Simulate = true
	}
	if *debugLevel >= 0 {
		cfg.DebugLevel = *debugLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	debug.Init(cfg.DebugLevel)

	var dialer transport.Dialer
	if cfg.Simulate {
		dialer = sim.New(sim.Config{
			PanSpeed:  cfg.Motion.PanMaxVelocity,
			TiltSpeed: cfg.Motion.TiltMaxVelocity,
			Limit:     sim.DefaultConfig().Limit,
			Start:     sim.DefaultConfig().Start,
		})
		if cfg.Serial.Address == "" {
			cfg.Serial.Address = "sim"
		}
	} else {
		dialer = transport.NewDialer(transport.Config{
			Baud:        cfg.Serial.Baud,
			DialTimeout: transport.DefaultConfig().DialTimeout,
		})
	}

	hub := events.NewHub()
	sinks := events.Fanout{hub}
	var mqttSink *events.MQTTSink
	if cfg.MQTT.Broker != "" {
		s, err := events.DialMQTT(events.MQTTConfig{
			Broker:        cfg.MQTT.Broker,
			Topic:         cfg.MQTT.Topic,
			ClientID:      cfg.MQTT.ClientID,
			SkipPositions: cfg.MQTT.SkipPositions,
		})
		if err != nil {
			// Events still reach websocket clients.
			log.Printf("MQTT disabled: %v", err)
		} else {
			mqttSink = s
			sinks = append(sinks, s)
		}
	}

	ctrl := motion.NewController(motion.Options{
		Dialer:              dialer,
		PollInterval:        cfg.PollInterval(),
		ReadTimeout:         cfg.ReadTimeout(),
		CalibrationDuration: cfg.CalibrationDuration(),
		PanMaxVelocity:      cfg.Motion.PanMaxVelocity,
		TiltMaxVelocity:     cfg.Motion.TiltMaxVelocity,
		Sink:                sinks,
	})

	var srv *server.Server
	drv := driver.New(ctrl, driver.Config{
		TickInterval: cfg.TickInterval(),
		OnStatus: func(snap motion.Snapshot) {
			if srv != nil {
				srv.BroadcastStatus(snap)
			}
		},
	})

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		HeadAddress: cfg.Serial.Address,
		RTSPURL:     cfg.Preview.RTSPURL,
		ICEServers:  cfg.Preview.ICEServers,
	}, drv, hub, staticFiles)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := drv.Run(ctx); err != nil {
			log.Printf("Driver stopped: %v", err)
		}
	}()

	if cfg.Serial.AutoConnect && cfg.Serial.Address != "" {
		go func() {
			if err := drv.Connect(cfg.Serial.Address); err != nil {
				log.Printf("Failed to connect to head at %s: %v", cfg.Serial.Address, err)
			}
		}()
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		<-drv.Done()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		err := srv.Stop(shutdownCtx)
		if mqttSink != nil {
			err = multierr.Append(err, mqttSink.Close())
		}
		if err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	log.Printf("Pan/Tilt Remote Control Server")
	log.Printf("  Listen: %s", cfg.Server.Listen)
	if cfg.Simulate {
		log.Printf("  Head: simulated")
	} else if cfg.Serial.Address != "" {
		log.Printf("  Head: %s (%d baud)", cfg.Serial.Address, cfg.Serial.Baud)
	}
	if cfg.Preview.RTSPURL != "" {
		log.Printf("  RTSP: %s", cfg.Preview.RTSPURL)
	}
	if cfg.MQTT.Broker != "" {
		log.Printf("  MQTT: %s", cfg.MQTT.Broker)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	<-stopped
}
