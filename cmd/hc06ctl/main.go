package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/devshojol/HC-06-Controller/internal/bt"
	"github.com/devshojol/HC-06-Controller/internal/console"
	"github.com/devshojol/HC-06-Controller/internal/server"
	"github.com/devshojol/HC-06-Controller/internal/session"
	"github.com/devshojol/HC-06-Controller/web"
)

func main() {
	configPath := flag.String("config", "/etc/hc06ctl/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run against a simulated HC-06")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	interactive := flag.Bool("interactive", false, "Start the command console alongside the server")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] hc06ctl starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Transport.Type = server.TransportDemo
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	binding := newBinding(cfg)
	log.Printf("[main] transport: %s", binding.Name())

	registry := session.NewRegistry(binding)
	if err := registry.Authorize(ctx, permission(cfg)); err != nil {
		// Keep serving: the UI shows the notice on every scan.
		log.Printf("[main] %v", err)
	} else if _, err := registry.ListPaired(ctx); err != nil {
		log.Printf("[main] initial scan: %v", err)
	}

	manager := session.NewManager(binding, cfg.SessionSettings())
	defer func() {
		if err := manager.Close(); err != nil {
			log.Printf("[main] teardown: %v", err)
		}
	}()

	if *interactive {
		con, err := console.New(manager, registry)
		if err != nil {
			log.Fatalf("[main] console: %v", err)
		}
		log.SetOutput(con.Stdout())
		go con.Run(ctx, cancel)
	}

	srv := server.New(cfg, manager, registry, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// newBinding picks the transport backend for the configured type.
func newBinding(cfg *server.Config) bt.Binding {
	t := cfg.Transport
	switch t.Type {
	case server.TransportSerial:
		return bt.NewSerialPorts(bt.SerialPortsConfig{
			BaudRate: t.BaudRate,
			Filters:  t.PortFilter,
		})
	case server.TransportDemo:
		return bt.NewDemo(cfg.DemoSettings())
	default:
		return bt.NewRFCOMM(bt.RFCOMMConfig{
			Adapter:     t.Adapter,
			BaudRate:    t.BaudRate,
			Ports:       t.Ports,
			DefaultPort: t.DefaultPort,
		})
	}
}

// permission returns the host check run before the first scan. Only the
// BlueZ-backed transport has one.
func permission(cfg *server.Config) session.PermissionFunc {
	if !cfg.Preflight.Enabled || cfg.Transport.Type != server.TransportRFCOMM {
		return session.AllowAll
	}
	adapter := cfg.Preflight.Adapter
	if adapter == "" {
		adapter = cfg.Transport.Adapter
	}
	p := bt.Preflight{Unit: cfg.Preflight.Unit, BlueZ: bt.BlueZ{Adapter: adapter}}
	return p.Check
}
