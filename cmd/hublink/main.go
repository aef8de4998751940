// Hublink - OPC-UA to engineering data hub synchronization adapter
//
// Connects to an OPC-UA server, browses and subscribes to its variables,
// and synchronizes values with an engineering data-model hub through a
// persistent external identifier map.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"hublink/api"
	"hublink/config"
	"hublink/engine"
	"hublink/hub"
	"hublink/status"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to configuration file")
	endpoint := flag.String("endpoint", "", "Override the OPC-UA endpoint URL")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hublink %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *endpoint != "" {
		cfg.OPC.Endpoint = *endpoint
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	domain := &hub.DomainOfExpertise{
		Iid:       uuid.New(),
		Name:      cfg.Hub.Domain,
		ShortName: cfg.Hub.Domain,
	}
	iteration := &hub.Iteration{Iid: uuid.New()}
	store := hub.NewStore(cfg.Hub.URI, domain, iteration)

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		Data:       store,
		Sink: status.Func(func(message string, severity status.Severity) {
			fmt.Printf("[%s] %s\n", severity, message)
		}),
	})
	eng.Start(nil)

	if cfg.Web.Enabled {
		apiServer := api.NewServer(eng, &cfg.Web)
		if err := apiServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "API server failed to start: %v\n", err)
		} else {
			defer apiServer.Stop()
			fmt.Printf("API listening on %s\n", apiServer.Address())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connect failed: %v\n", err)
		eng.Stop()
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	eng.Stop()
}
