// Signald: signaling hub for vocacall endpoints.
//
// Relays call messages between WebSocket members of the same room and, when
// redis is configured, between hub instances. Prometheus metrics are served
// next to the WebSocket endpoint.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/app"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/config"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flag.String("config", "", "Path to the config file (or CONFIG_PATH)")
	listen := flag.String("listen", "", "Listen address, overrides server.listen")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if config.Path() != "" {
		cfg, err = config.Load(config.Path())
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *debugMode || cfg.Debug {
		util.EnableDebug()
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	pterm.Info.Printfln("Signald v%s", version)

	if err := app.RunHub(ctx, cfg.Server); err != nil {
		util.LogError("hub stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("hub stopped")
}
