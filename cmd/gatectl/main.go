package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mwyndham/gatewire/internal/config"
	"github.com/mwyndham/gatewire/internal/gateway"
)

func main() {
	path := flag.String("config", "gatewire.toml", "path to the gateway config")
	initConfig := flag.Bool("init-config", false, "write a config template and exit")
	force := flag.Bool("force", false, "overwrite an existing config with -init-config")
	validate := flag.Bool("validate", false, "validate the config and exit")
	flag.Parse()

	if *initConfig {
		if err := config.WriteTemplate(*path, "gateway", *force); err != nil {
			fatal(err)
		}
		fmt.Printf("wrote gateway config template to %s\n", *path)
		return
	}

	cfg, err := config.LoadGatewayConfig(*path)
	if err != nil {
		fatal(err)
	}
	if *validate {
		fmt.Printf("validated gateway config at %s\n", *path)
		return
	}

	if err := gateway.NewService(cfg).Run(); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "gatectl: %v\n", err)
	os.Exit(1)
}
