package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "", "path to regsim.toml (defaults apply when empty)")
	role := flag.String("role", "", "override role: host, device, master or slave")
	httpAddr := flag.String("http", "", "override inspect API listen address")
	printConfig := flag.Bool("print-config", false, "print the effective config and exit")
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	if *role != "" {
		cfg.Role = *role
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if *printConfig {
		out, err := renderConfig(cfg)
		if err != nil {
			fatal(err)
		}
		os.Stdout.Write(out)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "regsim: %v\n", err)
	os.Exit(1)
}
