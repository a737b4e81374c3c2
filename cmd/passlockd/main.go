package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	passlockd "github.com/louisbranch/passlock/internal/cmd/passlockd"
)

func main() {
	cfg, err := passlockd.ParseConfig(flag.CommandLine, os.Args[1:], func(key string) (string, bool) {
		value, ok := os.LookupEnv(key)
		return value, ok
	})
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[PASSLOCK] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := passlockd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to run: %v", err)
	}
}
