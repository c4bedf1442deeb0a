// migrate runs DB migrations from embedded SQL; use with go run ./cmd/migrate.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"kallied-admin/backend/internal/config"
	"kallied-admin/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up or down")
	version := flag.Bool("version", false, "Print the current schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if *version {
		v, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		fmt.Println(v)
		return
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
