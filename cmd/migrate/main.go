package main

import (
	"errors"
	"flag"
	"log"

	"marketplace-service/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		log.Fatal("usage: migrate <up|down|version>")
	}

	cfg := config.Load()

	m, err := migrate.New("file://migrations", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to create migrate instance: %v", err)
	}
	defer func() { _, _ = m.Close() }()

	switch args[0] {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No pending migrations")
			return
		}
		if err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("Migrations applied")

	case "down":
		err = m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No migrations to roll back")
			return
		}
		if err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Migration rolled back")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("No migrations applied yet")
			return
		}
		if err != nil {
			log.Fatalf("Failed to read version: %v", err)
		}
		log.Printf("Current version: %d (dirty=%v)", version, dirty)

	default:
		log.Fatalf("Unknown command: %s", args[0])
	}
}
