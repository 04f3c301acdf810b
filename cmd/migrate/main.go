package main

import (
	"flag"
	"log"

	"carinsure/internal/config"
	"carinsure/internal/db"
)

func main() {
	rollback := flag.Bool("rollback", false, "revert the most recent migration instead of applying")
	flag.Parse()

	cfg := config.Load()

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal(err)
	}

	if *rollback {
		if err := db.RollbackLast(gormDB); err != nil {
			log.Fatalf("rollback: %v", err)
		}
		log.Println("Last migration rolled back")
		return
	}

	if err := db.Migrate(gormDB); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("Migrations applied")
}
