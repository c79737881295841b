package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"raptordb/pkg/config"
	"raptordb/pkg/database"
	"raptordb/pkg/repl"

	"github.com/google/uuid"
)

// Listens for SIGINT or SIGTERM and closes the database.
func setupCloseHandler(db *database.Database) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		db.Close()
		os.Exit(0)
	}()
}

// Start the database.
func main() {
	var promptFlag = flag.Bool("c", false, "print a prompt before each statement")
	var noIndexFlag = flag.Bool("no-index", false, "disable index usage; every access is a full scan")
	var initFlag = flag.Bool("init", false, "remove existing data, initialize the base directory, and exit")
	var poolFlag = flag.Int("pool", config.MaxPagesInBuffer, "buffer pool capacity in pages")
	flag.Parse()

	// Positional argument: base directory for databases.
	baseDir := config.DefaultDataDir
	if flag.NArg() > 0 {
		baseDir = flag.Arg(0)
	}

	if *initFlag {
		if err := os.RemoveAll(baseDir); err != nil {
			log.Fatalf("failed to remove %s: %v", baseDir, err)
		}
		if err := os.MkdirAll(baseDir, 0775); err != nil {
			log.Fatalf("failed to initialize %s: %v", baseDir, err)
		}
		fmt.Printf("initialized %s\n", baseDir)
		return
	}

	db, err := database.OpenWithPoolSize(baseDir, *poolFlag)
	if err != nil {
		log.Fatalf("failed to open %s: %v", baseDir, err)
	}
	if *noIndexFlag {
		db.SetUseIndexes(false)
	}
	defer db.Close()
	setupCloseHandler(db)

	r := repl.NewRepl(db.ExecuteSQL)
	r.Run(uuid.New(), config.GetPrompt(*promptFlag), nil, nil)
}
