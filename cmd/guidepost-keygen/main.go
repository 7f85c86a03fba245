package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/guidepost-ai/guidepost/internal/pkg/config"
	"github.com/guidepost-ai/guidepost/internal/provision"
	"github.com/guidepost-ai/guidepost/internal/storage/sqlite"
)

func main() {
	_ = godotenv.Load()

	name := flag.String("name", "", "company name (required)")
	apiKey := flag.String("key", "", "API key to register; minted when omitted")
	threshold := flag.Int("threshold", 0, "escalation threshold; default when omitted")
	dbPath := flag.String("db", "", "sqlite database path; config default when omitted")
	flag.Parse()

	if *name == "" {
		fmt.Println("Usage: guidepost-keygen -name <company> [-key <api-key>] [-threshold <n>] [-db <path>]")
		fmt.Println("Creates a company and prints its API key. Only the key's SHA-256 hash is stored.")
		os.Exit(1)
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.Storage.SQLite.Path
	}

	store, err := sqlite.New(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	company, key, err := provision.Company(context.Background(), store, *name, *apiKey, *threshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create company: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Company ID: %s\n", company.ID)
	fmt.Printf("Name: %s\n", company.Name)
	fmt.Printf("API Key: %s\n", key)
	fmt.Printf("SHA-256 Hash: %s\n", company.APIKeyHash)
	fmt.Println("\nStore the API key now; it is not recoverable from the database.")
}
