package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/grant-importer/internal/db"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = db.DefaultURL
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	pending, err := db.PendingMigrations(ctx, pool)
	if err != nil {
		log.Fatalf("Migration check failed: %v", err)
	}
	if len(pending) > 0 {
		fmt.Printf("Pending migrations: %v\n", pending)
		os.Exit(1)
	}
	fmt.Println("Schema up to date")

	var total, drafts, published, withSummary, withDeadline int
	err = pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'draft'),
			count(*) FILTER (WHERE status = 'publish'),
			count(summary),
			count(deadline_at)
		FROM grants
	`).Scan(&total, &drafts, &published, &withSummary, &withDeadline)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Total grants: %d\n", total)
	fmt.Printf("Drafts: %d\n", drafts)
	fmt.Printf("Published: %d\n", published)
	fmt.Printf("With summary: %d\n", withSummary)
	fmt.Printf("With deadline: %d\n", withDeadline)

	var runs int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM import_runs`).Scan(&runs); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Import runs kept: %d\n", runs)
}
