package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/adtrack/internal/pkg/distlock"
	"github.com/ignite/adtrack/internal/repository/postgres"
	"github.com/ignite/adtrack/internal/service/integrity"
	"github.com/ignite/adtrack/internal/service/replay"
)

// Operator tool for rebuilding and auditing campaign projections without
// going through the API server.
//
//	replaytool -tenant 5 -campaign camp-1 validate
//	replaytool -tenant 5 -campaign camp-1 rebuild
func main() {
	tenantID := flag.Int64("tenant", 0, "tenant ID (required)")
	campaignID := flag.String("campaign", "", "campaign ID (required)")
	timeout := flag.Duration("timeout", 5*time.Minute, "operation timeout")
	flag.Parse()

	cmd := flag.Arg(0)
	if *tenantID <= 0 || *campaignID == "" || (cmd != "validate" && cmd != "rebuild") {
		fmt.Fprintln(os.Stderr, "usage: replaytool -tenant N -campaign ID {validate|rebuild}")
		os.Exit(2)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "FATAL: DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(3)
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to ping database: %v\n", err)
		os.Exit(1)
	}

	eventRepo := postgres.NewEventRepo(db)

	switch cmd {
	case "validate":
		report, err := integrity.New(eventRepo).ValidateSequence(ctx, *tenantID, *campaignID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: validate: %v\n", err)
			os.Exit(1)
		}
		printJSON(report)
		if !report.Valid {
			os.Exit(1)
		}

	case "rebuild":
		metricsRepo := postgres.NewMetricsRepo(db)
		// No Redis here: advisory locks are enough for an operator tool.
		engine := replay.NewEngine(eventRepo, metricsRepo, distlock.New(nil, db), 2*time.Minute)
		result, err := engine.Replay(ctx, *tenantID, *campaignID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: rebuild: %v\n", err)
			os.Exit(1)
		}
		printJSON(result)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
