// Command auditexport dumps the audit trail to an XLSX workbook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"healthcare-portal/internal/auditexport"
	"healthcare-portal/internal/config"
	"healthcare-portal/internal/logging"
	"healthcare-portal/internal/store"
)

func main() {
	out := flag.String("o", "audit.xlsx", "output file")
	since := flag.String("since", "", "only entries at or after this RFC3339 time")
	limit := flag.Int("limit", 0, "maximum rows, 0 for all")
	flag.Parse()

	cfg := config.Load()
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, "auditexport")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	opts := auditexport.Options{Limit: *limit}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			log.Fatal("bad -since", zap.Error(err))
		}
		opts.Since = t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db", zap.Error(err))
	}
	defer pool.Close()

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal("create output", zap.Error(err))
	}
	n, err := auditexport.Export(ctx, store.New(pool), f, opts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(*out)
		log.Fatal("export", zap.Error(err))
	}
	fmt.Printf("wrote %d entries to %s\n", n, *out)
}
