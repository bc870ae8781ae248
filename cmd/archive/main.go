package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/taxibcn/reten/internal/archive"
	"github.com/taxibcn/reten/internal/ledger"
)

// CLI flags
var (
	dsn         = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
	bucket      = flag.String("bucket", os.Getenv("ARCHIVE_S3_BUCKET"), "Destination bucket (default: env ARCHIVE_S3_BUCKET)")
	prefix      = flag.String("prefix", "presence", "Object key prefix")
	region      = flag.String("region", os.Getenv("ARCHIVE_S3_REGION"), "S3 region (default: env ARCHIVE_S3_REGION, then us-east-1)")
	endpoint    = flag.String("endpoint", os.Getenv("ARCHIVE_S3_ENDPOINT"), "S3-compatible endpoint, e.g. MinIO")
	pathStyle   = flag.Bool("path-style", false, "Use path-style bucket addressing")
	olderThan   = flag.Duration("older-than", 30*24*time.Hour, "Archive records closed before this age (rounded down to a UTC day)")
	dryRun      = flag.Bool("dry-run", false, "List what would be archived; no uploads or deletes")
	confirm     = flag.Bool("confirm", false, "Required to upload and delete")
	advisoryKey = flag.Int64("advisory-lock", 0, "Optional Postgres advisory lock key. 0 = disabled")
)

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()
	if *dsn == "" {
		fatalf("--dsn not provided and DATABASE_URL not set")
	}
	if *bucket == "" && !*dryRun {
		fatalf("--bucket is required")
	}
	if *olderThan < 24*time.Hour {
		fatalf("--older-than must be at least 24h")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		fatalf("ping: %v", err)
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		fatalf("begin tx: %v", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op if already committed
	}()

	// Optional advisory lock to avoid concurrent runs
	if *advisoryKey != 0 {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, *advisoryKey); err != nil {
			fatalf("advisory lock: %v", err)
		}
	}

	cutoff := archive.Cutoff(time.Now(), *olderThan)
	recs, err := loadClosed(ctx, tx, cutoff)
	if err != nil {
		fatalf("load records: %v", err)
	}
	batches, err := archive.Batches(*prefix, recs)
	if err != nil {
		fatalf("batch records: %v", err)
	}

	fmt.Printf("Found %d closed records before %s in %d daily objects\n", len(recs), cutoff.Format(time.RFC3339), len(batches))
	for _, b := range batches {
		fmt.Printf("  %s  records=%d bytes=%d\n", b.Key, len(b.IDs), len(b.Body))
	}

	if *dryRun || len(recs) == 0 {
		fmt.Println("Nothing changed.")
		return
	}
	if !*confirm {
		fatalf("Refusing to run without --confirm. Add --dry-run to preview.")
	}

	client, err := archive.NewS3Client(ctx, archive.S3Config{
		Bucket:          *bucket,
		Region:          *region,
		Endpoint:        *endpoint,
		AccessKeyID:     os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY"),
		PathStyle:       *pathStyle,
	})
	if err != nil {
		fatalf("s3 client: %v", err)
	}
	if err := archive.Upload(ctx, client, *bucket, batches); err != nil {
		fatalf("upload: %v", err)
	}

	ids := make([]string, 0, len(recs))
	for _, b := range batches {
		ids = append(ids, b.IDs...)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM reten.presence_records WHERE id = ANY($1)`, ids)
	if err != nil {
		fatalf("delete archived: %v", err)
	}
	if n, _ := res.RowsAffected(); n != int64(len(ids)) {
		fatalf("delete archived: removed %d rows, expected %d", n, len(ids))
	}

	if err := tx.Commit(); err != nil {
		fatalf("commit: %v", err)
	}
	fmt.Printf("Archived and removed %d records.\n", len(ids))
}

func loadClosed(ctx context.Context, tx *sql.Tx, cutoff time.Time) ([]ledger.PresenceRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, device_id, zone, entered_at, exited_at, latitude, longitude
		FROM reten.presence_records
		WHERE exited_at IS NOT NULL AND exited_at < $1
		ORDER BY exited_at
		FOR UPDATE
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.PresenceRecord
	for rows.Next() {
		var (
			rec    ledger.PresenceRecord
			exited time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Zone, &rec.EnteredAt, &exited, &rec.Latitude, &rec.Longitude); err != nil {
			return nil, err
		}
		rec.ExitedAt = &exited
		out = append(out, rec)
	}
	return out, rows.Err()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
