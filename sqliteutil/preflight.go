// Package sqliteutil guards SQLite opens against corrupt or wedged database
// files left behind by unclean shutdowns.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PreflightResult reports the outcome of a SQLite preflight check.
type PreflightResult struct {
	Healthy        bool   // No issues detected; safe to proceed.
	Quarantined    bool   // The database was renamed to avoid startup stalls.
	QuarantinePath string // Path of the quarantined database (main file only).
	Elapsed        time.Duration
}

// Preflight runs a bounded WAL checkpoint + quick_check before the main open
// path. On error it renames the database and its sidecars to a timestamped
// quarantine path so startup can continue with a fresh file; on timeout it
// fails instead, since renaming a file another process holds open solves
// nothing.
func Preflight(path, role string, timeout time.Duration, logf func(string, ...any)) (PreflightResult, error) {
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	start := time.Now().UTC()
	res := PreflightResult{}

	if strings.TrimSpace(path) == "" {
		return res, errors.New("preflight: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, fmt.Errorf("preflight: ensure dir: %w", err)
	}
	existing := collectExisting(path)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return res, fmt.Errorf("preflight: open %s db: %w", role, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return res, fmt.Errorf("preflight: set busy_timeout %s: %w", role, err)
	}

	_, checkpointErr := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)")
	checkErr := quickCheck(ctx, db)
	res.Elapsed = time.Since(start)

	if checkpointErr == nil && checkErr == nil {
		res.Healthy = true
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("preflight: %s db timed out after %s", role, timeout)
	}

	_ = db.Close()
	quarantinePath, quarantineErr := quarantine(path, existing)
	if quarantineErr != nil {
		return res, fmt.Errorf("preflight: %s db quarantine failed: %w (checkpoint=%v, quick_check=%v)",
			role, quarantineErr, checkpointErr, checkErr)
	}
	res.Quarantined = true
	res.QuarantinePath = quarantinePath
	if checkpointErr != nil {
		logf("%s db preflight: checkpoint failed (%v); quarantined to %s", role, checkpointErr, quarantinePath)
	} else {
		logf("%s db preflight: quick_check failed (%v); quarantined to %s", role, checkErr, quarantinePath)
	}
	return res, nil
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		if scanErr := rows.Scan(&status); scanErr != nil {
			return scanErr
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

// collectExisting lists the database and its sidecars that are present now,
// so quarantine renames the same set the check saw.
func collectExisting(path string) []string {
	targets := []string{path, path + "-wal", path + "-shm", path + "-journal"}
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if _, err := os.Stat(t); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func quarantine(path string, existing []string) (string, error) {
	ts := time.Now().UTC().Format("20060102T150405Z")
	for _, p := range existing {
		if _, err := os.Stat(p); err != nil {
			// Sidecars can disappear after a checkpoint attempt.
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := os.Rename(p, p+".bad-"+ts); err != nil {
			return "", err
		}
	}
	return path + ".bad-" + ts, nil
}
