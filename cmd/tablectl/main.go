package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/johnewart/go-orleans-storage/database"
	"github.com/johnewart/go-orleans-storage/membership"
	membershipstorage "github.com/johnewart/go-orleans-storage/membership/storage"
	"github.com/johnewart/go-orleans-storage/metrics"
	reminderstorage "github.com/johnewart/go-orleans-storage/reminders/storage"
	statestorage "github.com/johnewart/go-orleans-storage/state/storage"
	"zombiezen.com/go/log"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Infof(ctx, "no .env file, using process environment")
	}

	driver := os.Getenv("DATABASE_DRIVER")
	dsn := os.Getenv("DATABASE_URL")
	deploymentID := os.Getenv("DEPLOYMENT_ID")

	command := ""
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	log.Infof(ctx, "tablectl starting up...")
	log.Infof(ctx, "DATABASE_DRIVER: %s", driver)
	log.Infof(ctx, "DATABASE_URL: %s", dsn)
	log.Infof(ctx, "DEPLOYMENT_ID: %s", deploymentID)
	log.Infof(ctx, "command: %s", command)

	var conn *database.Connection
	var err error
	if strings.EqualFold(driver, "sqlite") {
		conn, err = database.OpenSQLite(dsn)
	} else {
		conn, err = database.OpenPostgres(dsn)
	}
	if err != nil {
		log.Errorf(ctx, "unable to connect: %v", err)
		os.Exit(-1)
	}

	switch command {
	case "migrate":
		for name, migrate := range map[string]func(*database.Connection) error{
			"grain state": statestorage.Migrate,
			"membership":  membershipstorage.Migrate,
			"reminders":   reminderstorage.Migrate,
		} {
			if err := migrate(conn); err != nil {
				log.Errorf(ctx, "unable to migrate %s tables: %v", name, err)
				os.Exit(-1)
			}
			log.Infof(ctx, "%s tables ready", name)
		}

	case "snapshot":
		store := mustMembershipStore(ctx, conn)
		entries, version, err := store.ReadAll(ctx, deploymentID)
		if err != nil {
			log.Errorf(ctx, "unable to read cluster snapshot: %v", err)
			os.Exit(-1)
		}
		log.Infof(ctx, "deployment %s at version %d (%d silos)", deploymentID, version.Version, len(entries))
		for _, entry := range entries {
			log.Infof(ctx, "  %s:%d@%d %s proxy=%d alive=%v suspects=%d",
				entry.Address, entry.Port, entry.Generation, entry.Status,
				entry.ProxyPort, entry.LastAliveTime, len(entry.SuspectTimes))
		}

	case "purge":
		store := mustMembershipStore(ctx, conn)
		cutoffHours := 24
		runID := uuid.NewString()
		cutoff := time.Now().UTC().Add(-time.Duration(cutoffHours) * time.Hour)
		purged, err := store.PurgeDefunct(ctx, deploymentID, cutoff)
		if err != nil {
			log.Errorf(ctx, "purge run %s failed: %v", runID, err)
			os.Exit(-1)
		}
		log.Infof(ctx, "purge run %s removed %d defunct silo rows older than %v", runID, purged, cutoff)

	case "teardown":
		store := mustMembershipStore(ctx, conn)
		if err := store.DeleteAll(ctx, deploymentID); err != nil {
			log.Errorf(ctx, "unable to tear down deployment %s: %v", deploymentID, err)
			os.Exit(-1)
		}
		log.Infof(ctx, "deployment %s torn down", deploymentID)

	default:
		log.Errorf(ctx, "usage: tablectl [migrate|snapshot|purge|teardown]")
		os.Exit(-1)
	}
}

func mustMembershipStore(ctx context.Context, conn *database.Connection) membership.Store {
	store, err := membershipstorage.NewRelationalStore(conn, metrics.NewNopRegistry())
	if err != nil {
		log.Errorf(ctx, "membership tables not ready (run tablectl migrate first): %v", err)
		os.Exit(-1)
	}
	return store
}
