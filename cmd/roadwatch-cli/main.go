// Command roadwatch-cli re-dispatches a failed incident: the status is reset
// to pending and a fresh job is published to the running worker's broker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"roadwatch/internal/dispatch"
	"roadwatch/internal/incident"
	"roadwatch/internal/pipeline"
	"roadwatch/internal/store"
)

func main() {
	var (
		dbPathF   = flag.String("db", "roadwatch.db", "SQLite database path")
		natsURLF  = flag.String("nats", nats.DefaultURL, "NATS broker URL of the running worker")
		incidentF = flag.String("incident", "", "Incident ID to re-dispatch")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[roadwatch-cli] ", log.Ltime)

	if *incidentF == "" {
		logger.Fatal("-incident is required")
	}

	db, err := store.New(*dbPathF)
	if err != nil {
		logger.Fatalf("failed to open database: %s", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inc, err := db.GetIncident(ctx, *incidentF)
	if err != nil {
		logger.Fatalf("failed to load incident: %s", err)
	}
	if inc == nil {
		logger.Fatalf("incident %s not found", *incidentF)
	}

	switch inc.Status {
	case incident.StatusFailed:
		ok, err := db.SetStatus(ctx, inc.ID, incident.StatusFailed, incident.StatusPending)
		if err != nil {
			logger.Fatalf("failed to reset status: %s", err)
		}
		if !ok {
			logger.Fatalf("incident %s left the failed status, not re-dispatching", inc.ID)
		}
	case incident.StatusPending:
		// Already pending; just publish the job again
	default:
		logger.Fatalf("incident %s is %s, only failed or pending incidents can be re-dispatched",
			inc.ID, inc.Status)
	}

	nc, err := nats.Connect(*natsURLF, nats.Name("roadwatch-cli"))
	if err != nil {
		logger.Fatalf("failed to connect to broker: %s", err)
	}
	defer nc.Close()

	job := pipeline.Job{IncidentID: inc.ID, VideoPath: inc.VideoPath}
	data, err := json.Marshal(job)
	if err != nil {
		logger.Fatalf("failed to marshal job: %s", err)
	}
	if err := nc.Publish(dispatch.SubjectProcess, data); err != nil {
		logger.Fatalf("failed to publish job: %s", err)
	}
	if err := nc.Flush(); err != nil {
		logger.Fatalf("failed to flush: %s", err)
	}

	logger.Printf("incident %s re-dispatched", inc.ID)
}
