package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/identifier"
	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/jobtypes"
	"github.com/ternarybob/purgo/internal/models"
	"github.com/ternarybob/purgo/internal/services/jobs"
	"github.com/ternarybob/purgo/internal/services/scheduler"
	"github.com/ternarybob/purgo/internal/services/sessions"
	"github.com/ternarybob/purgo/internal/storage"
)

// ctl bundles the services the management commands operate on.
type ctl struct {
	repo     interfaces.Repository
	jobs     *jobs.Service
	sessions *sessions.Service
}

// noopQueue satisfies the job service's queue dependency. Management
// commands never schedule work.
type noopQueue struct{}

func (noopQueue) Enqueue(ctx context.Context, job *models.Job) error { return nil }
func (noopQueue) Shutdown(ctx context.Context) error                 { return nil }

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "status":
		err = cmdStatus(os.Args[2:])
	case "tasks":
		err = cmdTasks(os.Args[2:])
	case "diag-err":
		err = cmdDiag(os.Args[2:], "diag-err", models.JobStatusError)
	case "diag-run":
		err = cmdDiag(os.Args[2:], "diag-run", models.JobStatusRunning)
	case "debug":
		err = cmdDebug(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("purgoctl version %s\n", common.GetVersion())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Purgo management utility

Usage: purgoctl <command> [flags]

Commands:
  status     Show job counters (current and total)
  tasks      Run retention: purge settled standalone jobs and sessions
  diag-err   List failed jobs, or inspect one with -j
  diag-run   List running jobs, or inspect one with -j
  debug      Database-level utilities, use with caution

Run 'purgoctl <command> -h' for command flags. The configuration file is
read from $PURGO_CONFIG (default: purgo.toml).
`)
}

// bootstrap connects straight to storage, mirroring the service wiring but
// without the dispatcher: management commands must not compete for jobs.
func bootstrap(ctx context.Context) (*ctl, func(), error) {
	configPath := os.Getenv("PURGO_CONFIG")
	if configPath == "" {
		configPath = "purgo.toml"
	}

	config, err := common.LoadFromFiles(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn") // Keep command output clean

	repo, err := storage.New(ctx, config, common.SystemClock{}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry, err := jobtypes.Build(config, logger)
	if err != nil {
		repo.Close()
		return nil, nil, err
	}

	c := &ctl{
		repo:     repo,
		jobs:     jobs.NewService(repo, noopQueue{}, identifier.NewMagicIdentifier(), registry, logger),
		sessions: sessions.NewService(repo, logger),
	}
	closeFn := func() {
		if err := repo.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
	return c, closeFn, nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	c, closeFn, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := c.jobs.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d jobs in db (C: %d | Q: %d | R: %d | S: %d | E: %d), %d total\n",
		stats.Current, stats.Created, stats.Queued, stats.Running, stats.Success, stats.Error, stats.TotalCreated)
	return nil
}

func cmdTasks(args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ExitOnError)
	jobTTL := fs.Int("job-ttl", 10, "Purge standalone jobs not updated for this many minutes")
	sessionTTL := fs.Int("session-ttl", 1440, "Purge settled sessions not updated for this many minutes")
	quiet := fs.Bool("q", false, "Suppress output of purged counts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	c, closeFn, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	purgedJobs, purgedSessions, err := scheduler.Sweep(ctx, c.jobs, c.sessions,
		time.Duration(*jobTTL)*time.Minute, time.Duration(*sessionTTL)*time.Minute)
	if err != nil {
		return err
	}
	if !*quiet {
		if len(purgedJobs) > 0 {
			fmt.Printf("Purged standalone jobs: %d\n", len(purgedJobs))
		}
		if len(purgedSessions) > 0 {
			fmt.Printf("Purged sessions: %d\n", len(purgedSessions))
		}
	}
	return nil
}

func cmdDiag(args []string, name string, status models.JobStatus) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	jid := fs.String("j", "", "Show details for a specific job")
	saveSrc := fs.Bool("save-src", false, "Write the job's source document to <jid>_src (only with -j)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	c, closeFn, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if *jid == "" {
		list, err := c.jobs.List(ctx, interfaces.JobFilter{Status: []models.JobStatus{status}})
		if err != nil {
			return err
		}
		fmt.Println("jid / type")
		for _, job := range list {
			fmt.Printf("%s / %s\n", job.ID, job.Type)
		}
		return nil
	}
	return diagJobDetails(ctx, c, *jid, *saveSrc)
}

// diagJobDetails prints a job's state and sandbox log. Queued and successful
// jobs are off limits: they don't need diagnosis, and their owners expect
// the service not to look at healthy documents.
func diagJobDetails(ctx context.Context, c *ctl, jid string, saveSrc bool) error {
	job, err := c.jobs.Get(ctx, jid)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusQueued || job.Status == models.JobStatusSuccess {
		return fmt.Errorf("inspection of job %s not possible due to its status %s", jid, job.Status)
	}

	fmt.Printf("jid:    %s\n", job.ID)
	fmt.Printf("status: %s\n", job.Status)
	fmt.Printf("sid:    %s\n", job.SessionID)
	fmt.Println("--- sandbox log ---")
	for _, line := range job.Log {
		fmt.Println(line)
	}

	if saveSrc {
		src, name, err := c.jobs.GetSrc(ctx, jid)
		if err != nil {
			return err
		}
		outPath := jid + "_src"
		if err := os.WriteFile(outPath, src, 0o600); err != nil {
			return fmt.Errorf("failed to write source document: %w", err)
		}
		fmt.Printf("Source document written to %s, original name was %s\n", outPath, name)
	}
	return nil
}

func cmdDebug(args []string) error {
	fs := flag.NewFlagSet("debug", flag.ExitOnError)
	deleteJID := fs.String("delete-jid", "", "Delete a job via its jid, regardless of status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *deleteJID == "" {
		fmt.Println("No debug command specified")
		return nil
	}

	ctx := context.Background()
	c, closeFn, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := c.jobs.ForceDelete(ctx, *deleteJID); err != nil {
		return err
	}
	fmt.Printf("Job %s deleted successfully from the database\n", *deleteJID)
	return nil
}
