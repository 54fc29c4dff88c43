package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/poiesic/grundgraph"
	"github.com/poiesic/grundgraph/core"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Process a DocBook file into the vector and graph stores, printing progress",
		ArgsUsage: "<file>",
		Flags: append(processingFlags(),
			&cli.BoolFlag{
				Name:  "no-graph",
				Usage: "Store vectors only",
			},
		),
		Action: ingestAction,
	}
}

func ingestAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one file argument")
	}
	path, err := filepath.Abs(c.Args().First())
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	opts, err := processingOptions(c, cfg.Processing)
	if err != nil {
		return err
	}
	if c.Bool("no-graph") {
		opts.CreateGraph = false
	}

	svc, err := openService(c, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	job, err := svc.Pipeline().StartProcessing(c.Context, path, opts)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Job %s started for %s\n", job.ID, job.Filename)
	return followJob(c, svc, job.ID)
}

// followJob prints progress until the job ends. Interrupting leaves the job
// resumable for the next run.
func followJob(c *cli.Context, svc *grundgraph.Service, jobID string) error {
	out := c.App.Writer
	updates, err := svc.Pipeline().Subscribe(c.Context, jobID)
	if err != nil {
		return err
	}
	printer := newProgressPrinter(out)
	for u := range updates {
		printer.print(u)
	}
	printer.done()
	if err := c.Context.Err(); err != nil {
		fmt.Fprintf(out, "Interrupted; resume with: grundgraph jobs resume %s\n", jobID)
		return err
	}

	job, err := svc.Pipeline().Wait(c.Context, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case core.JobCompleted:
		fmt.Fprintf(out, "Job %s completed: %d chunks, document %s\n", job.ID, job.CompletedChunks, job.DocumentID)
		return nil
	case core.JobFailed:
		return fmt.Errorf("job %s failed: %s", job.ID, job.ErrorMessage)
	default:
		fmt.Fprintf(out, "Job %s is %s\n", job.ID, job.Status)
		return nil
	}
}

// progressPrinter redraws a single status line on terminals and prints one
// line per update everywhere else.
type progressPrinter struct {
	out   io.Writer
	live  bool
	width int
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, live: isTerminal(out)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *progressPrinter) print(u core.ProgressUpdate) {
	if u.Stage == core.StageKeepalive {
		return
	}
	line := fmt.Sprintf("[%-15s] %5.1f%% %s", u.Stage, u.Progress*100, u.Message)
	if !p.live {
		fmt.Fprintln(p.out, line)
		return
	}
	// pad over the remains of a longer previous line
	pad := max(p.width-len(line), 0)
	p.width = len(line)
	fmt.Fprintf(p.out, "\r%s%s", line, strings.Repeat(" ", pad))
	if u.Stage.IsTerminal() {
		p.done()
	}
}

// done ends a live status line.
func (p *progressPrinter) done() {
	if p.live && p.width > 0 {
		fmt.Fprintln(p.out)
		p.width = 0
	}
}

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect and manage processing jobs",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all jobs, newest first",
				Action: jobsListAction(false),
			},
			{
				Name:   "resumable",
				Usage:  "List jobs interrupted by a restart",
				Action: jobsListAction(true),
			},
			{
				Name:      "show",
				Usage:     "Show one job",
				ArgsUsage: "<job id>",
				Action:    withJob(jobsShow),
			},
			{
				Name:      "resume",
				Usage:     "Resume a failed or interrupted job and follow its progress",
				ArgsUsage: "<job id>",
				Action:    withJob(jobsResume),
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a job",
				ArgsUsage: "<job id>",
				Action:    withJob(jobsCancel),
			},
			{
				Name:      "delete",
				Usage:     "Delete a job and its checkpoints",
				ArgsUsage: "<job id>",
				Action:    withJob(jobsDelete),
			},
			{
				Name:   "cleanup",
				Usage:  "Delete finished jobs older than the retention period",
				Action: jobsCleanupAction,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "retention-days",
						Usage: "Override the configured retention",
					},
				},
			},
		},
	}
}

func jobsListAction(resumableOnly bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		svc, err := openService(c, cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		var jobs []*core.JobRecord
		if resumableOnly {
			jobs, err = svc.Pipeline().ResumableJobs(c.Context)
		} else {
			jobs, err = svc.Pipeline().ListJobs(c.Context)
		}
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(c.App.Writer, "No jobs")
			return nil
		}
		printJobs(c.App.Writer, jobs)
		return nil
	}
}

func printJobs(w io.Writer, jobs []*core.JobRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tCHUNKS\tFILE\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%d/%d\t%s\t%s\n",
			j.ID, j.Status, j.Progress*100, j.CompletedChunks, j.TotalChunks, j.Filename,
			j.CreatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

// withJob opens the service and hands the single job ID argument to fn.
func withJob(fn func(c *cli.Context, svc *grundgraph.Service, jobID string) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() != 1 {
			return errors.New("expected exactly one job id argument")
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		svc, err := openService(c, cfg)
		if err != nil {
			return err
		}
		defer svc.Close()
		return fn(c, svc, c.Args().First())
	}
}

func jobsShow(c *cli.Context, svc *grundgraph.Service, jobID string) error {
	job, err := svc.Pipeline().GetJob(c.Context, jobID)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "ID:          %s\n", job.ID)
	fmt.Fprintf(w, "Type:        %s\n", job.Type)
	fmt.Fprintf(w, "Status:      %s\n", job.Status)
	fmt.Fprintf(w, "File:        %s\n", job.FilePath)
	if job.DocumentID != "" {
		fmt.Fprintf(w, "Document:    %s\n", job.DocumentID)
	}
	fmt.Fprintf(w, "Progress:    %.1f%% (%d/%d chunks)\n", job.Progress*100, job.CompletedChunks, job.TotalChunks)
	fmt.Fprintf(w, "Collection:  %s\n", job.Options.CollectionName)
	fmt.Fprintf(w, "Created:     %s\n", job.CreatedAt.Local().Format(time.DateTime))
	if !job.StartedAt.IsZero() {
		fmt.Fprintf(w, "Started:     %s\n", job.StartedAt.Local().Format(time.DateTime))
	}
	if !job.CompletedAt.IsZero() {
		fmt.Fprintf(w, "Finished:    %s\n", job.CompletedAt.Local().Format(time.DateTime))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:       %s\n", job.ErrorMessage)
	}
	return nil
}

func jobsResume(c *cli.Context, svc *grundgraph.Service, jobID string) error {
	job, err := svc.Pipeline().Resume(c.Context, jobID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Resuming job %s at %d/%d chunks\n", job.ID, job.CompletedChunks, job.TotalChunks)
	return followJob(c, svc, job.ID)
}

func jobsCancel(c *cli.Context, svc *grundgraph.Service, jobID string) error {
	job, err := svc.Pipeline().Cancel(c.Context, jobID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Job %s cancelled at %d/%d chunks\n", job.ID, job.CompletedChunks, job.TotalChunks)
	return nil
}

func jobsDelete(c *cli.Context, svc *grundgraph.Service, jobID string) error {
	if err := svc.Pipeline().DeleteJob(c.Context, jobID); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Job %s deleted\n", jobID)
	return nil
}

func jobsCleanupAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("retention-days") {
		cfg.Jobs.RetentionDays = c.Int("retention-days")
	}
	// Open already applies the retention policy.
	svc, err := openService(c, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	fmt.Fprintf(c.App.Writer, "Removed %d jobs finished more than %d days ago\n", svc.Expired(), cfg.Jobs.RetentionDays)
	return nil
}
