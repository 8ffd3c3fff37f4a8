package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/perfdeck/perfdeck/internal/adapters/invoker"
	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

type listSchedulesOptions struct {
	Limit  int
	Offset int
}

func runListSchedules(cmdCtx *commandContext, args []string) error {
	opts, err := parseListScheduleFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	db, redisClient, err := connectInfra(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeInfra(cmdCtx.Logger, db, redisClient)

	repo := data.NewScheduleRepo(db)
	schedules, err := repo.List(ctx, opts.Limit, opts.Offset)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	return printSchedules(os.Stdout, schedules)
}

func printSchedules(w io.Writer, schedules []*model.Schedule) error {
	if len(schedules) == 0 {
		return writeln(w, "no schedules found")
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "ID\tPROJECT\tSUBTYPE\tCRON\tACTIVE\tEMAIL\tLAST RUN"); err != nil {
		return err
	}
	for _, s := range schedules {
		lastRun := "-"
		if s.LastRunAt != nil {
			lastRun = s.LastRunAt.UTC().Format(time.RFC3339)
		}
		email := s.EmailTo
		if email == "" {
			email = "-"
		}
		if err := writef(tw, "%d\t%s\t%s\t%s\t%t\t%s\t%s\n",
			s.ID, s.ProjectID, s.Subtype, s.CronExpression, s.IsActive, email, lastRun); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func parseListScheduleFlags(args []string) (listSchedulesOptions, error) {
	fs := flag.NewFlagSet("list-schedules", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := listSchedulesOptions{Limit: 100}
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum number of schedules to list")
	fs.IntVar(&opts.Offset, "offset", 0, "Number of schedules to skip")

	if err := fs.Parse(args); err != nil {
		return listSchedulesOptions{}, err
	}
	if opts.Limit <= 0 {
		return listSchedulesOptions{}, errors.New("--limit must be greater than zero")
	}
	if opts.Offset < 0 {
		return listSchedulesOptions{}, errors.New("--offset cannot be negative")
	}
	return opts, nil
}

type fireScheduleOptions struct {
	ScheduleID int64
}

// runFireSchedule triggers one execution through the running API server, the
// same way a cron firing would.
func runFireSchedule(cmdCtx *commandContext, args []string) error {
	opts, err := parseFireScheduleFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, cmdCtx.Config.Scheduler.InvokeTimeout)
	defer cancel()

	db, redisClient, err := connectInfra(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeInfra(cmdCtx.Logger, db, redisClient)

	repo := data.NewScheduleRepo(db)
	schedule, err := repo.GetByID(ctx, opts.ScheduleID)
	if err != nil {
		return fmt.Errorf("load schedule %d: %w", opts.ScheduleID, err)
	}

	httpInvoker, err := invoker.New(invoker.Options{
		BaseURL:    cmdCtx.Config.HTTP.BaseURL,
		HTTPClient: &http.Client{Timeout: cmdCtx.Config.Scheduler.InvokeTimeout},
		Logger:     cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	result, err := httpInvoker.Invoke(ctx, schedule)
	if err != nil {
		return fmt.Errorf("invoke schedule %d: %w", opts.ScheduleID, err)
	}

	return writef(os.Stdout, "started run %d for schedule %d\n", result.TestRunID, schedule.ID)
}

func parseFireScheduleFlags(args []string) (fireScheduleOptions, error) {
	fs := flag.NewFlagSet("fire-schedule", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts fireScheduleOptions
	fs.Int64Var(&opts.ScheduleID, "id", 0, "Schedule ID to fire")

	if err := fs.Parse(args); err != nil {
		return fireScheduleOptions{}, err
	}
	if opts.ScheduleID <= 0 {
		return fireScheduleOptions{}, errors.New("--id is required and must be positive")
	}
	return opts, nil
}
