// Package devseed provides idempotent demo data for local development.
package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
	"github.com/perfdeck/perfdeck/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB        *sql.DB
	projects  *service.ProjectService
	schedules *data.ScheduleRepo
}

// NewServices constructs the services required for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	projectService := service.NewProjectService(service.ProjectServiceOptions{
		Repo: data.NewProjectRepo(db),
	})
	return Services{
		DB:        db,
		projects:  projectService,
		schedules: data.NewScheduleRepo(db),
	}
}

type projectSeed struct {
	name        string
	description string
	baseURL     string
	schedules   []scheduleSeed
}

type scheduleSeed struct {
	category model.TestCategory
	subtype  model.TestSubtype
	cron     string
	emailTo  string
	config   string
}

func defaultSeeds() []projectSeed {
	return []projectSeed{
		{
			name:        "demo-checkout-api",
			description: "Demo checkout API monitored with quick probes",
			baseURL:     "https://httpbin.org",
			schedules: []scheduleSeed{
				{
					category: model.TestCategoryAPI,
					subtype:  model.TestSubtypeQuick,
					cron:     "*/30 * * * *",
					config:   `{"requests":[{"name":"health","path":"/status/200"}]}`,
				},
			},
		},
		{
			name:        "demo-latency-watch",
			description: "Demo latency watch with a nightly quick probe",
			baseURL:     "https://httpbin.org",
			schedules: []scheduleSeed{
				{
					category: model.TestCategoryPerf,
					subtype:  model.TestSubtypeQuick,
					cron:     "0 3 * * *",
					emailTo:  "perf@localhost",
					config:   `{"requests":[{"name":"delayed-response","path":"/delay/1","timeout_seconds":10}]}`,
				},
			},
		},
	}
}

// Run executes the development seeding workflow against the provided DB.
// Seeding is idempotent: existing projects are left untouched, including
// any schedule edits made since the last run.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default().With("component", "devseed")
	}

	created := 0
	for _, seed := range defaultSeeds() {
		ok, err := seedProject(ctx, svcs, logger, seed)
		if err != nil {
			return fmt.Errorf("seed project %q: %w", seed.name, err)
		}
		if ok {
			created++
		}
	}

	logger.InfoContext(ctx, "development seeding complete", "projects_created", created)
	return nil
}

// seedProject creates the project and its schedules, returning false when the
// project already exists.
func seedProject(ctx context.Context, svcs Services, logger *slog.Logger, seed projectSeed) (bool, error) {
	desc := seed.description
	project, err := svcs.projects.Create(ctx, &model.CreateProjectRequest{
		Name:        seed.name,
		Description: &desc,
		BaseURL:     seed.baseURL,
	})
	if errors.Is(err, data.ErrProjectNameExists) {
		logger.InfoContext(ctx, "project already seeded", "name", seed.name)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, sched := range seed.schedules {
		req := &model.CreateScheduleRequest{
			UserID:         "devseed",
			ProjectID:      project.ID,
			Category:       sched.category,
			Subtype:        sched.subtype,
			CronExpression: sched.cron,
			EmailTo:        sched.emailTo,
		}
		if sched.config != "" {
			req.Config = json.RawMessage(sched.config)
		}
		if err := req.Validate(); err != nil {
			return false, fmt.Errorf("schedule for %q: %w", seed.name, err)
		}
		if _, err := svcs.schedules.Create(ctx, req); err != nil {
			return false, fmt.Errorf("schedule for %q: %w", seed.name, err)
		}
	}

	logger.InfoContext(ctx, "project seeded",
		"name", seed.name,
		"project_id", project.ID,
		"schedules", len(seed.schedules))
	return true, nil
}
