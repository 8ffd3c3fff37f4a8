package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

const reportDir = "reports"

// MetricSpec is one extracted report metric: a label and the JMESPath
// expression that computes it over the run data.
type MetricSpec struct {
	Label string
	Expr  string
}

// defaultMetricSpecs cover the summary every engine produces.
var defaultMetricSpecs = []MetricSpec{
	{Label: "Total checks", Expr: "summary.total"},
	{Label: "Passed", Expr: "summary.passed"},
	{Label: "Failed", Expr: "summary.failed"},
	{Label: "Duration (ms)", Expr: "summary.duration_ms"},
	{Label: "Failing checks", Expr: "details[?status=='failed'].name"},
	{Label: "Slowest check (ms)", Expr: "max(details[].latency_ms)"},
}

// ReportServiceOptions groups dependencies for ReportService.
type ReportServiceOptions struct {
	Store  core.ArtifactStore
	Logger *slog.Logger
	// Metrics overrides the default extraction set.
	Metrics []MetricSpec
}

// ReportService renders an HTML report artifact from a fully materialized
// execution. Implements core.ReportGenerator.
type ReportService struct {
	store   core.ArtifactStore
	logger  *slog.Logger
	metrics []MetricSpec
}

// NewReportService constructs a ReportService. Metric expressions are
// compiled eagerly so a bad expression fails at wiring time, not per run.
func NewReportService(opts ReportServiceOptions) (*ReportService, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "report_service")
	}
	specs := opts.Metrics
	if len(specs) == 0 {
		specs = defaultMetricSpecs
	}
	for _, spec := range specs {
		if _, err := jmespath.Compile(spec.Expr); err != nil {
			return nil, fmt.Errorf("compile metric %q: %w", spec.Label, err)
		}
	}
	return &ReportService{store: opts.Store, logger: logger, metrics: specs}, nil
}

// Generate renders the report and stores it, returning the artifact path.
func (s *ReportService) Generate(ctx context.Context, detail *model.TestRunDetail) (string, error) {
	if detail == nil || detail.Run == nil {
		return "", fmt.Errorf("report requires a materialized run")
	}

	data, err := runData(detail)
	if err != nil {
		return "", err
	}

	metrics := make([]reportMetric, 0, len(s.metrics))
	for _, spec := range s.metrics {
		value, evalErr := jmespath.Search(spec.Expr, data)
		if evalErr != nil {
			s.logger.WarnContext(ctx, "metric extraction failed",
				"run_id", detail.Run.ID,
				"metric", spec.Label,
				"error", evalErr,
			)
			continue
		}
		metrics = append(metrics, reportMetric{Label: spec.Label, Value: formatMetric(value)})
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, reportPage{
		ProjectName: detail.ProjectName,
		Run:         detail.Run,
		Metrics:     metrics,
		Details:     detail.Details,
	}); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	name := fmt.Sprintf("run-%d-%s.html", detail.Run.ID, uuid.NewString())
	path, err := s.store.Save(ctx, reportDir, name, &buf)
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	return path, nil
}

// runData decodes the run's JSON blobs into the document metrics are
// extracted from.
func runData(detail *model.TestRunDetail) (map[string]any, error) {
	var summary any
	if len(detail.Summary) > 0 {
		if err := json.Unmarshal(detail.Summary, &summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}

	rows, err := json.Marshal(detail.Details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	var details any
	if err := json.Unmarshal(rows, &details); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}

	var raw any
	if len(detail.RawResult) > 0 {
		// Raw output is engine-specific; an undecodable blob just limits
		// which expressions resolve.
		_ = json.Unmarshal(detail.RawResult, &raw)
	}

	return map[string]any{
		"project": detail.ProjectName,
		"summary": summary,
		"details": details,
		"raw":     raw,
	}, nil
}

type reportMetric struct {
	Label string
	Value string
}

type reportPage struct {
	ProjectName string
	Run         *model.TestRun
	Metrics     []reportMetric
	Details     []model.TestRunResult
}

func formatMetric(value any) string {
	switch v := value.(type) {
	case nil:
		return "-"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		if len(v) == 0 {
			return "none"
		}
		out := ""
		for i, item := range v {
			if i > 0 {
				out += ", "
			}
			out += fmt.Sprint(item)
		}
		return out
	default:
		return fmt.Sprint(v)
	}
}

var reportTemplate = template.Must(template.New("report").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Test report: {{.ProjectName}} run {{.Run.ID}}</title></head>
<body>
<h1>{{.ProjectName}}: run {{.Run.ID}} ({{.Run.Subtype}})</h1>
<p>Status: <strong>{{.Run.Status}}</strong></p>
<h2>Metrics</h2>
<table border="1" cellpadding="4">
{{range .Metrics}}<tr><td>{{.Label}}</td><td>{{.Value}}</td></tr>
{{end}}</table>
<h2>Results</h2>
<table border="1" cellpadding="4">
<tr><th>Name</th><th>Status</th><th>Latency (ms)</th><th>Code</th><th>Error</th></tr>
{{range .Details}}<tr>
<td>{{.Name}}</td>
<td>{{.Status}}</td>
<td>{{if .LatencyMS}}{{.LatencyMS}}{{else}}-{{end}}</td>
<td>{{if .ResponseCode}}{{.ResponseCode}}{{else}}-{{end}}</td>
<td>{{if .ErrorText}}{{.ErrorText}}{{else}}-{{end}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))
