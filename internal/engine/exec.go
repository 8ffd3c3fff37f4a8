package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

const (
	defaultPostmanCommand = "newman run {asset} --env-var base_url={base_url} --suppress-exit-code --reporters json --reporter-json-export {output}"
	defaultScriptCommand  = "k6 run {asset} --quiet --summary-export {output}"

	defaultExecTimeout = 15 * time.Minute
	maxStderrBytes     = 8 * 1024
)

// ExecEngine runs CLI-based tests (newman for Postman collections, k6 for
// perf scripts). The command line is a template with {asset}, {base_url}, and
// {output} placeholders, split with shell quoting rules so operators can
// configure flags with embedded spaces.
type ExecEngine struct {
	store    core.ArtifactStore
	commands map[model.TestSubtype]string
	timeout  time.Duration
	clock    data.TimeProvider
	logger   *slog.Logger
	workDir  string
}

// ExecOptions configures an ExecEngine.
type ExecOptions struct {
	Store core.ArtifactStore
	// PostmanCommand and ScriptCommand override the default command templates.
	PostmanCommand string
	ScriptCommand  string
	Timeout        time.Duration
	Clock          data.TimeProvider
	Logger         *slog.Logger
	// WorkDir is where asset and output scratch files are materialized;
	// defaults to the system temp dir.
	WorkDir string
}

// NewExecEngine creates an ExecEngine.
func NewExecEngine(opts ExecOptions) (*ExecEngine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	commands := map[model.TestSubtype]string{
		model.TestSubtypePostman: defaultPostmanCommand,
		model.TestSubtypeScript:  defaultScriptCommand,
	}
	if cmd := strings.TrimSpace(opts.PostmanCommand); cmd != "" {
		commands[model.TestSubtypePostman] = cmd
	}
	if cmd := strings.TrimSpace(opts.ScriptCommand); cmd != "" {
		commands[model.TestSubtypeScript] = cmd
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "exec_engine")
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &ExecEngine{
		store:    opts.Store,
		commands: commands,
		timeout:  timeout,
		clock:    clock,
		logger:   logger,
		workDir:  workDir,
	}, nil
}

// Run materializes the asset to a scratch file, executes the subtype's
// command, and parses its output file into detail rows. A non-zero exit with
// a parseable output file is a test failure; an unparseable output is an
// engine error.
func (e *ExecEngine) Run(ctx context.Context, job *Job) (*Result, error) {
	if job.Asset == nil {
		return nil, fmt.Errorf("%s run requires an asset", job.Run.Subtype)
	}
	template, ok := e.commands[job.Run.Subtype]
	if !ok {
		return nil, fmt.Errorf("no command template for subtype %q", job.Run.Subtype)
	}

	scratch, err := os.MkdirTemp(e.workDir, "perfdeck-run-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	assetPath, err := e.materializeAsset(ctx, scratch, job.Asset)
	if err != nil {
		return nil, err
	}
	outputPath := filepath.Join(scratch, "output.json")

	baseURL := ""
	if job.Project != nil {
		baseURL = job.Project.BaseURL
	}
	argv, err := renderCommand(template, map[string]string{
		"asset":    assetPath,
		"base_url": baseURL,
		"output":   outputPath,
	})
	if err != nil {
		return nil, err
	}

	started := e.clock.Now()
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = scratch
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	finished := e.clock.Now()

	e.logger.InfoContext(ctx, "engine command finished",
		"run_id", job.Run.ID,
		"subtype", job.Run.Subtype,
		"command", argv[0],
		"duration", finished.Sub(started),
		"exit_error", runErr,
	)

	raw, readErr := os.ReadFile(outputPath)
	if readErr != nil {
		// No output at all: the tool never ran to completion.
		if runErr != nil {
			return nil, fmt.Errorf("run %s: %w: %s", argv[0], runErr, stderrTail(&stderr))
		}
		return nil, fmt.Errorf("read %s output: %w", argv[0], readErr)
	}

	details, parseErr := parseExecOutput(job.Run.Subtype, raw, job.Run.ID)
	if parseErr != nil {
		return nil, fmt.Errorf("parse %s output: %w", argv[0], parseErr)
	}

	res := &Result{
		Status:  overallStatus(details),
		Summary: summarize(details, started, finished),
		Details: details,
		Raw:     raw,
	}
	if runErr != nil && res.Status == model.RunStatusPassed {
		// The tool exited non-zero without a failed assertion; surface it.
		res.Status = model.RunStatusFailed
		res.ErrorMessage = fmt.Sprintf("%s exited with error: %v", argv[0], runErr)
	}
	return res, nil
}

func (e *ExecEngine) materializeAsset(ctx context.Context, dir string, asset *model.TestAsset) (string, error) {
	src, err := e.store.Open(ctx, asset.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open asset %s: %w", asset.ID, err)
	}
	defer src.Close()

	path := filepath.Join(dir, filepath.Base(asset.FileName))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create scratch asset: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy asset: %w", err)
	}
	return path, nil
}

// renderCommand substitutes placeholders and splits the result with shell
// quoting rules. Substitution happens per-token after splitting, so values
// containing spaces never change the argv shape.
func renderCommand(template string, values map[string]string) ([]string, error) {
	tokens, err := shellquote.Split(template)
	if err != nil {
		return nil, fmt.Errorf("parse command template: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command template")
	}
	for i, tok := range tokens {
		for key, val := range values {
			tok = strings.ReplaceAll(tok, "{"+key+"}", val)
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func parseExecOutput(subtype model.TestSubtype, raw []byte, runID int64) ([]model.TestRunResult, error) {
	switch subtype {
	case model.TestSubtypePostman:
		return parseNewmanOutput(raw, runID)
	case model.TestSubtypeScript:
		return parseK6Summary(raw, runID)
	default:
		return nil, fmt.Errorf("no parser for subtype %q", subtype)
	}
}

// newmanReport mirrors the slice of newman's JSON reporter output we consume.
type newmanReport struct {
	Run struct {
		Executions []struct {
			Item struct {
				Name string `json:"name"`
			} `json:"item"`
			Response struct {
				Code         int     `json:"code"`
				ResponseTime float64 `json:"responseTime"`
			} `json:"response"`
			Assertions []struct {
				Assertion string `json:"assertion"`
				Error     *struct {
					Message string `json:"message"`
				} `json:"error"`
			} `json:"assertions"`
		} `json:"executions"`
	} `json:"run"`
}

func parseNewmanOutput(raw []byte, runID int64) ([]model.TestRunResult, error) {
	var report newmanReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, err
	}
	if len(report.Run.Executions) == 0 {
		return nil, fmt.Errorf("report has no executions")
	}

	details := make([]model.TestRunResult, 0, len(report.Run.Executions))
	for _, ex := range report.Run.Executions {
		status := model.RunStatusPassed
		var firstFailure *string
		failedAssertions := 0
		for _, a := range ex.Assertions {
			if a.Error != nil {
				failedAssertions++
				if firstFailure == nil {
					msg := a.Assertion + ": " + a.Error.Message
					firstFailure = &msg
				}
			}
		}
		if firstFailure != nil {
			status = model.RunStatusFailed
		}

		latency := ex.Response.ResponseTime
		code := ex.Response.Code
		extra, _ := json.Marshal(map[string]any{
			"assertions":        len(ex.Assertions),
			"failed_assertions": failedAssertions,
		})
		details = append(details, model.TestRunResult{
			RunID:        runID,
			Name:         ex.Item.Name,
			Status:       status,
			LatencyMS:    &latency,
			ResponseCode: &code,
			ErrorText:    firstFailure,
			Extra:        extra,
		})
	}
	return details, nil
}

// k6Summary mirrors the slice of a k6 --summary-export file we consume.
type k6Summary struct {
	Metrics map[string]map[string]float64 `json:"metrics"`
}

func parseK6Summary(raw []byte, runID int64) ([]model.TestRunResult, error) {
	var summary k6Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, err
	}
	if len(summary.Metrics) == 0 {
		return nil, fmt.Errorf("summary has no metrics")
	}

	names := make([]string, 0, len(summary.Metrics))
	for name := range summary.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	details := make([]model.TestRunResult, 0, len(summary.Metrics))
	for _, name := range names {
		values := summary.Metrics[name]
		status := model.RunStatusPassed
		var errText *string
		if fails, ok := values["fails"]; ok && fails > 0 {
			status = model.RunStatusFailed
			msg := fmt.Sprintf("%.0f checks failed", fails)
			errText = &msg
		}

		detail := model.TestRunResult{
			RunID:     runID,
			Name:      name,
			Status:    status,
			ErrorText: errText,
		}
		if avg, ok := values["avg"]; ok {
			latency := avg
			detail.LatencyMS = &latency
		}
		if extra, err := json.Marshal(values); err == nil {
			detail.Extra = extra
		}
		details = append(details, detail)
	}
	return details, nil
}

func stderrTail(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if len(s) > maxStderrBytes {
		s = s[len(s)-maxStderrBytes:]
	}
	return s
}
