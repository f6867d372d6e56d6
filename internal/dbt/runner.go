// Package dbt runs "dbt build" for the models that consume the observation
// tables, so a pipeline can rebuild them right after a scrape lands.
package dbt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	DefaultBinary = "dbt"
	// OutputLimit caps stdout and stderr to their last OutputLimit characters.
	OutputLimit = 20000
)

var (
	ErrNoSelection   = errors.New("provide either 'intent' or 'select'")
	ErrUnknownIntent = errors.New("unknown intent")
	ErrInvalidToken  = errors.New("invalid token")
)

// Intents maps a pipeline step to the selectors rebuilt after it.
var Intents = map[string][]string{
	"after_srp":    {"stg_srp_observations+"},
	"after_detail": {"stg_detail_observations+", "stg_detail_carousel_hints+"},
}

var safeToken = regexp.MustCompile(`^[A-Za-z0-9_:+.@/-]+$`)

// Tokens accepts either a single string or a list of strings.
type Tokens []string

func (t *Tokens) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*t = Tokens{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected a string or a list of strings: %w", err)
	}
	*t = many
	return nil
}

type BuildRequest struct {
	Intent      string `json:"intent"`
	Select      Tokens `json:"select"`
	Exclude     Tokens `json:"exclude"`
	FullRefresh bool   `json:"full_refresh"`
	FailFast    *bool  `json:"fail_fast"`
}

type BuildResult struct {
	OK         bool     `json:"ok"`
	ReturnCode int      `json:"returncode"`
	Intent     *string  `json:"intent"`
	Select     []string `json:"select"`
	Exclude    []string `json:"exclude"`
	Cmd        string   `json:"cmd"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
}

// IsValidation reports whether err was caused by the request itself.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoSelection) || errors.Is(err, ErrUnknownIntent) || errors.Is(err, ErrInvalidToken)
}

// execFunc runs name with args in dir and returns its output and exit code.
// A non-nil error means the process could not be run at all.
type execFunc func(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, code int, err error)

type Runner struct {
	binary     string
	projectDir string
	logger     *slog.Logger
	exec       execFunc
}

func NewRunner(binary, projectDir string, logger *slog.Logger) *Runner {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Runner{
		binary:     binary,
		projectDir: projectDir,
		logger:     logger.With("component", "dbt"),
		exec:       runCommand,
	}
}

// Command validates req and returns the argument list for dbt.
func Command(req BuildRequest) ([]string, []string, []string, error) {
	sel := []string(req.Select)
	if req.Select == nil {
		if req.Intent == "" {
			return nil, nil, nil, ErrNoSelection
		}
		mapped, ok := Intents[req.Intent]
		if !ok {
			allowed := make([]string, 0, len(Intents))
			for k := range Intents {
				allowed = append(allowed, k)
			}
			sort.Strings(allowed)
			return nil, nil, nil, fmt.Errorf("%w '%s'. Allowed: %s", ErrUnknownIntent, req.Intent, strings.Join(allowed, ", "))
		}
		sel = mapped
	}

	if err := validateTokens(sel, "select"); err != nil {
		return nil, nil, nil, err
	}
	exclude := []string(req.Exclude)
	if err := validateTokens(exclude, "exclude"); err != nil {
		return nil, nil, nil, err
	}

	args := []string{"build"}
	if req.FailFast == nil || *req.FailFast {
		args = append(args, "--fail-fast")
	}
	if req.FullRefresh {
		args = append(args, "--full-refresh")
	}
	args = append(args, "--select")
	args = append(args, sel...)
	if len(exclude) > 0 {
		args = append(args, "--exclude")
		args = append(args, exclude...)
	}
	if exclude == nil {
		exclude = []string{}
	}
	return args, sel, exclude, nil
}

// Build runs dbt build for req. A non-zero exit is reported through
// BuildResult.OK, not as an error.
func (r *Runner) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	args, sel, exclude, err := Command(req)
	if err != nil {
		return nil, err
	}

	cmd := quote(r.binary) + " " + strings.Join(args, " ")
	r.logger.Info("running dbt build", "cmd", cmd, "intent", req.Intent)

	stdout, stderr, code, err := r.exec(ctx, r.projectDir, r.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run dbt: %w", err)
	}

	result := &BuildResult{
		OK:         code == 0,
		ReturnCode: code,
		Select:     sel,
		Exclude:    exclude,
		Cmd:        cmd,
		Stdout:     capTail(stdout, OutputLimit),
		Stderr:     capTail(stderr, OutputLimit),
	}
	if req.Intent != "" {
		intent := req.Intent
		result.Intent = &intent
	}

	if result.OK {
		r.logger.Info("dbt build finished", "intent", req.Intent)
	} else {
		r.logger.Error("dbt build failed", "intent", req.Intent, "returncode", code)
	}
	return result, nil
}

func validateTokens(tokens []string, field string) error {
	for _, t := range tokens {
		if !safeToken.MatchString(t) {
			return fmt.Errorf("%w in %s: '%s'", ErrInvalidToken, field, t)
		}
	}
	return nil
}

// capTail keeps the last limit characters of s.
func capTail(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-limit:])
}

func quote(s string) string {
	if s != "" && safeToken.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func runCommand(ctx context.Context, dir, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return "", "", -1, err
	}
	return stdout.String(), stderr.String(), 0, nil
}
