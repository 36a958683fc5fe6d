package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/driftwatch/driftwatch/pkg/adapter"
	"github.com/driftwatch/driftwatch/pkg/client"
	"github.com/driftwatch/driftwatch/pkg/config"
	"github.com/driftwatch/driftwatch/pkg/coordinator"
	"github.com/driftwatch/driftwatch/pkg/detect"
	"github.com/driftwatch/driftwatch/pkg/sysinfo"
)

var (
	runProject    string
	runBranch     string
	runTestbed    string
	runFormat     string
	runRunID      string
	runGitHash    string
	runPR         int
	runDryRun     bool
	runInputFile  string
	runFlamegraph string
)

// githubPRRef matches pull request refs like refs/pull/123/merge.
var githubPRRef = regexp.MustCompile(`^refs/pull/(\d+)/`)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command>",
	Short: "Run a benchmark command and submit its output",
	Long: `Run a benchmark command, parse its output locally, and submit
it to the server for storage and regression detection. Alternatively
read previously captured output with --file.

Branch, git hash, and PR number are auto-detected from the local git
checkout and CI environment when not given explicitly.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runProject, "project", "",
		"project slug (required)")
	runCmd.Flags().StringVar(&runBranch, "branch", "",
		"branch name (default: current git branch)")
	runCmd.Flags().StringVar(&runTestbed, "testbed", "",
		"testbed name (default: derived from this machine)")
	runCmd.Flags().StringVar(&runFormat, "format", "",
		"benchmark output format (default: server default)")
	runCmd.Flags().StringVar(&runRunID, "run-id", "",
		"run identifier (default: server-generated)")
	runCmd.Flags().StringVar(&runGitHash, "git-hash", "",
		"git commit hash (default: git rev-parse HEAD)")
	runCmd.Flags().IntVar(&runPR, "pr", 0,
		"pull request number (default: detected from GITHUB_REF)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false,
		"parse and print measurements without submitting")
	runCmd.Flags().StringVar(&runInputFile, "file", "",
		"read benchmark output from a file instead of running a command")
	runCmd.Flags().StringVar(&runFlamegraph, "flamegraph", "",
		"flamegraph file to upload alongside the report")

	_ = runCmd.MarkFlagRequired("project")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	raw, err := captureOutput(ctx, args)
	if err != nil {
		return err
	}

	format := runFormat
	if format == "" {
		format = config.DefaultFormat
	}

	// Parse locally first so a malformed run fails before it reaches
	// the server.
	adapters := adapter.DefaultSet()

	a, ok := adapters.Get(format)
	if !ok {
		return fmt.Errorf("unknown format %q (supported: %s)",
			format, strings.Join(adapters.Formats(), ", "))
	}

	measurements, err := a.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing benchmark output: %w", err)
	}

	if len(measurements) == 0 {
		return fmt.Errorf("no measurements found in benchmark output")
	}

	fmt.Printf("Parsed %d measurement(s):\n", len(measurements))

	for _, m := range measurements {
		fmt.Printf("  %-40s %-18s %14.4f %s\n",
			m.Benchmark, m.Measure, m.Value, m.Unit)
	}

	if runDryRun {
		log.Info("Dry run, not submitting")

		return nil
	}

	auth, err := loadAuth()
	if err != nil {
		return err
	}

	if auth.Server == "" {
		return fmt.Errorf(
			"not logged in (run `driftwatch auth login` or set DRIFTWATCH_SERVER)",
		)
	}

	identity := resolveIdentity(ctx)

	c := client.New(auth.Server, auth.Token)

	result, err := c.SubmitReport(ctx, runProject, client.SubmitReportRequest{
		Branch:   identity.branch,
		Testbed:  identity.testbed,
		RunID:    runRunID,
		GitHash:  identity.gitHash,
		PRNumber: identity.prNumber,
		Format:   runFormat,
		Raw:      string(raw),
	})
	if err != nil {
		return fmt.Errorf("submitting report: %w", err)
	}

	printResult(result)

	if runFlamegraph != "" {
		if err := uploadFlamegraph(
			ctx, c, result.RunID, runFlamegraph,
		); err != nil {
			return err
		}
	}

	if result.Status == detect.StatusRegression {
		return fmt.Errorf("performance regression detected")
	}

	return nil
}

// captureOutput either reads the input file or runs the benchmark
// command, teeing its output through so the user still sees it live.
func captureOutput(ctx context.Context, args []string) ([]byte, error) {
	if runInputFile != "" {
		raw, err := os.ReadFile(runInputFile)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", runInputFile, err)
		}

		return raw, nil
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("benchmark command or --file is required")
	}

	command := strings.Join(args, " ")
	log.WithField("command", command).Info("Running benchmark")

	var buf bytes.Buffer

	execCmd := exec.CommandContext(ctx, "sh", "-c", command)
	execCmd.Stdout = io.MultiWriter(os.Stdout, &buf)
	execCmd.Stderr = io.MultiWriter(os.Stderr, &buf)

	if err := execCmd.Run(); err != nil {
		return nil, fmt.Errorf("benchmark command failed: %w", err)
	}

	return buf.Bytes(), nil
}

type runIdentity struct {
	branch   string
	testbed  string
	gitHash  string
	prNumber *int
}

// resolveIdentity fills identity fields from flags, the local git
// checkout, the CI environment, and the machine, in that order.
func resolveIdentity(ctx context.Context) runIdentity {
	identity := runIdentity{
		branch:  runBranch,
		testbed: runTestbed,
		gitHash: runGitHash,
	}

	if identity.gitHash == "" {
		identity.gitHash = gitOutput(ctx, "rev-parse", "HEAD")
	}

	if identity.branch == "" {
		branch := gitOutput(ctx, "rev-parse", "--abbrev-ref", "HEAD")
		if branch != "HEAD" {
			identity.branch = branch
		}
	}

	if runPR > 0 {
		identity.prNumber = &runPR
	} else if ref := os.Getenv("GITHUB_REF"); ref != "" {
		if m := githubPRRef.FindStringSubmatch(ref); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				identity.prNumber = &n
			}
		}
	}

	if identity.testbed == "" {
		info := sysinfo.Collect(ctx)
		identity.testbed = info.TestbedName()

		log.WithField("testbed", info.String()).
			Debug("Using machine-derived testbed")
	}

	return identity
}

// gitOutput runs a git command and returns its trimmed output, or the
// empty string when git is unavailable or not in a repository.
func gitOutput(ctx context.Context, args ...string) string {
	out, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(out))
}

func printResult(result *coordinator.SubmitResult) {
	fmt.Printf("\nRun %s: %s\n", result.RunID, result.Status)

	for _, r := range result.Results {
		marker := " "

		switch r.Verdict.Status {
		case detect.StatusRegression:
			marker = "!"
		case detect.StatusImprovement:
			marker = "+"
		case detect.StatusNoBaseline:
			marker = "?"
		}

		baseline := "no baseline"
		if r.Verdict.Status != detect.StatusNoBaseline {
			baseline = fmt.Sprintf("%+.2f%% vs baseline %.4f (n=%d)",
				r.Verdict.PercentChange,
				r.Verdict.BaselineMean,
				r.Verdict.Samples)
		}

		fmt.Printf("%s %-40s %-18s %14.4f  %s\n",
			marker, r.Benchmark, r.Measure, r.Value, baseline)
	}
}

func uploadFlamegraph(
	ctx context.Context, c *client.Client, runID, path string,
) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	log.WithField("file", path).
		WithField("size", units.BytesSize(float64(info.Size()))).
		Info("Uploading flamegraph")

	artifact, err := c.UploadArtifact(ctx, runProject, runID, path)
	if err != nil {
		return fmt.Errorf("uploading flamegraph: %w", err)
	}

	log.WithField("path", artifact.StoragePath).Info("Flamegraph uploaded")

	return nil
}
