package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"classjudge/internal/cli/casefile"
	httpclient "classjudge/internal/cli/http"
	"classjudge/internal/judge/sandbox"
	"classjudge/internal/judge/sandbox/config"
	"classjudge/internal/judge/sandbox/engine"
	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/sandbox/runner"
	"classjudge/internal/judge/sandbox/workspace"
	"classjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

func main() {
	casesPath := flag.String("cases", "", "Path to YAML test case file")
	srcPath := flag.String("src", "", "Path to the source file")
	lang := flag.String("lang", "", "Language id (overrides the case file)")
	server := flag.String("server", "", "Judge service base URL; empty runs locally")
	pack := flag.String("pack", "", "Data pack holding the case files (remote runs only)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	workRoot := flag.String("work-root", filepath.Join(os.TempDir(), "classjudge"), "Workspace root for local runs")
	pretty := flag.Bool("pretty", false, "Pretty print JSON report")
	verbose := flag.Bool("v", false, "Log progress to stderr")
	flag.Parse()

	os.Exit(run(*casesPath, *srcPath, *lang, *server, *pack, *workRoot, *timeout, *pretty, *verbose))
}

func run(casesPath, srcPath, lang, server, pack, workRoot string, timeout time.Duration, pretty, verbose bool) int {
	if casesPath == "" || srcPath == "" {
		fmt.Fprintln(os.Stderr, "usage: judge-cli -cases cases.yaml -src Main.py [-lang python] [-server URL [-pack ID]]")
		return 2
	}
	if pack != "" && server == "" {
		fmt.Fprintln(os.Stderr, "-pack requires -server")
		return 2
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Level: level, Format: "console", OutputPath: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 2
	}
	defer func() {
		_ = logger.Sync()
	}()

	cases, err := casefile.Load(casesPath, server == "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if lang != "" {
		cases.Language = lang
	}
	source, err := os.ReadFile(srcPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read source failed: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var report result.Report
	if server != "" {
		report, err = runRemote(ctx, server, pack, timeout, cases, string(source))
	} else {
		report, err = runLocal(ctx, workRoot, cases, string(source))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "encode report failed: %v\n", err)
		return 1
	}
	if report.AllPassed == nil || !*report.AllPassed {
		return 1
	}
	return 0
}

func runLocal(ctx context.Context, workRoot string, cases casefile.File, source string) (result.Report, error) {
	eng, err := engine.NewEngine(engine.Config{})
	if err != nil {
		return result.Report{}, fmt.Errorf("init engine failed: %w", err)
	}
	repo := config.NewLocalRepository(nil, nil)
	worker := sandbox.NewWorker(runner.NewRunner(eng), repo, repo, workspace.NewProvisioner(workRoot))
	res, err := worker.Evaluate(ctx, sandbox.EvaluateRequest{
		LanguageID: cases.Language,
		SourceText: source,
		TestCases:  cases.TestCases,
		Trial:      true,
	})
	if err != nil {
		// The report still carries the generic message.
		logger.Error(ctx, "local evaluation failed", zap.Error(err))
	}
	return res.Report(), nil
}

func runRemote(ctx context.Context, server, pack string, timeout time.Duration, cases casefile.File, source string) (result.Report, error) {
	client := httpclient.New(server, timeout)
	resp, err := client.Run(ctx, httpclient.RunRequest{
		Language:  cases.Language,
		Source:    source,
		TestCases: cases.TestCases,
		Trial:     true,
		DataPack:  pack,
	})
	if err != nil {
		return result.Report{}, err
	}
	logger.Debug(ctx, "remote run finished", zap.String("submission_id", resp.SubmissionID))
	return resp.Report, nil
}
