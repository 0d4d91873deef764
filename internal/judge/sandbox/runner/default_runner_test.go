package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"classjudge/internal/judge/sandbox/profile"
	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/sandbox/spec"
	"classjudge/internal/judge/sandbox/workspace"
)

type fakeEngine struct {
	mu    sync.Mutex
	specs []spec.RunSpec
	run   func(rs spec.RunSpec) (result.RunResult, error)
}

func (f *fakeEngine) Run(ctx context.Context, rs spec.RunSpec) (result.RunResult, error) {
	f.mu.Lock()
	f.specs = append(f.specs, rs)
	f.mu.Unlock()
	if f.run == nil {
		return result.RunResult{}, nil
	}
	return f.run(rs)
}

func (f *fakeEngine) calls() []spec.RunSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spec.RunSpec(nil), f.specs...)
}

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.NewProvisioner(t.TempDir()).Provision(context.Background(), "sub")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	return ws
}

func langC() profile.LanguageSpec {
	return profile.LanguageSpec{
		ID:             "c",
		SourceFile:     "main.c",
		BinaryFile:     "main.out",
		CompileEnabled: true,
		CompileCmdTpl:  "gcc {src} -o {bin}",
		RunCmdTpl:      "{bin}",
	}
}

func runProfile() profile.TaskProfile {
	return profile.TaskProfile{
		TaskType:      profile.TaskTypeRun,
		DefaultLimits: spec.ResourceLimit{WallTimeMs: 1000, OutputBytes: 1024},
	}
}

func TestCompileSuccessBuildsRunCommand(t *testing.T) {
	eng := &fakeEngine{}
	r := NewRunner(eng)
	ws := newWorkspace(t)

	res, err := r.Compile(context.Background(), CompileRequest{Workspace: ws, Language: langC(), SourceText: "int main(){}"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected compile ok, got %+v", res)
	}
	if len(res.Cmd) != 1 || res.Cmd[0] != filepath.Join(ws.Dir, "main.out") {
		t.Fatalf("unexpected run cmd %v", res.Cmd)
	}
	calls := eng.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one compile call, got %d", len(calls))
	}
	want := []string{"gcc", filepath.Join(ws.Dir, "main.c"), "-o", filepath.Join(ws.Dir, "main.out")}
	if strings.Join(calls[0].Cmd, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected compile cmd %v", calls[0].Cmd)
	}
	src, err := os.ReadFile(filepath.Join(ws.Dir, "main.c"))
	if err != nil || string(src) != "int main(){}" {
		t.Fatalf("source not written: %q %v", src, err)
	}
}

func TestCompileWithoutCompileStep(t *testing.T) {
	eng := &fakeEngine{}
	lang := profile.LanguageSpec{ID: "sh", SourceFile: "main.sh", RunCmdTpl: "sh {src}"}
	res, err := NewRunner(eng).Compile(context.Background(), CompileRequest{Workspace: newWorkspace(t), Language: lang})
	if err != nil || !res.OK {
		t.Fatalf("expected ok, got %+v %v", res, err)
	}
	if len(eng.calls()) != 0 {
		t.Fatalf("engine must not run without a compile step")
	}
}

func TestCompileFailureScrubsWorkspacePath(t *testing.T) {
	ws := newWorkspace(t)
	eng := &fakeEngine{run: func(rs spec.RunSpec) (result.RunResult, error) {
		msg := filepath.Join(ws.Dir, "main.c") + ":1:1: error: expected ';'"
		return result.RunResult{ExitCode: 1, Stderr: []byte(msg)}, nil
	}}
	res, err := NewRunner(eng).Compile(context.Background(), CompileRequest{Workspace: ws, Language: langC()})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if res.OK {
		t.Fatalf("expected compile failure")
	}
	if strings.Contains(res.Error, ws.Dir) {
		t.Fatalf("diagnostic leaks workspace path: %q", res.Error)
	}
	if !strings.Contains(res.Error, "main.c:1:1: error") {
		t.Fatalf("diagnostic lost compiler text: %q", res.Error)
	}
}

func TestCompileFailureFallsBackToStdout(t *testing.T) {
	eng := &fakeEngine{run: func(rs spec.RunSpec) (result.RunResult, error) {
		return result.RunResult{ExitCode: 2, Stdout: []byte("syntax error")}, nil
	}}
	res, _ := NewRunner(eng).Compile(context.Background(), CompileRequest{Workspace: newWorkspace(t), Language: langC()})
	if res.OK || res.Error != "syntax error" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCompileStartFailureIsCompileError(t *testing.T) {
	eng := &fakeEngine{run: func(rs spec.RunSpec) (result.RunResult, error) {
		return result.RunResult{ExitCode: -1}, errors.New("exec: \"gcc\": executable file not found in $PATH")
	}}
	res, err := NewRunner(eng).Compile(context.Background(), CompileRequest{Workspace: newWorkspace(t), Language: langC()})
	if err != nil {
		t.Fatalf("start failure must not be a system error: %v", err)
	}
	if res.OK || !strings.Contains(res.Error, "executable file not found") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCompileTimeout(t *testing.T) {
	eng := &fakeEngine{run: func(rs spec.RunSpec) (result.RunResult, error) {
		return result.RunResult{ExitCode: -1, TimedOut: true}, nil
	}}
	res, _ := NewRunner(eng).Compile(context.Background(), CompileRequest{Workspace: newWorkspace(t), Language: langC()})
	if res.OK || res.Error != compileTimeoutMessage {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCompileRejectsMissingWorkspace(t *testing.T) {
	if _, err := NewRunner(&fakeEngine{}).Compile(context.Background(), CompileRequest{Language: langC()}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRunTextCase(t *testing.T) {
	tests := []struct {
		name     string
		stdout   string
		res      result.RunResult
		expected string
		passed   bool
		reason   result.FailureReason
	}{
		{name: "pass with trailing whitespace", stdout: "3\n\n", expected: "3", passed: true},
		{name: "wrong answer", stdout: "4\n", expected: "3", reason: result.ReasonWrongAnswer},
		{name: "runtime error", stdout: "3", res: result.RunResult{ExitCode: 139}, expected: "3", reason: result.ReasonRuntimeError},
		{name: "timeout", res: result.RunResult{ExitCode: -1, TimedOut: true}, expected: "3", reason: result.ReasonTimeLimitExceeded},
		{name: "output limit", res: result.RunResult{ExitCode: -1, OutputLimitExceeded: true}, expected: "3", reason: result.ReasonOutputLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{run: func(rs spec.RunSpec) (result.RunResult, error) {
				res := tt.res
				res.Stdout = []byte(tt.stdout)
				return res, nil
			}}
			verdict, err := NewRunner(eng).Run(context.Background(), RunRequest{
				Index:     2,
				Workspace: newWorkspace(t),
				Language:  langC(),
				Profile:   runProfile(),
				Cmd:       []string{"./main.out"},
				TestCase:  spec.TestCase{Kind: spec.KindText, Input: "1 2\n", ExpectedOutput: tt.expected},
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if verdict.Index != 2 || verdict.Passed != tt.passed || verdict.FailureReason != tt.reason {
				t.Fatalf("unexpected verdict %+v", verdict)
			}
			if verdict.ActualOutput != tt.stdout {
				t.Fatalf("actual output %q, want %q", verdict.ActualOutput, tt.stdout)
			}
			if tt.reason == result.ReasonWrongAnswer && verdict.Diff == "" {
				t.Fatalf("wrong answer must carry a diff")
			}
			if got := string(eng.calls()[0].Stdin); got != "1 2\n" {
				t.Fatalf("stdin not forwarded: %q", got)
			}
		})
	}
}

func TestRunAppliesTimeMultiplier(t *testing.T) {
	eng := &fakeEngine{}
	lang := langC()
	lang.TimeMultiplier = 2.5
	_, err := NewRunner(eng).Run(context.Background(), RunRequest{
		Workspace: newWorkspace(t),
		Language:  lang,
		Profile:   runProfile(),
		Cmd:       []string{"x"},
		TestCase:  spec.TestCase{Kind: spec.KindText},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := eng.calls()[0].Limits.WallTimeMs; got != 2500 {
		t.Fatalf("expected scaled wall time 2500, got %d", got)
	}
}

func TestRunRedirectedFileCase(t *testing.T) {
	dataDir := t.TempDir()
	inputPath := filepath.Join(dataDir, "in.txt")
	expectedPath := filepath.Join(dataDir, "out.txt")
	if err := os.WriteFile(inputPath, []byte("5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(expectedPath, []byte("25\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name   string
		output string
		passed bool
	}{
		{name: "exact bytes pass", output: "25\n", passed: true},
		{name: "trailing whitespace is significant", output: "25", passed: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ws := newWorkspace(t)
			var stdoutPath string
			eng := &fakeEngine{run: func(rs spec.RunSpec) (result.RunResult, error) {
				stdoutPath = rs.StdoutPath
				if rs.StdinPath != inputPath {
					t.Errorf("stdin path %q, want %q", rs.StdinPath, inputPath)
				}
				return result.RunResult{}, os.WriteFile(rs.StdoutPath, []byte(tc.output), 0o644)
			}}
			verdict, err := NewRunner(eng).Run(context.Background(), RunRequest{
				Workspace: ws,
				Language:  langC(),
				Profile:   runProfile(),
				Cmd:       []string{"x"},
				TestCase:  spec.TestCase{Kind: spec.KindFile, InputPath: inputPath, ExpectedOutputPath: expectedPath},
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if verdict.Passed != tc.passed {
				t.Fatalf("unexpected verdict %+v", verdict)
			}
			if !tc.passed && verdict.FailureReason != result.ReasonWrongAnswer {
				t.Fatalf("expected wrong answer, got %+v", verdict)
			}
			if !strings.HasPrefix(stdoutPath, ws.Dir) {
				t.Fatalf("temp output %q outside workspace", stdoutPath)
			}
			if _, err := os.Stat(stdoutPath); !os.IsNotExist(err) {
				t.Fatalf("temp output file was not removed: %v", err)
			}
		})
	}
}

func TestRunNamedOutputCase(t *testing.T) {
	ws := newWorkspace(t)
	if _, err := ws.WriteFile("result.txt", []byte("stale\n")); err != nil {
		t.Fatal(err)
	}
	eng := &fakeEngine{run: func(rs spec.RunSpec) (result.RunResult, error) {
		if _, err := os.Stat(filepath.Join(rs.WorkDir, "result.txt")); !os.IsNotExist(err) {
			t.Errorf("stale output must be removed before the run")
		}
		data, _ := os.ReadFile(filepath.Join(rs.WorkDir, "data.in"))
		return result.RunResult{}, os.WriteFile(filepath.Join(rs.WorkDir, "result.txt"), append(data, ' ', '\n'), 0o644)
	}}
	verdict, err := NewRunner(eng).Run(context.Background(), RunRequest{
		Workspace: ws,
		Language:  langC(),
		Profile:   runProfile(),
		Cmd:       []string{"x"},
		TestCase: spec.TestCase{
			Kind:           spec.KindFile,
			Input:          "hello",
			InputFileName:  "data.in",
			OutputFileName: "result.txt",
			ExpectedOutput: "hello",
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !verdict.Passed {
		t.Fatalf("expected pass, got %+v", verdict)
	}
}

func TestRunNamedOutputMissingFileIsEmpty(t *testing.T) {
	eng := &fakeEngine{}
	verdict, err := NewRunner(eng).Run(context.Background(), RunRequest{
		Workspace: newWorkspace(t),
		Language:  langC(),
		Profile:   runProfile(),
		Cmd:       []string{"x"},
		TestCase:  spec.TestCase{Kind: spec.KindFile, ExpectedOutput: "something"},
	})
	if err != nil {
		t.Fatalf("missing output file must not be a system error: %v", err)
	}
	if verdict.Passed || verdict.FailureReason != result.ReasonWrongAnswer || verdict.ActualOutput != "" {
		t.Fatalf("unexpected verdict %+v", verdict)
	}

	verdict, err = NewRunner(eng).Run(context.Background(), RunRequest{
		Workspace: newWorkspace(t),
		Language:  langC(),
		Profile:   runProfile(),
		Cmd:       []string{"x"},
		TestCase:  spec.TestCase{Kind: spec.KindFile, ExpectedOutput: "  \n"},
	})
	if err != nil || !verdict.Passed {
		t.Fatalf("blank expectation should match a missing file: %+v %v", verdict, err)
	}
}

func TestRunRejectsUnknownKind(t *testing.T) {
	_, err := NewRunner(&fakeEngine{}).Run(context.Background(), RunRequest{
		Workspace: newWorkspace(t),
		Cmd:       []string{"x"},
		TestCase:  spec.TestCase{Kind: "binary"},
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestBuildCommandKeepsSpacedPathsIntact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "with space")
	ws := &workspace.Workspace{Dir: dir}
	cmd, err := buildCommand("java -cp {workdir} Main", profile.LanguageSpec{}, ws)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(cmd) != 4 || cmd[2] != dir {
		t.Fatalf("unexpected argv %q", cmd)
	}
	if _, err := buildCommand("  ", profile.LanguageSpec{}, ws); err == nil {
		t.Fatalf("expected error for empty template")
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := strings.Repeat("é", 10)
	out := truncate(s, 5)
	if !strings.HasSuffix(out, "(truncated)") || !strings.HasPrefix(out, "éé") {
		t.Fatalf("unexpected truncation %q", out)
	}
	if truncate("short", 10) != "short" {
		t.Fatalf("short strings must pass through")
	}
}

func namedOutputRequest(ws *workspace.Workspace, output, expected string) RunRequest {
	return RunRequest{
		Workspace: ws,
		Language:  langC(),
		Profile:   runProfile(),
		Cmd:       []string{"x"},
		TestCase:  spec.TestCase{Kind: spec.KindFile, OutputFileName: output, ExpectedOutput: expected},
	}
}

func TestRunNamedOutputReplacesStaleDirectory(t *testing.T) {
	ws := newWorkspace(t)
	if _, err := ws.WriteFile("result.txt/sub/x", []byte("x")); err != nil {
		t.Fatal(err)
	}
	eng := &fakeEngine{run: func(rs spec.RunSpec) (result.RunResult, error) {
		return result.RunResult{}, os.WriteFile(filepath.Join(rs.WorkDir, "result.txt"), []byte("ok\n"), 0o644)
	}}
	verdict, err := NewRunner(eng).Run(context.Background(), namedOutputRequest(ws, "result.txt", "ok"))
	if err != nil {
		t.Fatalf("a directory at the output name must not be a system error: %v", err)
	}
	if !verdict.Passed {
		t.Fatalf("expected pass, got %+v", verdict)
	}
}

func TestRunNamedOutputUnremovableStaleFileFailsCase(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	ws := newWorkspace(t)
	if _, err := ws.WriteFile("locked/result.txt", []byte("stale")); err != nil {
		t.Fatal(err)
	}
	locked := filepath.Join(ws.Dir, "locked")
	if err := os.Chmod(locked, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	eng := &fakeEngine{}
	verdict, err := NewRunner(eng).Run(context.Background(), namedOutputRequest(ws, "locked/result.txt", "stale"))
	if err != nil {
		t.Fatalf("expected a failed case, got error %v", err)
	}
	if verdict.Passed || verdict.FailureReason != result.ReasonRuntimeError {
		t.Fatalf("unexpected verdict %+v", verdict)
	}
	if len(eng.calls()) != 0 {
		t.Fatalf("program must not run over a stale output")
	}
}

func TestRunNamedOutputIsBounded(t *testing.T) {
	ws := newWorkspace(t)
	eng := &fakeEngine{run: func(rs spec.RunSpec) (result.RunResult, error) {
		big := strings.Repeat("y", int(rs.Limits.OutputBytes)*4)
		return result.RunResult{}, os.WriteFile(filepath.Join(rs.WorkDir, "output.txt"), []byte(big), 0o644)
	}}
	verdict, err := NewRunner(eng).Run(context.Background(), namedOutputRequest(ws, "", "y"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if verdict.Passed || verdict.FailureReason != result.ReasonOutputLimitExceeded {
		t.Fatalf("expected output limit, got %+v", verdict)
	}
	if len(verdict.ActualOutput) > int(runProfile().DefaultLimits.OutputBytes) {
		t.Fatalf("preview holds %d bytes, more than the limit", len(verdict.ActualOutput))
	}
}

func TestRunNamedOutputIgnoresSymlinks(t *testing.T) {
	ws := newWorkspace(t)
	secret := filepath.Join(t.TempDir(), "expected.txt")
	if err := os.WriteFile(secret, []byte("answer\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	eng := &fakeEngine{run: func(rs spec.RunSpec) (result.RunResult, error) {
		return result.RunResult{}, os.Symlink(secret, filepath.Join(rs.WorkDir, "output.txt"))
	}}
	verdict, err := NewRunner(eng).Run(context.Background(), namedOutputRequest(ws, "", "answer"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if verdict.Passed || verdict.ActualOutput != "" {
		t.Fatalf("a symlinked output must read as empty, got %+v", verdict)
	}
}
