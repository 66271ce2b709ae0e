package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolpilot/builtins"
	"github.com/petal-labs/toolpilot/calllog"
	"github.com/petal-labs/toolpilot/config"
	"github.com/petal-labs/toolpilot/tool"
	"github.com/petal-labs/toolpilot/webhook"
)

// testWorkspace holds an isolated config file and database for one test.
type testWorkspace struct {
	configPath string
	dbPath     string
}

func newWorkspace(t *testing.T) testWorkspace {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "toolpilot.yaml")
	if err := os.WriteFile(configPath, []byte("logging:\n  level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return testWorkspace{configPath: configPath, dbPath: filepath.Join(dir, "data", "toolpilot.db")}
}

// run executes the command tree with the workspace flags prepended.
func (w testWorkspace) run(args ...string) (stdout, stderr string, err error) {
	full := append([]string{"--config", w.configPath, "--sqlite-path", w.dbPath}, args...)
	return executeCommand(NewRootCmd(Options{Version: "test"}), full...)
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if err != nil {
		return -1
	}
	return 0
}

func invoke(t *testing.T, w testWorkspace, args ...string) tool.Result {
	t.Helper()
	stdout, _, err := w.run(append([]string{"test"}, args...)...)
	var res tool.Result
	if jsonErr := json.Unmarshal([]byte(stdout), &res); jsonErr != nil {
		t.Fatalf("decode result %q: %v (command error %v)", stdout, jsonErr, err)
	}
	return res
}

func jsonLines(t *testing.T, s string) []calllog.Record {
	t.Helper()
	var out []calllog.Record
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var rec calllog.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

// --- build ---

func TestBuildJSONManifest(t *testing.T) {
	w := newWorkspace(t)
	stdout, _, err := w.run("build")
	if err != nil {
		t.Fatalf("build error = %v", err)
	}
	var entries []tool.ManifestEntry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("manifest is not JSON: %v", err)
	}
	if len(entries) != len(builtins.Names()) || entries[0].Name != "add" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestBuildOpenAPIToFile(t *testing.T) {
	w := newWorkspace(t)
	out := filepath.Join(t.TempDir(), "openapi.json")
	_, stderr, err := w.run("build", "-f", "openapi", "-o", out)
	if err != nil {
		t.Fatalf("build error = %v", err)
	}
	if !strings.Contains(stderr, "Wrote openapi manifest") {
		t.Errorf("stderr = %q", stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"openapi": "3.0.3"`) || !strings.Contains(string(data), "/run/create_expense") {
		t.Fatalf("openapi file = %s", data)
	}
}

func TestBuildRejectsUnknownFormat(t *testing.T) {
	w := newWorkspace(t)
	_, _, err := w.run("build", "-f", "yaml")
	if exitCode(err) != exitConfig {
		t.Fatalf("exit code = %d, want %d (%v)", exitCode(err), exitConfig, err)
	}
}

func TestMissingConfigIsConfigError(t *testing.T) {
	_, _, err := executeCommand(NewRootCmd(Options{}), "--config", filepath.Join(t.TempDir(), "nope.yaml"), "build")
	if exitCode(err) != exitConfig {
		t.Fatalf("exit code = %d, want %d (%v)", exitCode(err), exitConfig, err)
	}
}

// --- test ---

func TestTestDescribesTool(t *testing.T) {
	w := newWorkspace(t)
	stdout, _, err := w.run("test", "create_expense")
	if err != nil {
		t.Fatalf("test error = %v", err)
	}
	for _, want := range []string{"Name:        create_expense", "amount", "required", "api_key", "expenses:write"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
	if _, err := os.Stat(w.dbPath); !os.IsNotExist(err) {
		t.Errorf("describe opened the database: %v", err)
	}
}

func TestTestUnknownTool(t *testing.T) {
	w := newWorkspace(t)
	_, _, err := w.run("test", "nope")
	if exitCode(err) != exitNotFound {
		t.Fatalf("exit code = %d, want %d", exitCode(err), exitNotFound)
	}
}

func TestTestInvokesAndRecords(t *testing.T) {
	w := newWorkspace(t)
	res := invoke(t, w, "add", "--input", "x=2", "--input", "y=3")
	if !res.OK() || res.Output != 5.0 {
		t.Fatalf("result = %+v", res)
	}

	res = invoke(t, w, "create_expense", "--input-json", `{"amount":9.5,"category":"food","description":"Lunch"}`, "--input", "date=2026-05-06")
	if !res.OK() {
		t.Fatalf("create_expense with operator credential = %+v", res)
	}

	stdout, _, err := w.run("logs", "--format", "json")
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	records := jsonLines(t, stdout)
	if len(records) != 2 || records[0].ToolName != "add" || records[1].ToolName != "create_expense" {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Metadata["source"] != cliPrincipal {
		t.Fatalf("metadata = %v", records[0].Metadata)
	}
}

func TestTestInvocationFailureExitCode(t *testing.T) {
	w := newWorkspace(t)
	stdout, _, err := w.run("test", "add", "--input", "x=abc", "--input", "y=1")
	if exitCode(err) != exitInvocation {
		t.Fatalf("exit code = %d, want %d", exitCode(err), exitInvocation)
	}
	if !strings.Contains(stdout, tool.ErrorCodeValidation) {
		t.Fatalf("stdout = %s", stdout)
	}

	_, _, err = w.run("test", "add", "--input", "novalue")
	if exitCode(err) != exitInvocation {
		t.Fatalf("malformed --input exit code = %d", exitCode(err))
	}
}

func TestParseInputs(t *testing.T) {
	got, err := parseInputs(`{"a":1,"b":"x"}`, []string{"b=2", "c=true", "d=hello world", `e={"k":[1]}`})
	if err != nil {
		t.Fatalf("parseInputs() error = %v", err)
	}
	if got["a"] != 1.0 || got["b"] != 2.0 || got["c"] != true || got["d"] != "hello world" {
		t.Fatalf("inputs = %v", got)
	}
	if _, ok := got["e"].(map[string]any); !ok {
		t.Fatalf("e = %T", got["e"])
	}
	if _, err := parseInputs(`[1]`, nil); err == nil {
		t.Fatal("array --input-json accepted")
	}
}

// --- logs / inspect ---

func TestLogsEmptyAndText(t *testing.T) {
	w := newWorkspace(t)
	stdout, _, err := w.run("logs")
	if err != nil || !strings.Contains(stdout, "No logs found") {
		t.Fatalf("logs = %q, %v", stdout, err)
	}

	invoke(t, w, "echo", "--input", "message=hi")
	invoke(t, w, "add", "--input", "x=1", "--input", "y=zz")

	stdout, _, err = w.run("logs", "--tool", "echo")
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	if !strings.Contains(stdout, "✓ echo") || strings.Contains(stdout, "add") {
		t.Fatalf("logs --tool echo = %s", stdout)
	}

	stdout, _, _ = w.run("logs", "--failed")
	if !strings.Contains(stdout, "✗ add") || !strings.Contains(stdout, tool.ErrorCodeValidation) {
		t.Fatalf("logs --failed = %s", stdout)
	}

	if _, _, err := w.run("logs", "--format", "xml"); exitCode(err) != exitConfig {
		t.Fatalf("bad format exit code = %d", exitCode(err))
	}
}

func TestInspect(t *testing.T) {
	w := newWorkspace(t)
	for i := 0; i < 3; i++ {
		invoke(t, w, "echo", "--input", "message=hi")
	}

	stdout, _, err := w.run("inspect", "echo", "--last", "2")
	if err != nil {
		t.Fatalf("inspect error = %v", err)
	}
	if !strings.Contains(stdout, "2 shown, 0 failed") {
		t.Fatalf("inspect = %s", stdout)
	}
	if n := strings.Count(stdout, "ID: "); n != 2 {
		t.Fatalf("inspect showed %d calls, want 2", n)
	}

	stdout, _, err = w.run("inspect", "add")
	if err != nil || !strings.Contains(stdout, "No recent calls") {
		t.Fatalf("inspect add = %q, %v", stdout, err)
	}

	if _, _, err := w.run("inspect", "ghost"); exitCode(err) != exitNotFound {
		t.Fatalf("inspect ghost exit code = %d", exitCode(err))
	}
}

// --- replay ---

func TestReplay(t *testing.T) {
	w := newWorkspace(t)
	original := invoke(t, w, "add", "--input", "x=4", "--input", "y=5")

	stdout, _, err := w.run("replay", original.CallID)
	if err != nil {
		t.Fatalf("replay error = %v", err)
	}
	if !strings.Contains(stdout, "Replayed "+original.CallID) || !strings.Contains(stdout, "Outcome unchanged") {
		t.Fatalf("replay = %s", stdout)
	}

	stdout, _, err = w.run("replay", original.CallID, "--format", "json")
	if err != nil {
		t.Fatalf("replay json error = %v", err)
	}
	var result calllog.ReplayResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if result.Result.Output != 9.0 || result.Original.CallID != original.CallID {
		t.Fatalf("replay result = %+v", result)
	}

	logs, _, _ := w.run("logs", "--format", "json")
	records := jsonLines(t, logs)
	if len(records) != 3 || records[2].Metadata[calllog.ReplayMetadataKey] != original.CallID {
		t.Fatalf("records after replay = %+v", records)
	}

	if _, _, err := w.run("replay", "missing"); exitCode(err) != exitNotFound {
		t.Fatalf("replay missing exit code = %d", exitCode(err))
	}
}

// --- webhook ---

func TestWebhookCommands(t *testing.T) {
	w := newWorkspace(t)

	stdout, _, err := w.run("webhook", "list")
	if err != nil || !strings.Contains(stdout, "No webhooks") {
		t.Fatalf("empty list = %q, %v", stdout, err)
	}

	stdout, _, err = w.run("webhook", "add", "https://example.com/hook", "--tool", "add", "--secret", "s3cret")
	if err != nil {
		t.Fatalf("add error = %v", err)
	}
	fields := strings.Fields(stdout)
	if len(fields) < 3 {
		t.Fatalf("add output = %q", stdout)
	}
	id := fields[2]

	_, stderr, err := w.run("webhook", "add", "https://example.com/other", "--tool", "ghost")
	if err != nil || !strings.Contains(stderr, "not registered") {
		t.Fatalf("add unknown tool = %q, %v", stderr, err)
	}

	stdout, _, _ = w.run("webhook", "list")
	if !strings.Contains(stdout, id) || strings.Contains(stdout, "s3cret") {
		t.Fatalf("list = %s", stdout)
	}

	if _, _, err := w.run("webhook", "add", "not-a-url"); exitCode(err) != exitConfig {
		t.Fatalf("invalid url exit code = %d", exitCode(err))
	}
	if _, _, err := w.run("webhook", "remove", id); err != nil {
		t.Fatalf("remove error = %v", err)
	}
	if _, _, err := w.run("webhook", "remove", id); exitCode(err) != exitNotFound {
		t.Fatalf("second remove exit code = %d", exitCode(err))
	}
}

// --- serve stack ---

func TestBuildStackServesAndDelivers(t *testing.T) {
	delivered := make(chan webhook.Payload, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var p webhook.Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		delivered <- p
		rw.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "stack.db")
	cfg.Webhooks = []config.WebhookConfig{{URL: receiver.URL, Tool: "add"}}
	cfg.Telemetry.Metrics.Enabled = true
	e := &env{
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		register: builtins.Register,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st, err := buildStack(ctx, e, Options{Version: "test"}, stackMode{workers: true})
	if err != nil {
		t.Fatalf("buildStack() error = %v", err)
	}
	defer st.close()
	if st.tools != len(builtins.Names()) {
		t.Fatalf("tools = %d", st.tools)
	}

	rec := httptest.NewRecorder()
	st.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run/add", strings.NewReader(`{"inputs":{"x":1,"y":2}}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", rec.Code, rec.Body)
	}

	select {
	case p := <-delivered:
		if p.Tool != "add" {
			t.Fatalf("payload = %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("configured webhook did not receive the call")
	}

	rec = httptest.NewRecorder()
	st.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/calls?tool=add", nil))
	if !strings.Contains(rec.Body.String(), `"tool_name":"add"`) {
		t.Fatalf("calls = %s", rec.Body)
	}

	rec = httptest.NewRecorder()
	st.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "toolpilot") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestCustomRegisterAndWarnings(t *testing.T) {
	w := newWorkspace(t)
	root := NewRootCmd(Options{Register: func(reg *tool.Registry) error {
		return reg.Register(tool.Definition{
			Name:       "ping",
			OutputType: tool.TypeString,
			Version:    "v1",
		}, func(context.Context, map[string]any) (any, error) { return "pong", nil })
	}})

	stdout, _, err := executeCommand(root, "--config", w.configPath, "--sqlite-path", w.dbPath, "test", "ping")
	if err != nil {
		t.Fatalf("test ping error = %v", err)
	}
	for _, want := range []string{"Warning:     description", "Warning:     version", "(none)"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}

	failing := NewRootCmd(Options{Register: func(reg *tool.Registry) error {
		return reg.Register(tool.Definition{Name: "Bad Name", OutputType: tool.TypeString},
			func(context.Context, map[string]any) (any, error) { return nil, nil })
	}})
	_, _, err = executeCommand(failing, "--config", w.configPath, "build")
	if exitCode(err) != exitConfig {
		t.Fatalf("bad registration exit code = %d, want %d", exitCode(err), exitConfig)
	}
}
