package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshos/config"
	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/printer"
	"github.com/hupe1980/meshos/model"
	"github.com/hupe1980/meshos/store/sqlite"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func run(args ...string) (string, string, error) {
	root := NewRootCmd("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// writeConfig creates a sqlite-backed config so state survives across
// command invocations.
func writeConfig(t *testing.T, workspace string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fusion.json"), []byte(`{"streams":1200}`), 0o644))

	cfg := `version: "1"
store:
  backend: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "mesh.db") + `
log:
  level: error
sources:
  fusion: fusion.json
`
	if workspace != "" {
		cfg += "workspace: " + workspace + "\n"
	}
	path := filepath.Join(dir, "meshos.yml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestNewRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd("1.2.3")
	assert.Equal(t, "1.2.3", root.Version)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"agents", "guardrails", "recommendations", "cycle", "history", "messages", "summary", "drift", "negotiations"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("workspace"))
	assert.NotNil(t, root.PersistentFlags().Lookup("metrics-addr"))
}

func TestAgents(t *testing.T) {
	cfg := writeConfig(t, "ws1")

	out, _, err := run("-c", cfg, "agents", "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "Registry holds 7 agents")

	out, _, err = run("-c", cfg, "agents", "list", "--type", "guardian")
	require.NoError(t, err)
	assert.Contains(t, out, "guardian")
	assert.NotContains(t, out, "strategist")

	out, _, err = run("-c", cfg, "agents", "compatible", "creative")
	require.NoError(t, err)
	assert.Contains(t, out, "strategist")
	assert.Contains(t, out, "producer")
	assert.NotContains(t, out, "guardian")

	_, errOut, err := run("-c", cfg, "agents", "compatible", "ghost")
	require.Error(t, err)
	assert.True(t, printer.IsReported(err))
	assert.Contains(t, errOut, "meshctl agents seed")

	_, _, err = run("-c", cfg, "agents", "list", "--type", "wizard")
	assert.Error(t, err)
}

func TestGuardrailsCheck(t *testing.T) {
	dir := t.TempDir()
	pass := filepath.Join(dir, "pass.json")
	fail := filepath.Join(dir, "fail.json")
	require.NoError(t, os.WriteFile(pass, []byte(`{"type":"suggest_pitch","target_system":"campaigns","priority":"high","payload":{}}`), 0o644))
	require.NoError(t, os.WriteFile(fail, []byte(`{"type":"send_email_batch","target_system":"campaigns","priority":"low","binding":true}`), 0o644))

	out, _, err := run("guardrails", "check", pass)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ suggest_pitch for campaigns passes all guardrails")
	assert.Contains(t, out, "! missing_reasoning")

	out, _, err = run("guardrails", "check", fail)
	require.Error(t, err)
	assert.Contains(t, out, "✗ binding_action")
	assert.Contains(t, out, "✗ email_dispatch")

	_, _, err = run("guardrails", "check", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCycleRecommendationsAndHistory(t *testing.T) {
	cfg := writeConfig(t, "ws1")

	mock := model.NewMockModel("mock", "mock")
	mock.SetFallback(`{
		"opportunities": [{"type": "playlist", "source": "fusion", "confidence": 0.9, "description": "stream spike"}],
		"recommendations": [
			{"type": "suggest_pitch", "target_system": "campaigns", "priority": "high", "description": "pitch radio", "reasoning": "spike", "source_agent": "strategist"},
			{"type": "send_email_blast", "target_system": "campaigns", "priority": "low"}
		],
		"reasoning": "fusion shows a spike"
	}`)
	orig := newModel
	newModel = func(config.OracleConfig) (model.Model, error) { return mock, nil }
	t.Cleanup(func() { newModel = orig })

	out, _, err := run("-c", cfg, "cycle", "run", "--type", "opportunity")
	require.NoError(t, err)
	assert.Contains(t, out, "→ Running opportunity cycle for ws1")
	assert.Contains(t, out, "1 opportunities, 0 conflicts")
	assert.Contains(t, out, "suggest_pitch -> campaigns")
	assert.Contains(t, out, "✗ send_email_blast -> campaigns")
	assert.Contains(t, mock.Requests()[0].Messages[0].Text, `"streams": 1200`)

	out, _, err = run("-c", cfg, "recommendations", "list", "--target", "campaigns")
	require.NoError(t, err)
	key := regexp.MustCompile(`recommendation:campaigns:\d+`).FindString(out)
	require.NotEmpty(t, key, out)
	assert.Contains(t, out, "strategist")

	out, _, err = run("-c", cfg, "recommendations", "ack", key, "accepted")
	require.NoError(t, err)
	assert.Contains(t, out, key+" accepted")

	out, _, err = run("-c", cfg, "recommendations", "list", "--target", "campaigns")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending recommendations for campaigns.")

	_, _, err = run("-c", cfg, "recommendations", "ack", "recommendation:campaigns:1", "accepted")
	assert.True(t, printer.IsReported(err))

	out, _, err = run("-c", cfg, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "opportunity")
	assert.Contains(t, out, "fusion shows a spike")

	out, _, err = run("-c", cfg, "messages", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "recommendation")
	assert.Contains(t, out, "strategist -> *")
}

func TestCycleWithoutOracleFails(t *testing.T) {
	cfg := writeConfig(t, "ws1")
	_, _, err := run("-c", cfg, "cycle", "run")
	assert.Error(t, err)

	_, _, err = run("-c", cfg, "cycle", "run", "--type", "weekly")
	assert.Error(t, err)
}

func TestWorkspaceRequired(t *testing.T) {
	cfg := writeConfig(t, "")

	_, errOut, err := run("-c", cfg, "history")
	require.Error(t, err)
	assert.True(t, printer.IsReported(err))
	assert.Contains(t, errOut, "No workspace selected")

	out, _, err := run("-c", cfg, "-w", "ws2", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No reasoning cycles recorded.")
}

func TestMessagesWatchRequiresRedis(t *testing.T) {
	cfg := writeConfig(t, "ws1")
	_, errOut, err := run("-c", cfg, "messages", "watch")
	require.Error(t, err)
	assert.Contains(t, errOut, "Watching requires the redis backend")
}

func TestOpenMesh_ServesMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Addr = "127.0.0.1:0"
	cmd := &cobra.Command{}
	cmd.SetErr(io.Discard)
	cmd.SetContext(withSettings(context.Background(), &settings{cfg: cfg, workspace: "ws1"}))

	env, err := openMesh(cmd)
	require.NoError(t, err)
	defer func() { _ = env.Close() }()
	require.NotEmpty(t, env.metricsAddr)

	env.Guard.Check(core.Action{Type: "launch_campaign", TargetSystem: core.TargetCampaigns})

	resp, err := http.Get("http://" + env.metricsAddr + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `meshos_guardrail_violations_total{rule="campaign_execution"} 1`)
}

func TestOpenMesh_MetricsWithoutEndpoint(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(withSettings(context.Background(), &settings{cfg: config.Default(), workspace: "ws1"}))

	env, err := openMesh(cmd)
	require.NoError(t, err)
	defer func() { _ = env.Close() }()
	assert.Empty(t, env.metricsAddr)

	env.Guard.Check(core.Action{Type: "send_email", TargetSystem: core.TargetCampaigns})
	families, err := env.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestSummaryAndDrift(t *testing.T) {
	cfg := writeConfig(t, "ws1")

	out, _, err := run("-c", cfg, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "No reasoning cycles in the last 24h0m0s.")

	out, _, err = run("-c", cfg, "drift")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ No contradictions")

	mock := model.NewMockModel("mock", "mock")
	mock.SetFallback(`{
		"opportunities": [{"type": "playlist", "source": "fusion", "confidence": 0.8, "description": "stream spike"}],
		"conflicts": [
			{"type": "release_timing", "agents": ["strategist", "creative"], "severity": "high"},
			{"type": "budget", "agents": ["producer", "creative"], "severity": "low"}
		],
		"reasoning": "timing disagreement"
	}`)
	orig := newModel
	newModel = func(config.OracleConfig) (model.Model, error) { return mock, nil }
	t.Cleanup(func() { newModel = orig })

	_, _, err = run("-c", cfg, "cycle", "run", "--type", "conflict")
	require.NoError(t, err)

	out, _, err = run("-c", cfg, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "→ 1 cycles in the last 24h0m0s")
	assert.Contains(t, out, "1 opportunities, 2 conflicts, 0 recommendations")
	assert.Contains(t, out, "! 1 critical issues")
	assert.Contains(t, out, "stream spike")

	out, _, err = run("-c", cfg, "drift", "--since", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "→ 2 contradictions, 1 high severity links")
	assert.Contains(t, out, "creative <-> strategist  1  high  [release_timing]")
	assert.Contains(t, out, "creative <-> producer  1  low  [budget]")

	_, _, err = run("-c", cfg, "summary", "--since", "0s")
	assert.Error(t, err)
}

func TestNegotiationsList(t *testing.T) {
	cfg := writeConfig(t, "ws1")

	out, _, err := run("-c", cfg, "negotiations", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No negotiations.")

	st, err := sqlite.Open(filepath.Join(filepath.Dir(cfg), "mesh.db"))
	require.NoError(t, err)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, n := range []core.Negotiation{
		{ID: "neg-1", TeamID: "team-a", WorkspaceID: "ws1", Topic: "release_timing", Status: core.NegotiationConverged,
			Outcome: json.RawMessage(`{"release":"friday"}`), CreatedAt: at,
			Conversation: []core.Turn{{Agent: "strategist", Message: "opening position", Timestamp: at}}},
		{ID: "neg-2", TeamID: "team-b", WorkspaceID: "ws1", Topic: "budget", Status: core.NegotiationEscalated, CreatedAt: at.Add(time.Hour)},
		{ID: "neg-3", TeamID: "team-c", WorkspaceID: "ws2", Topic: "tour", Status: core.NegotiationInProgress, CreatedAt: at.Add(2 * time.Hour)},
	} {
		require.NoError(t, st.CreateNegotiation(context.Background(), n))
	}
	require.NoError(t, st.Close())

	out, _, err = run("-c", cfg, "negotiations", "list")
	require.NoError(t, err)
	assert.Regexp(t, `(?s)! neg-2\s+escalated\s+budget.*✓ neg-1\s+converged\s+release_timing\s+1 turns`, out)
	assert.Contains(t, out, `outcome {"release":"friday"}`)
	assert.NotContains(t, out, "neg-3")

	out, _, err = run("-c", cfg, "negotiations", "list", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "neg-2")
	assert.NotContains(t, out, "neg-1")

	out, _, err = run("-c", cfg, "negotiations", "list", "--team", "team-a")
	require.NoError(t, err)
	assert.Contains(t, out, "neg-1")
	assert.NotContains(t, out, "neg-2")
}
