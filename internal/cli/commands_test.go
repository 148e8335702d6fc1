package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cdv/internal/engine"
	"github.com/roach88/cdv/internal/fixture"
	"github.com/roach88/cdv/internal/lock"
	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/server"
	"github.com/roach88/cdv/internal/store"
	"github.com/roach88/cdv/internal/testutil"
)

var demoFixture = filepath.Join("..", "fixture", "testdata", "demo.yaml")

// cliHarness runs commands against one temp database with a stepping clock
// and sequential ids shared across invocations.
type cliHarness struct {
	t      *testing.T
	opts   *RootOptions
	db     string
	policy string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	dir := t.TempDir()
	policy := filepath.Join(dir, "policy.cue")
	require.NoError(t, os.WriteFile(policy, []byte(`maturation: "lenient"
public_base_url: "https://cdv.example.org"
`), 0o600))

	return &cliHarness{
		t:      t,
		db:     filepath.Join(dir, "cdv.db"),
		policy: policy,
		opts: &RootOptions{
			Clock: testutil.NewDeterministicClock(testutil.Epoch, time.Second),
			IDs:   testutil.NewSequentialIDGenerator("id"),
		},
	}
}

// run executes the root command and returns stdout and the error.
func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCommand(h.opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", h.db, "--policy", h.policy}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// runJSON runs a command with --format json and decodes the data payload.
func runJSON[T any](h *cliHarness, args ...string) (T, CLIResponse, error) {
	h.t.Helper()
	out, err := h.run(append([]string{"--format", "json"}, args...)...)

	var env struct {
		CLIResponse
		Data T `json:"data"`
	}
	require.NoError(h.t, json.Unmarshal([]byte(out), &env), "output: %s", out)
	env.CLIResponse.Data = env.Data
	return env.Data, env.CLIResponse, err
}

func TestCommands_SeedToValidate(t *testing.T) {
	h := newCLIHarness(t)

	seeded, resp, err := runJSON[fixture.Result](h, "seed", demoFixture)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, seeded.Quotas, 3)
	assert.Equal(t, 4, seeded.Events)
	first := seeded.Quotas[0]
	assert.Equal(t, "EDU-0001", first.Number)

	promoted, _, err := runJSON[jobReport](h, "promote")
	require.NoError(t, err)
	assert.True(t, promoted.Ran)
	assert.Empty(t, promoted.Errors)

	_, err = h.run("reconcile", "--project", "proj-edu")
	require.NoError(t, err)

	_, err = h.run("evaluate", "--now", "2026-08-01T00:00:00Z")
	require.NoError(t, err)

	cert, resp, err := runJSON[model.Certificate](h, "issue", first.ID, "--actor", "ops@example.org")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, first.ID, cert.QuotaID)
	assert.Equal(t, "500", cert.Quantities.Kg.String())
	assert.Equal(t, "ops@example.org", cert.IssuedBy)
	assert.True(t, cert.Valid)

	sum, _, err := runJSON[engine.Summary](h, "validate", cert.ID)
	require.NoError(t, err)
	assert.True(t, sum.Valid)
	assert.Equal(t, engine.ReasonOK, sum.Reason)
	assert.Equal(t, "Acme R. L.", sum.InvestorName)

	// A second issuance of the same quota is refused.
	_, resp, err = runJSON[any](h, "issue", first.ID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ALREADY_CERTIFIED", resp.Error.Code)

	rev, _, err := runJSON[model.Revocation](h, "revoke", cert.ID, "--reason", "issued in error")
	require.NoError(t, err)
	assert.Equal(t, "cli", rev.Actor)

	sum, _, err = runJSON[engine.Summary](h, "validate", cert.ID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, engine.ReasonRevoked, sum.Reason)
}

func TestCommands_ValidateUnknownCertificate(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("validate", "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "NOT_FOUND")
}

func TestCommands_IssueNotReady(t *testing.T) {
	h := newCLIHarness(t)

	seeded, _, err := runJSON[fixture.Result](h, "seed", demoFixture)
	require.NoError(t, err)

	out, err := h.run("issue", seeded.Quotas[0].ID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [NOT_READY]")
}

func TestCommands_SeedIsIdempotent(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("seed", demoFixture)
	require.NoError(t, err)

	again, _, err := runJSON[fixture.Result](h, "seed", demoFixture)
	require.NoError(t, err)
	assert.Empty(t, again.Quotas, "purchases are already topped up")
	assert.Equal(t, 0, again.Events)
	assert.Equal(t, 4, again.Duplicate)
}

func TestCommands_SeedMissingFile(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("seed", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [INVALID_INPUT]")
}

func TestCommands_EmitAndPurchase(t *testing.T) {
	h := newCLIHarness(t)
	_, err := h.run("seed", demoFixture)
	require.NoError(t, err)

	emitted, _, err := runJSON[map[string]any](h, "emit",
		"--type", "residue", "--quantity", "12.5", "--project", "proj-edu",
		"--origin", "ticket-118", "--at", "2026-02-10T08:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, true, emitted["created"])

	again, _, err := runJSON[map[string]any](h, "emit",
		"--type", "residue", "--quantity", "12.5", "--project", "proj-edu",
		"--origin", "ticket-118", "--at", "2026-02-10T08:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, false, again["created"])
	assert.Equal(t, emitted["id"], again["id"])

	out, err := h.run("emit", "--type", "plastic", "--quantity", "1", "--project", "proj-edu", "--origin", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "INVALID_EVENT")

	q, _, err := runJSON[model.Quota](h, "purchase", "--project", "proj-edu", "--investor", "inv-verde", "--date", "2026-02-15")
	require.NoError(t, err)
	assert.Equal(t, "EDU-0004", q.Number)
	assert.Equal(t, model.QuotaActive, q.Status)
	assert.Equal(t, "500", q.Targets.Kg.String())
}

func TestCommands_JobReportsErrors(t *testing.T) {
	h := newCLIHarness(t)
	_, err := h.run("seed", demoFixture)
	require.NoError(t, err)

	// Emission does not check the project; promotion quarantines the event.
	_, err = h.run("emit", "--type", "residue", "--quantity", "1", "--project", "proj-ghost", "--origin", "ghost-1")
	require.NoError(t, err)

	report, _, err := runJSON[jobReport](h, "promote")
	require.NoError(t, err)
	assert.True(t, report.Ran)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "UNKNOWN_PROJECT")

	minted, _, err := runJSON[jobReport](h, "mint-uibs")
	require.NoError(t, err)
	assert.Equal(t, "mint-uibs", minted.Job)
}

func TestCommands_JobSkippedWhileAnotherProcessHoldsLock(t *testing.T) {
	h := newCLIHarness(t)
	ctx := context.Background()

	// A separate handle on the same database stands in for a running cdv serve.
	other, err := store.Open(h.db)
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	lease, ok, err := lock.NewStoreLocker(other).TryLock(ctx, "job:reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, _, err := runJSON[jobReport](h, "reconcile")
	require.NoError(t, err)
	assert.False(t, report.Ran)

	require.NoError(t, lease.Release(ctx))
	report, _, err = runJSON[jobReport](h, "reconcile")
	require.NoError(t, err)
	assert.True(t, report.Ran)
}

func TestCommands_Token(t *testing.T) {
	h := newCLIHarness(t)
	t.Setenv("CDV_HTTP_JWT_SECRET", "cli-secret")
	t.Setenv("CDV_HTTP_JWT_ISSUER", "cdv-cli")

	data, _, err := runJSON[map[string]string](h, "token", "--sub", "acme", "--role", "investor", "--investor", "inv-acme")
	require.NoError(t, err)

	auth, err := server.NewAuthenticator([]byte("cli-secret"), "cdv-cli")
	require.NoError(t, err)
	p, err := auth.Verify(data["token"])
	require.NoError(t, err)
	assert.Equal(t, "acme", p.Subject)
	assert.Equal(t, []string{server.RoleInvestor}, p.Roles)
	assert.Equal(t, "inv-acme", p.InvestorID)

	out, err := h.run("token", "--sub", "acme", "--role", "root")
	require.Error(t, err)
	assert.Contains(t, out, "unknown role")
}

func TestCommands_TokenWithoutSecret(t *testing.T) {
	h := newCLIHarness(t)
	t.Setenv("CDV_HTTP_JWT_SECRET", "")

	out, err := h.run("token", "--sub", "acme", "--role", "admin")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "CDV_HTTP_JWT_SECRET is not set")
}
