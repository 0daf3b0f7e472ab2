package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/stocktake/internal/authz"
	"github.com/felixgeelhaar/stocktake/internal/clock"
	"github.com/felixgeelhaar/stocktake/internal/config"
	"github.com/felixgeelhaar/stocktake/internal/health"
	"github.com/felixgeelhaar/stocktake/internal/log"
	"github.com/felixgeelhaar/stocktake/internal/version"
)

// runRoot executes the root command with args and resets the flag
// globals afterwards.
func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		configFile, logLevel, logFormat = "", "", ""
		configInitForce = false
		doctorJSON = false
		versionJSON, versionVerbose = false, false
		policyJSON = false
		policyUserTenant, policyTargetTenant = "", ""
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	rootCmd.SetArgs(nil)
	return out.String(), err
}

func decision(t *testing.T, r PolicyReport, a authz.Action) authz.Decision {
	t.Helper()
	for _, d := range r.Decisions {
		if d.Action == a {
			return d
		}
	}
	t.Fatalf("no decision for %s", a)
	return authz.Decision{}
}

func TestBuildPolicyReport(t *testing.T) {
	t.Run("root is a superuser", func(t *testing.T) {
		r := buildPolicyReport(" Root ", "", "GLOBEX", authz.DefaultTimeouts)
		assert.Equal(t, "superuser", r.Canonical)
		assert.True(t, r.Superuser)
		assert.Len(t, r.Decisions, len(authz.Actions))
		for _, d := range r.Decisions {
			assert.True(t, d.Allowed, d.Action)
		}
		assert.Equal(t, (15 * time.Minute).String(), r.IdleLimit)
		assert.Equal(t, (4 * time.Hour).String(), r.TotalLimit)
	})

	t.Run("admin is scoped to its tenant", func(t *testing.T) {
		r := buildPolicyReport("ADMIN", "acme", "GLOBEX", authz.DefaultTimeouts)
		assert.False(t, r.Superuser)
		assert.True(t, decision(t, r, authz.ActionReadMasterData).Allowed)
		act := decision(t, r, authz.ActionActOnTenant)
		assert.False(t, act.Allowed)
		assert.Contains(t, act.Reason, "GLOBEX")
	})

	t.Run("unknown role gets the shortest limits", func(t *testing.T) {
		r := buildPolicyReport("auditor", "ACME", "ACME", authz.DefaultTimeouts)
		for _, d := range r.Decisions {
			assert.False(t, d.Allowed, d.Action)
		}
		assert.Equal(t, (15 * time.Minute).String(), r.IdleLimit)
		assert.Equal(t, (4 * time.Hour).String(), r.TotalLimit)
	})
}

func TestPrintPolicy(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printPolicy(&buf, buildPolicyReport("guest", "ACME", "ACME", authz.DefaultTimeouts)))

	out := buf.String()
	assert.Contains(t, out, "Role guest")
	assert.Contains(t, out, string(authz.ActionReadMasterData))
	assert.Contains(t, out, "deny")
	assert.NotContains(t, out, "allow")
	assert.Contains(t, out, "idle timeout      1h0m0s")
}

func TestPolicyCommandJSON(t *testing.T) {
	out, err := runRoot(t, "policy", "admin", "--user-tenant", "ACME", "--json",
		"--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	var r PolicyReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "admin", r.Canonical)
	assert.True(t, decision(t, r, authz.ActionActOnTenant).Allowed, "target defaults to the user tenant")
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocktake", "config.yaml")

	out, err := runRoot(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "root")
	assert.Contains(t, out, "tenant GLOBEX")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Identity.Local.Users, 3)

	out, err = runRoot(t, "config", "view", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, cfg.Identity.Local.SigningKey)

	_, err = runRoot(t, "config", "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = runRoot(t, "config", "init", "--force", "--config", path)
	require.NoError(t, err)
	again, err := config.Load(path)
	require.NoError(t, err)
	assert.NotEqual(t, cfg.Identity.Local.SigningKey, again.Identity.Local.SigningKey, "init rotates the key")

	out, err = runRoot(t, "config", "path", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "stocktake ")
	assert.NotContains(t, out, "idle", "the short form is the build only")

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := testConfig(t)
	cfg.APIURL = "http://inventory.test"
	cfg.Session.Timeouts = map[string]config.TimeoutOverride{"admin": {Idle: config.Duration(5 * time.Minute)}}
	require.NoError(t, config.Save(cfg, path))

	out, err = runRoot(t, "version", "--json", "--config", path)
	require.NoError(t, err)
	var report VersionReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEmpty(t, report.GoVersion)
	assert.Equal(t, path, report.ConfigPath)
	assert.Equal(t, "http://inventory.test", report.APIURL)
	assert.Equal(t, config.IdentityLocal, report.Identity)
	assert.Empty(t, report.ConfigError)
	require.Len(t, report.RoleLimits, len(authz.Roles))
	assert.Equal(t, RoleLimit{Role: "admin", Idle: "5m0s", Absolute: "8h0m0s"}, report.RoleLimits[1])

	out, err = runRoot(t, "version", "--verbose", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "api             http://inventory.test")
	assert.Contains(t, out, "superuser")
	assert.Contains(t, out, "5m0s")
}

func TestVersionReportWithoutConfig(t *testing.T) {
	r := buildVersionReport(version.Info{Version: "1.2.3"}, "/nowhere/config.yaml", nil, errors.New("no such file"))

	assert.Equal(t, "no such file", r.ConfigError)
	assert.Empty(t, r.APIURL)
	require.Len(t, r.RoleLimits, len(authz.Roles))
	for i, role := range authz.Roles {
		want := authz.DefaultTimeouts.For(role.String())
		assert.Equal(t, want.Idle.String(), r.RoleLimits[i].Idle, role)
	}

	var buf bytes.Buffer
	require.NoError(t, printVersion(&buf, r))
	assert.Contains(t, buf.String(), "stocktake 1.2.3")
	assert.Contains(t, buf.String(), "unusable: no such file")
}

func TestDoctorCommand(t *testing.T) {
	cfg := testConfig(t)
	srv, cleanup, err := newMockServer(cfg, "", clock.Real(), log.Discard())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)
	cfg.APIURL = api.URL

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.Save(cfg, path))

	out, err := runRoot(t, "doctor", "--json", "--config", path)
	require.NoError(t, err, out)

	var report DoctorReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, health.StatusHealthy, report.Status)
	for _, name := range []string{"config", "platform-api", "identity-local", "storage-sqlite"} {
		require.Contains(t, report.Checks, name)
		assert.Equal(t, health.StatusHealthy, report.Checks[name].Status, name)
	}
}

func TestDoctorReportsBrokenConfig(t *testing.T) {
	out, err := runRoot(t, "doctor", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, out, "config")
	assert.Contains(t, out, "configuration unusable")
}
