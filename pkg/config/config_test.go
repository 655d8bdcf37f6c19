package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultsYAML = `
baseConstraints:
  prohibitedTools: ["rm", "sudo"]
  minSeverityForBlock: error
  requirePreValidation: true
enforcement:
  mode: strict
  onViolation: block
  logLevel: info
`

const productionOverlayYAML = `
baseConstraints:
  prohibitedTools: ["rm", "sudo", "curl"]
enforcement:
  mode: permissive
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "defaults.yaml"), []byte(defaultsYAML), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "environments"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "environments", "production.yaml"), []byte(productionOverlayYAML), 0o644))
	return dir
}

func TestLoad_NoOverlay(t *testing.T) {
	dir := writeTestConfig(t)
	d, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"rm", "sudo"}, d.BaseConstraints.ProhibitedTools)
	assert.Equal(t, "strict", string(d.Enforcement.Mode))
}

func TestLoad_OverlayOverridesNamedFields(t *testing.T) {
	dir := writeTestConfig(t)
	d, err := Load(dir, "production")
	require.NoError(t, err)

	assert.Equal(t, []string{"rm", "sudo", "curl"}, d.BaseConstraints.ProhibitedTools)
	assert.Equal(t, "permissive", string(d.Enforcement.Mode))
	// Fields the overlay doesn't set fall through from defaults.
	assert.Equal(t, "block", string(d.Enforcement.OnViolation))
	assert.True(t, d.BaseConstraints.RequirePreValidation)
}

func TestLoad_MissingOverlayIsNotAnError(t *testing.T) {
	dir := writeTestConfig(t)
	d, err := Load(dir, "staging")
	require.NoError(t, err)
	assert.Equal(t, []string{"rm", "sudo"}, d.BaseConstraints.ProhibitedTools)
}

const validBaseConstraintsYAML = `
prohibitedTools: ["rm", "sudo"]
prohibitedPaths: ["/etc/**"]
minSeverityForBlock: error
requirePreValidation: true
requireAuditLog: true
auditRetentionDays: 90
`

func TestLoadBaseConstraints_Valid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validBaseConstraintsYAML), 0o644))

	bc, err := LoadBaseConstraints(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"rm", "sudo"}, bc.ProhibitedTools)
	assert.Equal(t, 90, bc.AuditRetentionDays)
}

func TestLoadBaseConstraints_MissingFile(t *testing.T) {
	_, err := LoadBaseConstraints(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadBaseConstraints_RejectsBadSeverity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`minSeverityForBlock: catastrophic`), 0o644))

	_, err := LoadBaseConstraints(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minSeverityForBlock")
}

func TestLoadBaseConstraints_RejectsAuditLogWithoutRetention(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(path, []byte("minSeverityForBlock: warning\nrequireAuditLog: true\n"), 0o644))

	_, err := LoadBaseConstraints(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auditRetentionDays")
}
