// Package config loads the process-wide BaseConstraints baseline and default
// EnforcementConfig from YAML, with an optional per-environment overlay file
// merged in on top field-by-field. The overlay wins for every field it sets
// to a non-zero value; a boolean set to false or a number set to 0 in the
// overlay leaves the default's value in place.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/protocore/governor/pkg/protocol"
)

// Defaults is the top-level config document: the immutable safety baseline
// plus the enforcement defaults new protocols inherit when they don't
// specify their own.
type Defaults struct {
	BaseConstraints protocol.BaseConstraints   `yaml:"baseConstraints"`
	Enforcement     protocol.EnforcementConfig `yaml:"enforcement"`
}

// LoadBaseConstraints reads and validates the immutable safety baseline
// from a single YAML file at path. It is the process-start loader: called
// once, its result is never mutated afterward, and no protocol accepted by
// the Validator may relax anything it declares.
func LoadBaseConstraints(path string) (*protocol.BaseConstraints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read base constraints %q: %w", path, err)
	}

	var bc protocol.BaseConstraints
	if err := yaml.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("parse base constraints %q: %w", path, err)
	}

	if err := validateBaseConstraints(&bc); err != nil {
		return nil, fmt.Errorf("invalid base constraints %q: %w", path, err)
	}

	return &bc, nil
}

// validateBaseConstraints enforces the baseline's own well-formedness: a
// baseline that is internally inconsistent cannot serve as the floor every
// protocol is checked against.
func validateBaseConstraints(bc *protocol.BaseConstraints) error {
	switch bc.MinSeverityForBlock {
	case protocol.SeverityError, protocol.SeverityWarning, protocol.SeverityInfo:
	default:
		return fmt.Errorf("minSeverityForBlock must be one of error|warning|info, got %q", bc.MinSeverityForBlock)
	}
	if bc.MaxAllowedTools != nil && *bc.MaxAllowedTools < 0 {
		return fmt.Errorf("maxAllowedTools must be non-negative, got %d", *bc.MaxAllowedTools)
	}
	if bc.MaxAllowedPaths != nil && *bc.MaxAllowedPaths < 0 {
		return fmt.Errorf("maxAllowedPaths must be non-negative, got %d", *bc.MaxAllowedPaths)
	}
	if bc.AuditRetentionDays < 0 {
		return fmt.Errorf("auditRetentionDays must be non-negative, got %d", bc.AuditRetentionDays)
	}
	if bc.RequireAuditLog && bc.AuditRetentionDays == 0 {
		return fmt.Errorf("auditRetentionDays must be set when requireAuditLog is true")
	}
	return nil
}

// Load reads defaults.yaml from dir, then merges in env.yaml (if present)
// for the named environment, e.g. dir/environments/production.yaml.
func Load(dir, environment string) (Defaults, error) {
	var d Defaults
	base, err := os.ReadFile(filepath.Join(dir, "defaults.yaml"))
	if err != nil {
		return d, fmt.Errorf("read defaults: %w", err)
	}
	if err := yaml.Unmarshal(base, &d); err != nil {
		return d, fmt.Errorf("parse defaults: %w", err)
	}

	if environment == "" {
		return d, nil
	}
	overlayPath := filepath.Join(dir, "environments", environment+".yaml")
	overlayData, err := os.ReadFile(overlayPath)
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		return d, fmt.Errorf("read overlay %q: %w", environment, err)
	}

	var overlay Defaults
	if err := yaml.Unmarshal(overlayData, &overlay); err != nil {
		return d, fmt.Errorf("parse overlay %q: %w", environment, err)
	}

	d.BaseConstraints = mergeBaseConstraints(d.BaseConstraints, overlay.BaseConstraints)
	d.Enforcement = mergeEnforcement(d.Enforcement, overlay.Enforcement)
	return d, nil
}

// mergeBaseConstraints overlays non-zero-value overlay fields onto base.
// List fields are replaced wholesale rather than appended, since an
// environment overlay narrowing or widening a prohibited list almost always
// means "use this list instead", not "add to it".
func mergeBaseConstraints(base, overlay protocol.BaseConstraints) protocol.BaseConstraints {
	if overlay.ProhibitedTools != nil {
		base.ProhibitedTools = overlay.ProhibitedTools
	}
	if overlay.ProhibitedPaths != nil {
		base.ProhibitedPaths = overlay.ProhibitedPaths
	}
	if overlay.ProhibitedOperations != nil {
		base.ProhibitedOperations = overlay.ProhibitedOperations
	}
	if overlay.MinSeverityForBlock != "" {
		base.MinSeverityForBlock = overlay.MinSeverityForBlock
	}
	if overlay.RequirePreValidation {
		base.RequirePreValidation = true
	}
	if overlay.RequirePostValidation {
		base.RequirePostValidation = true
	}
	if overlay.MaxAllowedTools != nil {
		base.MaxAllowedTools = overlay.MaxAllowedTools
	}
	if overlay.MaxAllowedPaths != nil {
		base.MaxAllowedPaths = overlay.MaxAllowedPaths
	}
	if overlay.RequireAuditLog {
		base.RequireAuditLog = true
	}
	if overlay.AuditRetentionDays != 0 {
		base.AuditRetentionDays = overlay.AuditRetentionDays
	}
	return base
}

func mergeEnforcement(base, overlay protocol.EnforcementConfig) protocol.EnforcementConfig {
	if overlay.Mode != "" {
		base.Mode = overlay.Mode
	}
	if overlay.OnViolation != "" {
		base.OnViolation = overlay.OnViolation
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	if overlay.MaxRetries != 0 {
		base.MaxRetries = overlay.MaxRetries
	}
	if overlay.RetryDelaySeconds != 0 {
		base.RetryDelaySeconds = overlay.RetryDelaySeconds
	}
	base.PreExecutionValidation = overlay.PreExecutionValidation || base.PreExecutionValidation
	base.PostExecutionValidation = overlay.PostExecutionValidation || base.PostExecutionValidation
	base.IncludeContext = overlay.IncludeContext || base.IncludeContext
	base.AllowOverride = overlay.AllowOverride || base.AllowOverride
	base.OverrideRequiresApproval = overlay.OverrideRequiresApproval || base.OverrideRequiresApproval
	return base
}
