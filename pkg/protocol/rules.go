package protocol

import "time"

// ConstraintRule is the tagged-union rule payload for a ProtocolConstraint.
// Exactly one of the Type-matched fields below is meaningful; Type is the
// discriminant and MUST match the owning ProtocolConstraint.Type. Exhaustive
// evaluators switch on Type and fail closed on an unrecognized value — see
// pkg/enforcement.
type ConstraintRule struct {
	Type ConstraintType `json:"type"`

	ToolRestriction *ToolRestrictionRule `json:"toolRestriction,omitempty"`
	FileAccess      *FileAccessRule      `json:"fileAccess,omitempty"`
	OutputFormat    *OutputFormatRule    `json:"outputFormat,omitempty"`
	Behavioral      *BehavioralRule      `json:"behavioral,omitempty"`
	Temporal        *TemporalRule        `json:"temporal,omitempty"`
	Resource        *ResourceRule        `json:"resource,omitempty"`
	SideEffect      *SideEffectRule      `json:"sideEffect,omitempty"`
}

// Matches reports whether the rule's discriminant matches its populated
// variant.
func (r ConstraintRule) Matches() bool {
	switch r.Type {
	case ConstraintToolRestriction:
		return r.ToolRestriction != nil
	case ConstraintFileAccess:
		return r.FileAccess != nil
	case ConstraintOutputFormat:
		return r.OutputFormat != nil
	case ConstraintBehavioral:
		return r.Behavioral != nil
	case ConstraintTemporal:
		return r.Temporal != nil
	case ConstraintResource:
		return r.Resource != nil
	case ConstraintSideEffect:
		return r.SideEffect != nil
	default:
		return false
	}
}

// ToolRestrictionRule governs which tools a worker may invoke.
type ToolRestrictionRule struct {
	AllowedTools    []string `json:"allowedTools,omitempty"`
	DeniedTools     []string `json:"deniedTools,omitempty"`
	ToolPatterns    []string `json:"toolPatterns,omitempty"` // regex
	RequireApproval []string `json:"requireApproval,omitempty"`
}

// FileAccessRule governs which files a worker may read or write.
type FileAccessRule struct {
	AllowedPaths      []string `json:"allowedPaths,omitempty"` // glob
	DeniedPaths       []string `json:"deniedPaths,omitempty"`  // glob
	ReadOnly          []string `json:"readOnly,omitempty"`     // glob
	WriteOnly         []string `json:"writeOnly,omitempty"`    // glob
	AllowedExtensions []string `json:"allowedExtensions,omitempty"`
	DeniedExtensions  []string `json:"deniedExtensions,omitempty"`
	MaxFileSize       *int64   `json:"maxFileSize,omitempty"`
}

// OutputFormatKind is the expected shape of worker-produced output.
type OutputFormatKind string

const (
	FormatJSON     OutputFormatKind = "json"
	FormatMarkdown OutputFormatKind = "markdown"
	FormatText     OutputFormatKind = "text"
	FormatYAML     OutputFormatKind = "yaml"
	FormatCustom   OutputFormatKind = "custom"
)

// OutputFormatRule governs the shape and content of worker output.
type OutputFormatRule struct {
	MaxLength         *int              `json:"maxLength,omitempty"`
	ForbiddenPatterns []string          `json:"forbiddenPatterns,omitempty"`
	RequiredPatterns  []string          `json:"requiredPatterns,omitempty"`
	Format            *OutputFormatKind `json:"format,omitempty"`
	Schema            string            `json:"schema,omitempty"` // JSON Schema text, used when Format == custom
	RequiredFields    []string          `json:"requiredFields,omitempty"`
}

// BehavioralRule governs iteration counts, confirmations, and prohibited actions.
type BehavioralRule struct {
	RequireConfirmation bool     `json:"requireConfirmation,omitempty"`
	MaxIterations       *int     `json:"maxIterations,omitempty"`
	TimeoutSeconds      *int     `json:"timeoutSeconds,omitempty"`
	RequireExplanation  bool     `json:"requireExplanation,omitempty"`
	ProhibitedActions   []string `json:"prohibitedActions,omitempty"`
	RequiredActions     []string `json:"requiredActions,omitempty"`
	// CustomExpression is an optional CEL predicate evaluated against
	// {action, ctx, monitoring}; see SPEC_FULL.md REDESIGN FLAGS.
	CustomExpression string `json:"customExpression,omitempty"`
}

// TemporalRule governs rate limits and time-of-day/validity windows.
type TemporalRule struct {
	RateLimitPerMinute *int       `json:"rateLimitPerMinute,omitempty"`
	RateLimitPerHour   *int       `json:"rateLimitPerHour,omitempty"`
	CooldownSeconds    *int       `json:"cooldownSeconds,omitempty"`
	ValidFrom          *time.Time `json:"validFrom,omitempty"`
	ValidUntil         *time.Time `json:"validUntil,omitempty"`
	AllowedHours       []int      `json:"allowedHours,omitempty"` // 0-23
	AllowedDays        []int      `json:"allowedDays,omitempty"`  // 0-6
	CustomExpression   string     `json:"customExpression,omitempty"`
}

// ResourceRule declares resource ceilings. The engine does not meter live
// resources; its evaluator only compares maxTokensPerRequest against a
// "tokens" action parameter and passes every other ceiling.
type ResourceRule struct {
	MaxMemoryMB              *int `json:"maxMemoryMB,omitempty"`
	MaxCPUPercent            *int `json:"maxCpuPercent,omitempty"`
	MaxConcurrentOps         *int `json:"maxConcurrentOps,omitempty"`
	MaxDiskWriteMB           *int `json:"maxDiskWriteMB,omitempty"`
	MaxNetworkRequestsPerMin *int `json:"maxNetworkRequestsPerMin,omitempty"`
	MaxTokensPerRequest      *int `json:"maxTokensPerRequest,omitempty"`
}

// SideEffectRule governs network, shell, and git side effects.
type SideEffectRule struct {
	AllowNetwork       *bool    `json:"allowNetwork,omitempty"`
	AllowedHosts       []string `json:"allowedHosts,omitempty"`
	DeniedHosts        []string `json:"deniedHosts,omitempty"`
	AllowShellCommands *bool    `json:"allowShellCommands,omitempty"`
	AllowedCommands    []string `json:"allowedCommands,omitempty"`
	DeniedCommands     []string `json:"deniedCommands,omitempty"`
	AllowGitOperations *bool    `json:"allowGitOperations,omitempty"`
	AllowedGitOps      []string `json:"allowedGitOps,omitempty"`
	DeniedGitOps       []string `json:"deniedGitOps,omitempty"`
}
