package enforcement

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/protocore/governor/pkg/protocol"
)

const (
	maxToolUsageSequence  = 100
	maxFileAccessSequence = 100
	maxObservedPatterns   = 100
	maxActiveAlerts       = 50
	operationCountWindow  = 60 * time.Minute
)

// ObservedPattern is one recurring behavior surfaced by detectPatterns.
type ObservedPattern struct {
	Type     string
	Examples []string
	Count    int
	LastSeen time.Time
}

// MonitoringAlert is a raised concern about a worker's ongoing behavior.
type MonitoringAlert struct {
	ID           string
	Severity     protocol.Severity
	Message      string
	RaisedAt     time.Time
	Acknowledged bool
}

// MonitoringState is the per-worker continuous-monitoring record held for the
// lifetime of a session. It is owned exclusively by the Engine and must not
// be shared across workers.
type MonitoringState struct {
	mu sync.Mutex

	FeatureID string
	WorkerID  string
	StartedAt time.Time

	operationCounts   map[protocol.ActionType][]time.Time
	iterationCount    int
	toolUsageSequence []string
	fileAccessSequence []string
	observedPatterns  map[string]*ObservedPattern
	activeAlerts      []*MonitoringAlert

	clock Clock
}

func newMonitoringState(featureID, workerID string, clock Clock) *MonitoringState {
	return &MonitoringState{
		FeatureID:       featureID,
		WorkerID:        workerID,
		StartedAt:       clock.Now(),
		operationCounts: make(map[protocol.ActionType][]time.Time),
		observedPatterns: make(map[string]*ObservedPattern),
		clock:           clock,
	}
}

// IterationCount returns the number of actions recorded so far.
func (m *MonitoringState) IterationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iterationCount
}

// OperationTimestamps returns a copy of the recorded timestamps for an action
// type, used by the temporal evaluator's rate-limit check.
func (m *MonitoringState) OperationTimestamps(t protocol.ActionType) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Time, len(m.operationCounts[t]))
	copy(out, m.operationCounts[t])
	return out
}

// replaceOperationTimestamps overwrites the stored sequence for actionType,
// used by the temporal evaluator to bound memory to the last hour per §4.3.2.
func (m *MonitoringState) replaceOperationTimestamps(t protocol.ActionType, ts []time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operationCounts[t] = ts
}

// recordAction updates monitoring state and runs pattern detection.
func (m *MonitoringState) recordAction(ctx protocol.ExecutionContext) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.operationCounts[ctx.ActionType] = trimOlderThan(append(m.operationCounts[ctx.ActionType], now), now, operationCountWindow)

	if ctx.ActionType == protocol.ActionToolCall && ctx.ActionName != "" {
		m.toolUsageSequence = appendBounded(m.toolUsageSequence, ctx.ActionName, maxToolUsageSequence)
	}
	for _, f := range ctx.TargetFiles {
		m.fileAccessSequence = appendBounded(m.fileAccessSequence, f, maxFileAccessSequence)
	}
	m.iterationCount++

	m.detectPatterns(now)
}

func trimOlderThan(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}

func appendBounded(seq []string, item string, max int) []string {
	seq = append(seq, item)
	if len(seq) > max {
		seq = seq[len(seq)-max:]
	}
	return seq
}

// detectPatterns tallies recent tool and file usage and records any repeated
// pattern, evicting the oldest entry by lastSeen when over capacity. Must be
// called with mu held.
func (m *MonitoringState) detectPatterns(now time.Time) {
	recentTools := lastN(m.toolUsageSequence, 10)
	toolCounts := tally(recentTools)
	for tool, n := range toolCounts {
		if n >= 5 {
			m.recordPattern("repeated_tool_usage", tool, now)
		}
	}

	recentFiles := lastN(m.fileAccessSequence, 20)
	fileCounts := tally(recentFiles)
	for file, n := range fileCounts {
		if n >= 3 {
			m.recordPattern("repeated_file_access", file, now)
		}
	}
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func tally(s []string) map[string]int {
	out := make(map[string]int, len(s))
	for _, v := range s {
		out[v]++
	}
	return out
}

// recordPattern must be called with mu held.
func (m *MonitoringState) recordPattern(patternType, example string, now time.Time) {
	p, ok := m.observedPatterns[patternType]
	if !ok {
		if len(m.observedPatterns) >= maxObservedPatterns {
			m.evictOldestPattern()
		}
		p = &ObservedPattern{Type: patternType}
		m.observedPatterns[patternType] = p
	}
	p.Count++
	p.LastSeen = now
	if !containsExact(p.Examples, example) && len(p.Examples) < 5 {
		p.Examples = append(p.Examples, example)
	}
}

func (m *MonitoringState) evictOldestPattern() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, p := range m.observedPatterns {
		if first || p.LastSeen.Before(oldest) {
			oldest = p.LastSeen
			oldestKey = k
			first = false
		}
	}
	if oldestKey != "" {
		delete(m.observedPatterns, oldestKey)
	}
}

// checkMonitoringAlerts raises a behavioral alert when a tool dominates the
// last 20 recorded tool uses.
func (m *MonitoringState) checkMonitoringAlerts() []*MonitoringAlert {
	m.mu.Lock()
	defer m.mu.Unlock()

	recent := lastN(m.toolUsageSequence, 20)
	counts := tally(recent)
	for tool, n := range counts {
		if n >= 15 {
			alert := &MonitoringAlert{
				ID:       uuid.NewString(),
				Severity: protocol.SeverityWarning,
				Message:  "Worker appears stuck: tool '" + tool + "' used " + strconv.Itoa(n) + " times in recent actions",
				RaisedAt: m.clock.Now(),
			}
			m.addAlert(alert)
		}
	}

	out := make([]*MonitoringAlert, len(m.activeAlerts))
	copy(out, m.activeAlerts)
	return out
}

// addEscalationAlert raises a temporal_escalation alert when the engine's
// graded response ladder (escalation.go) promotes this worker to a new
// level. It supplements, but never overrides, the blocking computation.
func (m *MonitoringState) addEscalationAlert(level ResponseLevel, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	severity := protocol.SeverityWarning
	if level >= ResponseQuarantine {
		severity = protocol.SeverityError
	}
	alert := &MonitoringAlert{
		ID:       uuid.NewString(),
		Severity: severity,
		Message:  "temporal_escalation: worker promoted to " + level.String() + " (effect rate " + strconv.FormatFloat(rate, 'f', 2, 64) + "/s)",
		RaisedAt: m.clock.Now(),
	}
	m.addAlert(alert)
}

// addAlert must be called with mu held.
func (m *MonitoringState) addAlert(alert *MonitoringAlert) {
	m.activeAlerts = append(m.activeAlerts, alert)
	if len(m.activeAlerts) > maxActiveAlerts {
		m.evictAlert()
	}
}

func (m *MonitoringState) evictAlert() {
	for i, a := range m.activeAlerts {
		if !a.Acknowledged {
			m.activeAlerts = append(m.activeAlerts[:i], m.activeAlerts[i+1:]...)
			return
		}
	}
	m.activeAlerts = m.activeAlerts[1:]
}

// acknowledgeAlert sets the acknowledged flag for alertID, returning whether
// a matching alert was found.
func (m *MonitoringState) acknowledgeAlert(alertID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.activeAlerts {
		if a.ID == alertID {
			a.Acknowledged = true
			return true
		}
	}
	return false
}

func containsExact(list []string, needle string) bool {
	for _, s := range list {
		if s == needle {
			return true
		}
	}
	return false
}
