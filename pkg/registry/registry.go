// Package registry names the interface the Resolver and Enforcement Engine
// consume for protocol storage and violation recording. The Registry's
// persistence, CRUD surface, and transport are out of scope for this module
// — we only define the read/write contract our components are written
// against, plus a small in-memory fixture used by tests.
package registry

import "github.com/protocore/governor/pkg/protocol"

// ViolationRecord is what Registry.RecordViolation persists.
type ViolationRecord struct {
	ProtocolID   string
	ConstraintID string
	FeatureID    string
	WorkerID     string
	Severity     protocol.Severity
	Message      string
	Context      map[string]interface{}
}

// ViolationFilter narrows GetViolationCount; a zero-value field imposes no
// restriction on that axis.
type ViolationFilter struct {
	ProtocolID string
	WorkerID   string
	Severity   protocol.Severity
}

// Registry is the read-mostly store of protocols and write sink for
// violations, consumed by the Resolver and Enforcement Engine.
type Registry interface {
	GetProtocol(id string) (*protocol.Protocol, bool)
	GetActive() []string
	GetActiveProtocols() []protocol.Protocol
	RecordViolation(v ViolationRecord) error
	GetViolationCount(filter ViolationFilter) int
}
