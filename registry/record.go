// Package registry implements the concurrent, in-memory index of endpoint
// access records that the rest of the core queries to locate providers.
package registry

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Operation is one of the closed set of capabilities an endpoint may
// advertise.
type Operation string

const (
	OpGet              Operation = "Get"
	OpSet              Operation = "Set"
	OpInvoke           Operation = "Invoke"
	OpSubscribe        Operation = "Subscribe"
	OpUnsubscribe      Operation = "Unsubscribe"
	OpManagedSubscribe Operation = "ManagedSubscribe"
)

func validOperation(op Operation) bool {
	switch op {
	case OpGet, OpSet, OpInvoke, OpSubscribe, OpUnsubscribe, OpManagedSubscribe:
		return true
	default:
		return false
	}
}

// Record describes one way to reach one entity: a single endpoint access
// record as defined by the model. Records are immutable once stored;
// Registry.Register replaces a record in place when one with the same
// (ProviderID, InstanceID, ModelID, Protocol) already exists.
type Record struct {
	ProviderID string
	InstanceID string
	ModelID    string
	Protocol   string
	URI        string
	Context    string
	Operations []Operation
}

// HasOperation reports whether the record advertises op.
func (r Record) HasOperation(op Operation) bool {
	for _, o := range r.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// validate checks the invariants §3 places on a record at registration
// time: non-empty identity fields and a closed set of operation tags.
// Duplicate operation tags are tolerated and canonicalised into a set.
func (r *Record) validate() error {
	if r.ProviderID == "" {
		return errors.New("registry: record has empty provider id")
	}
	if r.InstanceID == "" {
		return errors.New("registry: record has empty instance id")
	}
	if r.ModelID == "" {
		return errors.New("registry: record has empty model id")
	}
	seen := make(map[Operation]bool, len(r.Operations))
	deduped := make([]Operation, 0, len(r.Operations))
	for _, op := range r.Operations {
		if !validOperation(op) {
			return ErrUnknownOperation
		}
		if !seen[op] {
			seen[op] = true
			deduped = append(deduped, op)
		}
	}
	r.Operations = deduped
	return nil
}

// ByProviderThenInstance sorts records ascending by (ProviderID, InstanceID),
// the deterministic order required of every multi-result lookup.
func ByProviderThenInstance(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.ProviderID != b.ProviderID {
			return a.ProviderID < b.ProviderID
		}
		return a.InstanceID < b.InstanceID
	})
}

// ParseModelID validates the DTMI-shaped hierarchical identifier
// "colon:separated:path;version" and returns its version. Register does
// not call it, so the registry also indexes model ids that ParseModelID
// rejects; it exists so callers above the registry can validate a model
// id before use.
func ParseModelID(modelID string) (version int, err error) {
	if strings.TrimSpace(modelID) != modelID {
		return 0, errors.New("registry: model id has surrounding whitespace")
	}
	idx := strings.LastIndex(modelID, ";")
	if idx <= 0 || idx == len(modelID)-1 {
		return 0, errors.New("registry: model id missing ';version' suffix")
	}
	path, versionPart := modelID[:idx], modelID[idx+1:]
	if path == "" || strings.Contains(path, "::") || strings.HasPrefix(path, ":") || strings.HasSuffix(path, ":") {
		return 0, errors.New("registry: model id has malformed path")
	}
	version, err = strconv.Atoi(versionPart)
	if err != nil || version <= 0 {
		return 0, errors.New("registry: model id version must be a positive integer")
	}
	return version, nil
}
