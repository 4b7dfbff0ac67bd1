package usecase

import (
	"fmt"

	syncDomain "github.com/fieldops/resilience/internal/sync/domain"
)

// Policy drives automatic conflict resolution.
type Policy struct {
	// StatusField holds the lifecycle state of an entity.
	StatusField string
	// CompletionStates are states a technician moves a record to when the work is done.
	CompletionStates []string
	// TerminalStates are server states after which local edits are moot.
	TerminalStates []string
	// AdditiveFields are list fields merged by union, such as photos and notes.
	AdditiveFields []string
}

// DefaultPolicy returns the policy for field work orders.
func DefaultPolicy() Policy {
	return Policy{
		StatusField:      "status",
		CompletionStates: []string{"completed", "done"},
		TerminalStates:   []string{"completed", "done", "cancelled", "closed"},
		AdditiveFields:   []string{"photos", "notes"},
	}
}

// Suggest picks a strategy for an entity in conflict.
func (p Policy) Suggest(entity *syncDomain.Entity) syncDomain.Suggestion {
	if entity.ServerSnapshot == nil {
		return syncDomain.Suggestion{
			Reason: fmt.Sprintf("no server copy to compare with (%s)", entity.ConflictReason),
		}
	}

	localCompletion := false
	if change, ok := entity.PendingChangeSet[p.StatusField]; ok {
		localCompletion = containsState(p.CompletionStates, change.New)
	}
	serverStatus := entity.ServerSnapshot.Fields[p.StatusField]
	serverTerminal := containsState(p.TerminalStates, serverStatus)
	serverCompletion := containsState(p.CompletionStates, serverStatus)

	switch {
	case localCompletion && serverCompletion:
		return syncDomain.Suggestion{
			Strategy:   syncDomain.StrategyMerge,
			Resolvable: true,
			Reason:     "both sides completed the work, fields merged",
		}
	case localCompletion && serverTerminal:
		return syncDomain.Suggestion{
			Reason: "local completion and a server status that ended the work otherwise disagree",
		}
	case localCompletion:
		return syncDomain.Suggestion{
			Strategy:   syncDomain.StrategyKeepLocal,
			Resolvable: true,
			Reason:     "local completion wins over a non-terminal server status",
		}
	case serverTerminal:
		return syncDomain.Suggestion{
			Strategy:   syncDomain.StrategyAcceptServer,
			Resolvable: true,
			Reason:     "terminal server status wins over a local edit",
		}
	default:
		return syncDomain.Suggestion{
			Strategy:   syncDomain.StrategyMerge,
			Resolvable: true,
			Reason:     "no lifecycle conflict, fields merged",
		}
	}
}

// Merge combines the server copy with the pending local changes. Additive fields are
// unioned; a scalar field keeps the local value only where the server did not change
// it. The returned change set is what still has to reach the server.
func (p Policy) Merge(entity *syncDomain.Entity) (map[string]any, syncDomain.ChangeSet) {
	server := entity.ServerSnapshot
	if server == nil {
		return syncDomain.CloneFields(entity.Fields), entity.PendingChangeSet
	}

	fields := syncDomain.CloneFields(server.Fields)
	changes := syncDomain.ChangeSet{}
	for field, change := range entity.PendingChangeSet {
		serverValue := server.Fields[field]

		if p.isAdditive(field) {
			if merged, ok := union(serverValue, change.New); ok {
				fields[field] = merged
				if !syncDomain.Equal(merged, serverValue) {
					changes[field] = syncDomain.FieldChange{Old: serverValue, New: merged}
				}
				continue
			}
		}

		if syncDomain.Equal(serverValue, change.Old) {
			fields[field] = change.New
			if !syncDomain.Equal(change.New, serverValue) {
				changes[field] = syncDomain.FieldChange{Old: serverValue, New: change.New}
			}
		}
	}
	return fields, changes
}

// keepLocal applies every pending local change on top of the server copy and returns
// the changes needed to make the server match.
func keepLocal(entity *syncDomain.Entity) (map[string]any, syncDomain.ChangeSet) {
	server := entity.ServerSnapshot
	if server == nil {
		return syncDomain.CloneFields(entity.Fields), entity.PendingChangeSet
	}
	fields := syncDomain.CloneFields(server.Fields)
	changes := syncDomain.ChangeSet{}
	for field := range entity.PendingChangeSet {
		local := entity.Fields[field]
		fields[field] = local
		if !syncDomain.Equal(local, server.Fields[field]) {
			changes[field] = syncDomain.FieldChange{Old: server.Fields[field], New: local}
		}
	}
	return fields, changes
}

// acceptServer returns the server fields, or the pre-edit local values when the server
// never accepted the entity.
func acceptServer(entity *syncDomain.Entity) map[string]any {
	if entity.ServerSnapshot != nil {
		return syncDomain.CloneFields(entity.ServerSnapshot.Fields)
	}
	fields := syncDomain.CloneFields(entity.Fields)
	for field, change := range entity.PendingChangeSet {
		if change.Old == nil {
			delete(fields, field)
			continue
		}
		fields[field] = change.Old
	}
	return fields
}

func (p Policy) isAdditive(field string) bool {
	for _, f := range p.AdditiveFields {
		if f == field {
			return true
		}
	}
	return false
}

func containsState(states []string, value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	for _, state := range states {
		if state == s {
			return true
		}
	}
	return false
}

// union appends the items of local missing from server. Both must be lists or nil.
func union(server, local any) ([]any, bool) {
	serverItems, ok := asList(server)
	if !ok {
		return nil, false
	}
	localItems, ok := asList(local)
	if !ok {
		return nil, false
	}

	out := append([]any{}, serverItems...)
	for _, item := range localItems {
		found := false
		for _, existing := range out {
			if syncDomain.Equal(existing, item) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, item)
		}
	}
	return out, true
}

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, true
	}
	list, ok := v.([]any)
	return list, ok
}
