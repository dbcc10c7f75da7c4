package ledger

import "github.com/google/uuid"

// ActivePredicate is the single SQL definition of an active posting group for
// a query that aliases posting_groups as pg: no other group of the tenant
// reverses it. Reversal groups themselves are active.
const ActivePredicate = `NOT EXISTS (SELECT 1 FROM posting_groups rv
WHERE rv.tenant_id = pg.tenant_id AND rv.reversal_of_posting_group_id = pg.id)`

// StandingPredicate narrows ActivePredicate for monetary aggregation: a
// reversal group is netted against its target, which the active predicate
// already excludes, so both sides of the pair drop out together.
const StandingPredicate = ActivePredicate + ` AND pg.reversal_of_posting_group_id IS NULL`

// Standing reports whether g contributes to monetary aggregates.
func Standing(g PostingGroup) bool {
	return g.Active() && g.ReversalOf == nil
}

// ReversedSet indexes the targets of every reversal among groups.
func ReversedSet(groups []PostingGroup) map[uuid.UUID]uuid.UUID {
	out := make(map[uuid.UUID]uuid.UUID)
	for _, g := range groups {
		if g.ReversalOf != nil {
			out[*g.ReversalOf] = g.ID
		}
	}
	return out
}
