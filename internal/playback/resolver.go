package playback

import (
	"errors"

	"github.com/MrWong99/framecast/pkg/anim"
)

// Resolver expands targets into concrete, deduplicated recipient snapshots
// and filters them through a condition.
type Resolver struct {
	dir        anim.Directory
	liveness   anim.LivenessProvider
	conditions *ConditionEvaluator

	// onConditionError receives evaluation failures; the recipient is excluded.
	onConditionError func(c *anim.Condition, r anim.Recipient, err error)
}

// NewResolver returns a resolver. dir is required for world and server
// targets; liveness, when non-nil, drops recipients that are already offline.
func NewResolver(dir anim.Directory, liveness anim.LivenessProvider, conditions *ConditionEvaluator) *Resolver {
	return &Resolver{dir: dir, liveness: liveness, conditions: conditions}
}

var errNoDirectory = errors.New("playback: world and server targets need a directory")

// Resolve returns the recipients t addresses right now that satisfy c, in
// first-seen order with duplicates removed. The result is a snapshot: later
// joins never extend it.
func (res *Resolver) Resolve(t anim.Target, c *anim.Condition) ([]anim.Recipient, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	var candidates []anim.Recipient
	switch t.Kind {
	case anim.TargetRecipient, anim.TargetRecipients:
		candidates = t.Recipients
	case anim.TargetWorld:
		if res.dir == nil {
			return nil, errNoDirectory
		}
		candidates = res.dir.InWorld(t.World)
	case anim.TargetServer:
		if res.dir == nil {
			return nil, errNoDirectory
		}
		candidates = res.dir.Online()
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]anim.Recipient, 0, len(candidates))
	for _, r := range candidates {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		if res.liveness != nil && !res.liveness.IsConnected(r) {
			continue
		}
		ok, err := res.conditions.Evaluate(c, r)
		if err != nil {
			if res.onConditionError != nil {
				res.onConditionError(c, r, err)
			}
			continue
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
