// Package group models the Assignment Group reference entity (spec §3) and
// resolves it on read, per §9's "cyclic references" design note: a ticket
// points to a group by sys_id, a group's member list points back to users
// who in turn own tickets, so only ids are stored and the full record is
// fetched lazily rather than eagerly expanded.
package group

import (
	"context"

	"github.com/wisbric/snowlink/pkg/upstream"
)

// Temperature is a domain-specific health indicator for a group's current
// load (spec §3); ServiceNow carries no native field for this, so Resolve
// derives it from the group's member count (see temperatureFromLoad).
type Temperature string

const (
	TemperatureCold Temperature = "cold"
	TemperatureWarm Temperature = "warm"
	TemperatureHot  Temperature = "hot"
)

// Group is the resolved Assignment Group record.
type Group struct {
	SysID       string
	DisplayName string
	Manager     string
	Tags        []string
	Temperature Temperature

	// MemberSysIDs stores member user ids only; resolving a member to its
	// own ticket list is a separate call, never performed automatically, so
	// the ticket -> group -> member -> ticket cycle can't recurse.
	MemberSysIDs []string
}

// Resolver fetches Assignment Group records and membership from the
// sys_user_group / sys_user_grmember tables on demand.
type Resolver struct {
	upstream *upstream.Client
}

// NewResolver creates a group Resolver backed by the given upstream client.
func NewResolver(up *upstream.Client) *Resolver {
	return &Resolver{upstream: up}
}

// Resolve fetches one Assignment Group by sys_id, including its member ids.
// Members are not themselves resolved — callers that need a member's
// ticket list call back into the hybrid data service for that id.
func (r *Resolver) Resolve(ctx context.Context, sysID string) (Group, error) {
	rec, found, err := r.upstream.Read(ctx, "sys_user_group", sysID)
	if err != nil {
		return Group{}, err
	}
	if !found {
		return Group{}, nil
	}

	members, err := r.members(ctx, sysID)
	if err != nil {
		return Group{}, err
	}

	return Group{
		SysID:        sysID,
		DisplayName:  rec.Field("name"),
		Manager:      upstream.ResolveReferenceField(rec.Raw, "manager"),
		Tags:         splitTags(rec.Field("tags")),
		Temperature:  temperatureFromLoad(len(members)),
		MemberSysIDs: members,
	}, nil
}

func (r *Resolver) members(ctx context.Context, groupSysID string) ([]string, error) {
	q := upstream.NewQuery().And("group", upstream.OpEquals, groupSysID).Encode()
	recs, err := r.upstream.Query(ctx, "sys_user_grmember", q, 500, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, upstream.ReferenceValue(rec.Raw, "user"))
	}
	return ids, nil
}

// temperatureFromLoad derives a Temperature label from a group's current
// member count as a simple proxy for assignment load; open-ticket-count
// based derivation would need the hybrid data service and is left to the
// caller that already has that context.
func temperatureFromLoad(memberCount int) Temperature {
	switch {
	case memberCount == 0:
		return TemperatureCold
	case memberCount < 5:
		return TemperatureWarm
	default:
		return TemperatureHot
	}
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == ',' {
			tags = append(tags, raw[start:i])
			start = i + 1
		}
	}
	tags = append(tags, raw[start:])
	return tags
}
