// Package conflict decides which payload wins when a client and the server
// disagree about an entity. Everything here is a pure function of its inputs.
package conflict

import (
	"fmt"
	"time"

	"github.com/AlAfiz/starked-education/internal/model"
)

// Input is the state of both sides for one entity.
type Input struct {
	ServerVersion   int64
	ServerUpdatedAt time.Time
	ServerPayload   model.Payload

	ClientVersion   int64
	ClientUpdatedAt time.Time
	ClientPayload   model.Payload
}

// Result is the outcome of a resolution call. Resolved is always true.
type Result struct {
	Resolved         bool
	Payload          model.Payload
	Strategy         model.Strategy
	ConflictDetected bool
	WinningSource    model.WinningSource
	Message          string
}

var defaults = map[model.EntityType]model.Strategy{
	model.EntityProgress:    model.StrategyLastWriteWins,
	model.EntityPreferences: model.StrategyMerge,
	model.EntityCourseState: model.StrategyLastWriteWins,
	model.EntityNotes:       model.StrategyMerge,
}

// DefaultStrategy returns the strategy used for an entity type when the caller
// does not override it.
func DefaultStrategy(t model.EntityType) model.Strategy {
	if s, ok := defaults[t]; ok {
		return s
	}
	return model.StrategyLastWriteWins
}

// ParseStrategy reports whether name is a known strategy.
func ParseStrategy(name string) (model.Strategy, bool) {
	switch s := model.Strategy(name); s {
	case model.StrategyLastWriteWins, model.StrategyFirstWriteWins,
		model.StrategyServerWins, model.StrategyClientWins, model.StrategyMerge:
		return s, true
	}
	return model.StrategyLastWriteWins, false
}

// HasConflict is the conflict predicate: versions differ.
func HasConflict(serverVersion, clientVersion int64) bool {
	return serverVersion != clientVersion
}

// Resolve applies strategy to in. Unknown strategies fall back to last-write-wins
// and say so in Message.
func Resolve(in Input, strategy model.Strategy) Result {
	s, known := ParseStrategy(string(strategy))
	var msg string
	if !known {
		msg = fmt.Sprintf("unknown strategy %q, used %s", strategy, s)
	}

	if !HasConflict(in.ServerVersion, in.ClientVersion) {
		if msg == "" {
			msg = "no conflict"
		}
		return Result{
			Resolved:      true,
			Payload:       Clone(in.ClientPayload),
			Strategy:      s,
			WinningSource: model.SourceClient,
			Message:       msg,
		}
	}

	res := Result{Resolved: true, Strategy: s, ConflictDetected: true, Message: msg}
	switch s {
	case model.StrategyFirstWriteWins:
		// ties favor the server
		if !in.ServerUpdatedAt.After(in.ClientUpdatedAt) {
			res.WinningSource = model.SourceServer
		} else {
			res.WinningSource = model.SourceClient
		}
	case model.StrategyServerWins:
		res.WinningSource = model.SourceServer
	case model.StrategyClientWins:
		res.WinningSource = model.SourceClient
	case model.StrategyMerge:
		res.WinningSource = model.SourceMerged
		res.Payload = Merge(in.ServerPayload, in.ClientPayload)
	default:
		// last-write-wins, ties favor the client
		if !in.ClientUpdatedAt.Before(in.ServerUpdatedAt) {
			res.WinningSource = model.SourceClient
		} else {
			res.WinningSource = model.SourceServer
		}
	}

	switch res.WinningSource {
	case model.SourceServer:
		res.Payload = Clone(in.ServerPayload)
	case model.SourceClient:
		res.Payload = Clone(in.ClientPayload)
	}
	if res.Message == "" {
		res.Message = fmt.Sprintf("conflict resolved by %s, %s payload kept", s, res.WinningSource)
	}
	return res
}
