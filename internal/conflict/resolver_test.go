package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AlAfiz/starked-education/internal/model"
)

var (
	t1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Minute)
)

func conflictInput(serverAt, clientAt time.Time) Input {
	return Input{
		ServerVersion: 2, ServerUpdatedAt: serverAt, ServerPayload: model.Payload{"pct": 40.0},
		ClientVersion: 1, ClientUpdatedAt: clientAt, ClientPayload: model.Payload{"pct": 25.0},
	}
}

func TestResolve_NoConflictPassthrough(t *testing.T) {
	t.Parallel()
	for _, s := range []model.Strategy{
		model.StrategyLastWriteWins, model.StrategyFirstWriteWins,
		model.StrategyServerWins, model.StrategyClientWins, model.StrategyMerge,
	} {
		in := Input{
			ServerVersion: 3, ServerUpdatedAt: t2, ServerPayload: model.Payload{"a": 1.0},
			ClientVersion: 3, ClientUpdatedAt: t1, ClientPayload: model.Payload{"b": 2.0},
		}
		res := Resolve(in, s)
		require.True(t, res.Resolved)
		require.False(t, res.ConflictDetected, s)
		require.Equal(t, model.Payload{"b": 2.0}, res.Payload, s)
		require.Equal(t, model.SourceClient, res.WinningSource)
		require.Equal(t, s, res.Strategy)
	}
}

func TestResolve_Strategies(t *testing.T) {
	t.Parallel()
	server := model.Payload{"pct": 40.0}
	client := model.Payload{"pct": 25.0}

	tests := []struct {
		name     string
		strategy model.Strategy
		serverAt time.Time
		clientAt time.Time
		want     model.Payload
		source   model.WinningSource
	}{
		{"lww client newer", model.StrategyLastWriteWins, t1, t2, client, model.SourceClient},
		{"lww client older", model.StrategyLastWriteWins, t2, t1, server, model.SourceServer},
		{"lww tie favors client", model.StrategyLastWriteWins, t1, t1, client, model.SourceClient},
		{"fww client newer", model.StrategyFirstWriteWins, t1, t2, server, model.SourceServer},
		{"fww client older", model.StrategyFirstWriteWins, t2, t1, client, model.SourceClient},
		{"fww tie favors server", model.StrategyFirstWriteWins, t1, t1, server, model.SourceServer},
		{"server-wins ignores time", model.StrategyServerWins, t1, t2, server, model.SourceServer},
		{"server-wins ignores time reversed", model.StrategyServerWins, t2, t1, server, model.SourceServer},
		{"client-wins ignores time", model.StrategyClientWins, t2, t1, client, model.SourceClient},
		{"client-wins ignores time reversed", model.StrategyClientWins, t1, t2, client, model.SourceClient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := Resolve(conflictInput(tt.serverAt, tt.clientAt), tt.strategy)
			require.True(t, res.ConflictDetected)
			require.Equal(t, tt.want, res.Payload)
			require.Equal(t, tt.source, res.WinningSource)
			require.Equal(t, tt.strategy, res.Strategy)
		})
	}
}

func TestResolve_UnknownStrategyFallsBack(t *testing.T) {
	t.Parallel()
	res := Resolve(conflictInput(t2, t1), model.Strategy("newest-device-wins"))
	require.Equal(t, model.StrategyLastWriteWins, res.Strategy)
	require.Equal(t, model.SourceServer, res.WinningSource)
	require.Contains(t, res.Message, "unknown strategy")
}

func TestResolve_MergeConflict(t *testing.T) {
	t.Parallel()
	in := Input{
		ServerVersion: 4, ServerUpdatedAt: t2, ServerPayload: model.Payload{"theme": "dark", "font": 12.0},
		ClientVersion: 2, ClientUpdatedAt: t1, ClientPayload: model.Payload{"font": 14.0, "lang": "en"},
	}
	res := Resolve(in, model.StrategyMerge)
	require.True(t, res.ConflictDetected)
	require.Equal(t, model.SourceMerged, res.WinningSource)
	require.Equal(t, model.Payload{"theme": "dark", "font": 14.0, "lang": "en"}, res.Payload)
}

func TestResolve_DoesNotAliasInputs(t *testing.T) {
	t.Parallel()
	in := conflictInput(t1, t2)
	res := Resolve(in, model.StrategyClientWins)
	res.Payload["pct"] = 99.0
	require.Equal(t, 25.0, in.ClientPayload["pct"])
}

func TestDefaultStrategy(t *testing.T) {
	t.Parallel()
	require.Equal(t, model.StrategyLastWriteWins, DefaultStrategy(model.EntityProgress))
	require.Equal(t, model.StrategyMerge, DefaultStrategy(model.EntityPreferences))
	require.Equal(t, model.StrategyLastWriteWins, DefaultStrategy(model.EntityCourseState))
	require.Equal(t, model.StrategyMerge, DefaultStrategy(model.EntityNotes))
	require.Equal(t, model.StrategyLastWriteWins, DefaultStrategy(model.EntityGeneric))
	require.Equal(t, model.StrategyLastWriteWins, DefaultStrategy("bookmarks"))
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()
	s, ok := ParseStrategy("merge")
	require.True(t, ok)
	require.Equal(t, model.StrategyMerge, s)

	s, ok = ParseStrategy("random")
	require.False(t, ok)
	require.Equal(t, model.StrategyLastWriteWins, s)
}
