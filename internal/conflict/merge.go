package conflict

import "github.com/AlAfiz/starked-education/internal/model"

// mergeDepth is how many nested object levels are merged key by key below the top level.
const mergeDepth = 1

// Merge combines server and client field by field. Keys present on one side are
// taken from that side. When both sides hold a non-array object the two objects
// are merged one more level; any other collision goes to the client.
func Merge(server, client model.Payload) model.Payload {
	return model.Payload(mergeObjects(server, client, mergeDepth))
}

func mergeObjects(server, client map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(server)+len(client))
	for k, v := range server {
		out[k] = cloneValue(v)
	}
	for k, cv := range client {
		sv, ok := server[k]
		if !ok {
			out[k] = cloneValue(cv)
			continue
		}
		so, sok := asObject(sv)
		co, cok := asObject(cv)
		if depth > 0 && sok && cok {
			out[k] = mergeObjects(so, co, depth-1)
			continue
		}
		out[k] = cloneValue(cv)
	}
	return out
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case model.Payload:
		return m, true
	}
	return nil, false
}

// Clone returns a deep copy of p. Nil stays nil.
func Clone(p model.Payload) model.Payload {
	if p == nil {
		return nil
	}
	out := make(model.Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case model.Payload:
		return map[string]any(Clone(t))
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
