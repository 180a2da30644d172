package verify

import (
	"fmt"
	"sort"

	"github.com/chadiek/voxrelay/internal/types"
)

// snippet is one flattened (source, text) pair drawn from a ContextSnapshot,
// scored against extracted claims.
type snippet struct {
	Source string
	Text   string
}

// flattenSnapshot walks a ContextSnapshot into a flat list of (source,
// snippet) pairs: nested API data is walked recursively, emitting
// "<path>: <leaf>" for non-string scalars and the string itself for string
// leaves; arrays are flattened under their parent's label; recent
// conversation messages are labeled "conversation:<role>"; knowledge-base
// entries are each their own "knowledge_base" pair.
func flattenSnapshot(snap types.ContextSnapshot) []snippet {
	var out []snippet

	keys := make([]string, 0, len(snap.APIData))
	for k := range snap.APIData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, flattenValue(k, snap.APIData[k])...)
	}

	for _, msg := range snap.RecentConversation {
		out = append(out, snippet{Source: "conversation:" + string(msg.Role), Text: msg.Text})
	}

	for _, kb := range snap.KnowledgeBase {
		out = append(out, snippet{Source: "knowledge_base", Text: kb})
	}

	return out
}

func flattenValue(path string, v any) []snippet {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []snippet
		for _, k := range keys {
			out = append(out, flattenValue(path+"."+k, val[k])...)
		}
		return out
	case []any:
		var out []snippet
		for _, item := range val {
			out = append(out, flattenValue(path, item)...)
		}
		return out
	case string:
		return []snippet{{Source: path, Text: val}}
	default:
		return []snippet{{Source: path, Text: fmt.Sprintf("%s: %v", path, val)}}
	}
}
