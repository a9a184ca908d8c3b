package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/skothari-dev/loom/internal/core"
)

// QueryKey derives a stable cache key for one query: the schema
// composition, the filter, and the read options all feed the hash, so
// any variation produces a distinct key. Filter keys are sorted before
// hashing; two equal filters always hash the same regardless of map
// iteration order.
func QueryKey(names []string, f core.Filter, order string, limit, offset int, language string) string {
	h := blake3.New()

	io := func(parts ...string) {
		for _, p := range parts {
			h.WriteString(p)
			h.WriteString("\x00")
		}
	}

	io("q", strings.Join(names, "+"), language, order,
		fmt.Sprintf("%d:%d", limit, offset))

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		encoded, err := json.Marshal(f[k])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", f[k]))
		}
		io(k, string(encoded))
	}

	sum := h.Sum(nil)
	return "loom:q:" + hex.EncodeToString(sum[:16])
}
