package workflow

import (
	"strings"

	"assetpipe/internal/gateway"
	"assetpipe/internal/queue"
)

// Match methods, strongest first.
const (
	matchByKey      = "correlation_key"
	matchByServerID = "server_id"
	matchByName     = "name"
)

type match struct {
	saved gateway.SavedProduct
	by    string
}

// correlation maps bulk-save records back onto the requested items.
type correlation struct {
	matches map[string]match
	// ambiguous lists names that matched more than one requested item.
	ambiguous []string
	// unmatched holds returned records that matched no requested item.
	unmatched []gateway.SavedProduct
}

// correlate matches records to items by correlation key, then by an already
// known server id, then by product name. A name shared by several unmatched
// items is assigned to the first in batch order and reported as ambiguous.
// Name matching only applies to records that carry no known key or server id.
func correlate(items []*queue.Item, records []gateway.SavedProduct) correlation {
	out := correlation{matches: make(map[string]match, len(items))}
	byKey := make(map[string]*queue.Item, len(items))
	byServerID := make(map[string]*queue.Item)
	for _, item := range items {
		byKey[item.CorrelationKey] = item
		if id := strings.TrimSpace(item.ServerID); id != "" {
			byServerID[id] = item
		}
	}
	claimed := func(item *queue.Item) bool {
		_, ok := out.matches[item.CorrelationKey]
		return ok
	}

	// A record that names a requested item by key or server id belongs to that
	// item only; if the item is already claimed the record is unmatched.
	var pending []gateway.SavedProduct
	for _, rec := range records {
		if item, ok := byKey[strings.TrimSpace(rec.CorrelationKey)]; ok {
			if claimed(item) {
				out.unmatched = append(out.unmatched, rec)
			} else {
				out.matches[item.CorrelationKey] = match{saved: rec, by: matchByKey}
			}
			continue
		}
		pending = append(pending, rec)
	}

	var byNameQueue []gateway.SavedProduct
	for _, rec := range pending {
		if item, ok := byServerID[strings.TrimSpace(rec.ID)]; ok {
			if claimed(item) {
				out.unmatched = append(out.unmatched, rec)
			} else {
				out.matches[item.CorrelationKey] = match{saved: rec, by: matchByServerID}
			}
			continue
		}
		byNameQueue = append(byNameQueue, rec)
	}

	seenAmbiguous := make(map[string]bool)
	for _, rec := range byNameQueue {
		name := normalizeName(rec.Name)
		var candidates []*queue.Item
		if name != "" {
			for _, item := range items {
				if !claimed(item) && normalizeName(item.Name) == name {
					candidates = append(candidates, item)
				}
			}
		}
		if len(candidates) == 0 {
			out.unmatched = append(out.unmatched, rec)
			continue
		}
		if len(candidates) > 1 && !seenAmbiguous[name] {
			seenAmbiguous[name] = true
			out.ambiguous = append(out.ambiguous, rec.Name)
		}
		out.matches[candidates[0].CorrelationKey] = match{saved: rec, by: matchByName}
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
