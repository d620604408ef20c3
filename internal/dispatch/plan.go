package dispatch

import "github.com/stashkeep/stashkeep/internal/store"

// deliveryPlan is the chunked send order for one collection: text items
// go out individually, then visual media groups, then document groups.
// The platform rejects media groups that mix documents with photos or
// videos, so the two families are chunked separately. Within a family,
// insertion order is preserved.
type deliveryPlan struct {
	texts  []*store.Item
	groups [][]*store.Item
}

func planDelivery(items []*store.Item, chunkSize int) deliveryPlan {
	var plan deliveryPlan
	var visual, docs []*store.Item

	for _, it := range items {
		switch it.Kind {
		case store.KindText:
			plan.texts = append(plan.texts, it)
		case store.KindDocument, store.KindAudio:
			docs = append(docs, it)
		default:
			visual = append(visual, it)
		}
	}

	plan.groups = append(plan.groups, chunkItems(visual, chunkSize)...)
	plan.groups = append(plan.groups, chunkItems(docs, chunkSize)...)
	return plan
}

func chunkItems(items []*store.Item, size int) [][]*store.Item {
	var chunks [][]*store.Item
	for len(items) > 0 {
		n := size
		if len(items) < n {
			n = len(items)
		}
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}
