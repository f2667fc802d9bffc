package moderation

import (
	"context"
	"sort"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// ListPending returns one page of the pending queue, newest first.
//
// A single-source filter pages natively. The merged view reads the first
// page*pageSize documents plus the whole sheet, sorts and slices, so its
// deep pages and total are approximate.
func (e *Engine) ListPending(ctx context.Context, filter SourceFilter, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	offset := (page - 1) * pageSize
	out := Page{Page: page, PageSize: pageSize, Items: []PendingItem{}}

	if filter != FilterAll {
		src, err := e.source(SourceType(filter))
		if err != nil {
			return Page{}, err
		}
		items, total, err := src.ListPending(ctx, offset, pageSize)
		if err != nil {
			return Page{}, err
		}
		sortNewestFirst(items)
		out.Items = items
		out.Total = total
		return out, nil
	}

	docs, docTotal, err := (&documentSource{e: e}).ListPending(ctx, 0, offset+pageSize)
	if err != nil {
		return Page{}, err
	}
	merged := docs
	total := docTotal
	if e.sheets != nil {
		rows, rowTotal, err := (&sheetSource{e: e}).ListPending(ctx, 0, 0)
		if err != nil {
			e.logger.WithError(err).Warn("sheet source unavailable, listing documents only")
			out.Degradations = append(out.Degradations, degrade(DegradeSourceUnavailable, err))
		} else {
			merged = append(merged, rows...)
			total += rowTotal
		}
	}
	sortNewestFirst(merged)
	if offset < len(merged) {
		out.Items = merged[offset:min(offset+pageSize, len(merged))]
	}
	out.Total = total
	out.Approximate = true
	return out, nil
}

// sortNewestFirst orders by submission time descending. Ties keep their
// input order.
func sortNewestFirst(items []PendingItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].SubmittedAt.After(items[j].SubmittedAt)
	})
}

func sortOldestFirst(items []PendingItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].SubmittedAt.Before(items[j].SubmittedAt)
	})
}
