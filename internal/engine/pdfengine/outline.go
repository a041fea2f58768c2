package pdfengine

import (
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/a3tai/papyrus-engine/internal/engine"
)

// Guards against cyclic or absurdly deep object graphs.
const (
	maxTreeDepth   = 64
	maxOutlineSize = 10000
)

// indexPages maps each page object number to its page index by walking
// the page tree in document order.
func (d *document) indexPages() map[int]int {
	nrs := make(map[int]int, d.pages)

	catalog, err := d.ctx.Catalog()
	if err != nil {
		return nrs
	}
	root, found := catalog.Find("Pages")
	if !found {
		return nrs
	}

	next := 0
	var walk func(obj types.Object, depth int)
	walk = func(obj types.Object, depth int) {
		if depth > maxTreeDepth {
			return
		}
		node, err := d.ctx.DereferenceDict(obj)
		if err != nil || node == nil {
			return
		}
		if kids, found := node.Find("Kids"); found {
			arr, err := d.ctx.DereferenceArray(kids)
			if err != nil {
				return
			}
			for _, kid := range arr {
				walk(kid, depth+1)
			}
			return
		}
		if nr, ok := objectNumber(obj); ok {
			nrs[nr] = next
		}
		next++
	}
	walk(root, 0)
	return nrs
}

func objectNumber(obj types.Object) (int, bool) {
	switch ref := obj.(type) {
	case types.IndirectRef:
		return int(ref.ObjectNumber), true
	case *types.IndirectRef:
		if ref != nil {
			return int(ref.ObjectNumber), true
		}
	}
	return 0, false
}

// outline walks /Outlines, resolving each entry's /Dest or GoTo action.
func (d *document) outline() []engine.OutlineItem {
	catalog, err := d.ctx.Catalog()
	if err != nil {
		return []engine.OutlineItem{}
	}
	obj, found := catalog.Find("Outlines")
	if !found {
		return []engine.OutlineItem{}
	}
	root, err := d.ctx.DereferenceDict(obj)
	if err != nil || root == nil {
		return []engine.OutlineItem{}
	}

	seen := make(map[int]bool)
	count := 0
	items := d.outlineLevel(root, 0, seen, &count)
	if items == nil {
		items = []engine.OutlineItem{}
	}
	return items
}

func (d *document) outlineLevel(parent types.Dict, depth int, seen map[int]bool, count *int) []engine.OutlineItem {
	if depth > maxTreeDepth {
		return nil
	}

	var items []engine.OutlineItem
	cur, found := parent.Find("First")
	for found && *count < maxOutlineSize {
		if nr, ok := objectNumber(cur); ok {
			if seen[nr] {
				break
			}
			seen[nr] = true
		}

		entry, err := d.ctx.DereferenceDict(cur)
		if err != nil || entry == nil {
			break
		}
		*count++

		item := engine.OutlineItem{PageIndex: engine.NoPage}
		if t, found := entry.Find("Title"); found {
			if title, err := d.ctx.DereferenceStringOrHexLiteral(t, model.V10, nil); err == nil {
				item.Title = title
			}
		}
		if dest, found := entry.Find("Dest"); found {
			item.PageIndex = d.resolveDest(dest, 0)
		} else if action, found := entry.Find("A"); found {
			item.PageIndex = d.resolveAction(action)
		}
		item.Children = d.outlineLevel(entry, depth+1, seen, count)

		items = append(items, item)
		cur, found = entry.Find("Next")
	}
	return items
}

func (d *document) resolveAction(obj types.Object) int {
	action, err := d.ctx.DereferenceDict(obj)
	if err != nil || action == nil {
		return engine.NoPage
	}
	if s, found := action.Find("S"); found {
		if name, err := d.ctx.DereferenceName(s, model.V10, nil); err != nil || string(name) != "GoTo" {
			return engine.NoPage
		}
	}
	if dest, found := action.Find("D"); found {
		return d.resolveDest(dest, 0)
	}
	return engine.NoPage
}

// resolveDest turns an explicit destination array, a destination name or
// a dictionary with /D into a page index.
func (d *document) resolveDest(obj types.Object, depth int) int {
	if depth > 4 {
		return engine.NoPage
	}

	resolved, err := d.ctx.Dereference(obj)
	if err != nil || resolved == nil {
		return engine.NoPage
	}

	switch v := resolved.(type) {
	case types.Array:
		if len(v) == 0 {
			return engine.NoPage
		}
		if nr, ok := objectNumber(v[0]); ok {
			if idx, ok := d.pageNrs[nr]; ok {
				return idx
			}
			return engine.NoPage
		}
		// Remote destinations carry a page number instead of a reference.
		if n, ok := v[0].(types.Integer); ok && int(n) >= 0 && int(n) < d.pages {
			return int(n)
		}
	case types.Dict:
		if dest, found := v.Find("D"); found {
			return d.resolveDest(dest, depth+1)
		}
	case types.Name:
		return d.namedDest(string(v), depth)
	case types.StringLiteral, types.HexLiteral:
		name, err := d.ctx.DereferenceStringOrHexLiteral(v, model.V10, nil)
		if err == nil {
			return d.namedDest(name, depth)
		}
	}
	return engine.NoPage
}

// namedDest looks name up in the catalog /Dests dictionary and the
// /Names /Dests name tree.
func (d *document) namedDest(name string, depth int) int {
	if name == "" {
		return engine.NoPage
	}
	catalog, err := d.ctx.Catalog()
	if err != nil {
		return engine.NoPage
	}

	if obj, found := catalog.Find("Dests"); found {
		if dests, err := d.ctx.DereferenceDict(obj); err == nil && dests != nil {
			if dest, found := dests.Find(name); found {
				return d.resolveDest(dest, depth+1)
			}
		}
	}

	if obj, found := catalog.Find("Names"); found {
		if names, err := d.ctx.DereferenceDict(obj); err == nil && names != nil {
			if tree, found := names.Find("Dests"); found {
				if dest, ok := d.lookupNameTree(tree, name, 0); ok {
					return d.resolveDest(dest, depth+1)
				}
			}
		}
	}
	return engine.NoPage
}

func (d *document) lookupNameTree(obj types.Object, name string, depth int) (types.Object, bool) {
	if depth > maxTreeDepth {
		return nil, false
	}
	node, err := d.ctx.DereferenceDict(obj)
	if err != nil || node == nil {
		return nil, false
	}

	if pairs, found := node.Find("Names"); found {
		arr, err := d.ctx.DereferenceArray(pairs)
		if err == nil {
			for i := 0; i+1 < len(arr); i += 2 {
				key, err := d.ctx.DereferenceStringOrHexLiteral(arr[i], model.V10, nil)
				if err == nil && key == name {
					return arr[i+1], true
				}
			}
		}
	}

	if kids, found := node.Find("Kids"); found {
		arr, err := d.ctx.DereferenceArray(kids)
		if err != nil {
			return nil, false
		}
		for _, kid := range arr {
			if dest, ok := d.lookupNameTree(kid, name, depth+1); ok {
				return dest, true
			}
		}
	}
	return nil, false
}
