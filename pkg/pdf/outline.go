package pdf

// OutlineItem is one bookmark entry. Page is 0-based, -1 when the
// destination cannot be resolved.
type OutlineItem struct {
	Title string
	Level int
	Page  int
}

const maxOutlineItems = 10000

// Outline flattens the document outline tree in reading order.
func (d *Document) Outline() []OutlineItem {
	root, ok := d.ResolveDict(d.Root.Get("Outlines"))
	if !ok {
		return nil
	}
	var items []OutlineItem
	seen := make(map[int]bool)
	d.walkOutline(root.Get("First"), 0, seen, &items)
	return items
}

func (d *Document) walkOutline(obj Object, level int, seen map[int]bool, items *[]OutlineItem) {
	for obj != nil && level < 64 && len(*items) < maxOutlineItems {
		if ref, ok := obj.(Reference); ok {
			if seen[ref.ObjectNumber] {
				return
			}
			seen[ref.ObjectNumber] = true
		}
		node, ok := d.ResolveDict(obj)
		if !ok {
			return
		}
		item := OutlineItem{Level: level, Page: -1}
		if t, ok := d.Resolve(node.Get("Title")).(String); ok {
			item.Title = t.Text()
		}
		if dest := node.Get("Dest"); dest != nil {
			if page, ok := d.resolveDest(dest, 0); ok {
				item.Page = page
			}
		} else if action, ok := d.ResolveDict(node.Get("A")); ok {
			if s, _ := action.GetName("S"); s == "GoTo" {
				if page, ok := d.resolveDest(action.Get("D"), 0); ok {
					item.Page = page
				}
			}
		}
		*items = append(*items, item)
		d.walkOutline(node.Get("First"), level+1, seen, items)
		obj = node.Get("Next")
	}
}
