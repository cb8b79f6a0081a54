package cache

import "sort"

// Reserved tag ids for collection-shaped results.
const (
	ListID   = "LIST"
	SearchID = "SEARCH"
)

// Tag labels a class of server-side data. Two tags match only when both
// Type and ID are equal; a type-only tag does not match id tags of that type.
type Tag struct {
	Type string
	ID   string
}

// TypeTag returns a tag without an id, e.g. "BorrowRecord".
func TypeTag(typ string) Tag {
	return Tag{Type: typ}
}

// IDTag returns a tag scoped to one id, e.g. ("Book", "42").
func IDTag(typ, id string) Tag {
	return Tag{Type: typ, ID: id}
}

// String renders the tag as Type or Type:ID.
func (t Tag) String() string {
	if t.ID == "" {
		return t.Type
	}
	return t.Type + ":" + t.ID
}

// uniqueTags drops duplicates and empty tags, returning tags in a stable order.
func uniqueTags(tags []Tag) []Tag {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[Tag]struct{}, len(tags))
	out := make([]Tag, 0, len(tags))
	for _, tag := range tags {
		if tag.Type == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sortTags(out)
	return out
}

func sortTags(tags []Tag) {
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Type != tags[j].Type {
			return tags[i].Type < tags[j].Type
		}
		return tags[i].ID < tags[j].ID
	})
}
