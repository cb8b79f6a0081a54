package cache

import "sort"

// TagIndex maps tags to the identities that currently declare them.
// It is not safe for concurrent use; Store serializes access to it.
type TagIndex struct {
	buckets  map[Tag]map[Identity]struct{}
	declared map[Identity]map[Tag]struct{}
}

// NewTagIndex returns an empty index.
func NewTagIndex() *TagIndex {
	return &TagIndex{
		buckets:  make(map[Tag]map[Identity]struct{}),
		declared: make(map[Identity]map[Tag]struct{}),
	}
}

// Declare replaces the set of tags declared by id. Tags no longer declared
// are removed from their buckets (empty buckets are deleted); new tags are added.
func (x *TagIndex) Declare(id Identity, tags []Tag) {
	next := make(map[Tag]struct{}, len(tags))
	for _, tag := range uniqueTags(tags) {
		next[tag] = struct{}{}
	}

	prev := x.declared[id]
	for tag := range prev {
		if _, keep := next[tag]; !keep {
			x.removeFromBucket(tag, id)
		}
	}
	for tag := range next {
		if _, had := prev[tag]; had {
			continue
		}
		bucket, ok := x.buckets[tag]
		if !ok {
			bucket = make(map[Identity]struct{})
			x.buckets[tag] = bucket
		}
		bucket[id] = struct{}{}
	}

	if len(next) == 0 {
		delete(x.declared, id)
		return
	}
	x.declared[id] = next
}

// Remove drops every membership held by id.
func (x *TagIndex) Remove(id Identity) {
	for tag := range x.declared[id] {
		x.removeFromBucket(tag, id)
	}
	delete(x.declared, id)
}

func (x *TagIndex) removeFromBucket(tag Tag, id Identity) {
	bucket, ok := x.buckets[tag]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(x.buckets, tag)
	}
}

// Resolve returns the union of identities registered under any of tags,
// without duplicates, sorted by their string form.
func (x *TagIndex) Resolve(tags ...Tag) []Identity {
	set := make(map[Identity]struct{})
	for _, tag := range tags {
		for id := range x.buckets[tag] {
			set[id] = struct{}{}
		}
	}
	return sortedIdentities(set)
}

// Tags returns the tags currently declared by id.
func (x *TagIndex) Tags(id Identity) []Tag {
	declared := x.declared[id]
	if len(declared) == 0 {
		return nil
	}
	out := make([]Tag, 0, len(declared))
	for tag := range declared {
		out = append(out, tag)
	}
	sortTags(out)
	return out
}

// Has reports whether id holds at least one membership.
func (x *TagIndex) Has(id Identity) bool {
	_, ok := x.declared[id]
	return ok
}

// Len returns the number of non-empty buckets.
func (x *TagIndex) Len() int {
	return len(x.buckets)
}

// BucketLen returns the number of identities under tag.
func (x *TagIndex) BucketLen(tag Tag) int {
	return len(x.buckets[tag])
}

// identities lists every identity that holds a membership.
func (x *TagIndex) identities() []Identity {
	set := make(map[Identity]struct{}, len(x.declared))
	for id := range x.declared {
		set[id] = struct{}{}
	}
	for _, bucket := range x.buckets {
		for id := range bucket {
			set[id] = struct{}{}
		}
	}
	return sortedIdentities(set)
}

func sortedIdentities(set map[Identity]struct{}) []Identity {
	if len(set) == 0 {
		return nil
	}
	out := make([]Identity, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
