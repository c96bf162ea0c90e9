package audit

import "database/sql"

// Observation is an Entry together with the digest computed for it.
type Observation struct {
	Entry
	Hash       string // empty when not computed
	HashFailed bool
}

// Outcome is the classification of one path. Flags are only set for Modify.
type Outcome struct {
	Kind            ChangeKind
	MetadataChanged sql.NullBool
	HashChanged     sql.NullBool
}

// metadataDiffers compares the timestamp and size of a file against its
// stored state. Directory metadata is not compared: a directory's mtime only
// moves when its children change, and those changes are recorded per child.
func metadataDiffers(old *Item, e *Entry) bool {
	if old.Kind.IsDir() || e.Kind.IsDir() {
		return false
	}
	if !old.FileSize.Valid || old.FileSize.Int64 != e.Size {
		return true
	}
	return !old.LastModified.Equal(e.ModTime)
}

// NeedsHash reports whether the observed entry must be hashed before it can
// be classified. old is nil for a path that has no live item.
func NeedsHash(old *Item, e *Entry, deep bool) bool {
	if e == nil || e.Kind != ItemFile {
		return false
	}
	if old == nil || old.Kind != ItemFile {
		return deep
	}
	if deep {
		return true
	}
	return metadataDiffers(old, e)
}

// Classify maps the stored state of a path and its new observation to an
// outcome. Either side may be nil, but not both.
func Classify(old *Item, obs *Observation, deep bool) Outcome {
	switch {
	case old == nil:
		return Outcome{Kind: ChangeAdd}
	case obs == nil:
		return Outcome{Kind: ChangeDelete}
	case old.Kind != obs.Kind:
		return Outcome{Kind: ChangeTypeChange}
	case old.Kind.IsDir():
		return Outcome{Kind: ChangeNone}
	}

	metaChanged := metadataDiffers(old, &obs.Entry)
	hashConsulted := deep || metaChanged

	if hashConsulted && obs.HashFailed {
		return Outcome{
			Kind:            ChangeModify,
			MetadataChanged: sql.NullBool{Bool: metaChanged, Valid: true},
		}
	}

	var hashChanged sql.NullBool
	if hashConsulted && obs.Hash != "" && old.FileHash.Valid {
		hashChanged = sql.NullBool{Bool: obs.Hash != old.FileHash.String, Valid: true}
	}

	if !metaChanged && !hashChanged.Bool {
		return Outcome{Kind: ChangeNone}
	}
	return Outcome{
		Kind:            ChangeModify,
		MetadataChanged: sql.NullBool{Bool: metaChanged, Valid: true},
		HashChanged:     hashChanged,
	}
}
