package storage

import "strings"

type refKind int

const (
	refLocal refKind = iota
	refRemote
)

// Ref is a classified content reference: either a local filesystem path or a
// remote URL. Every consumer goes through ClassifyRef instead of re-deriving
// prefix checks ad hoc.
type Ref struct {
	kind  refKind
	value string
}

// ClassifyRef classifies a raw reference string by URL scheme.
func ClassifyRef(ref string) Ref {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return Ref{kind: refRemote, value: ref}
	}
	return Ref{kind: refLocal, value: ref}
}

// IsRemote reports whether the reference requires a network fetch.
func (r Ref) IsRemote() bool {
	return r.kind == refRemote
}

func (r Ref) String() string {
	return r.value
}

// publicObjectPrefix marks the bucket/key portion of a public storage URL.
const publicObjectPrefix = "/storage/v1/object/public/"

// SplitPublicURL extracts the bucket and object key from a public storage
// URL produced by Put. ok is false for references that are not public
// object URLs, local paths included.
func SplitPublicURL(ref string) (bucket, key string, ok bool) {
	idx := strings.Index(ref, publicObjectPrefix)
	if idx < 0 {
		return "", "", false
	}
	bucket, key, found := strings.Cut(ref[idx+len(publicObjectPrefix):], "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
