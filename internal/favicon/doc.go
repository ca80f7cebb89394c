// Package favicon defines the types, errors, and collaborator interfaces shared by
// the favicon discovery pipeline: the head link extractor, the manifest resolver,
// the two-strategy resolver, and the caching gateway in front of them.
package favicon
