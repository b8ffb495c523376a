// Package remote defines the capability contract the download engine
// requires from a remote store: hierarchical drive traversal, flat media
// collections, and ranged byte streams.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound reports that a requested path or album does not exist remotely.
var ErrNotFound = errors.New("not found")

// NotFound wraps ErrNotFound with the name of the missing item.
func NotFound(name string) error {
	return fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Kind distinguishes folder and file entries in a drive tree.
type Kind int

const (
	KindFolder Kind = iota
	KindFile
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

// Node is a remote drive entry. Size is nil when the remote does not
// report one; it is only meaningful for KindFile.
type Node struct {
	ID   string
	Name string
	Kind Kind
	Size *int64
}

// Asset is a remote media item addressed outside the drive hierarchy.
// Filename may be empty and Size nil when the original version record
// is absent.
type Asset struct {
	ID          string
	Filename    string
	Size        *int64
	DownloadURL string
}

// Album is a named, ordered collection of assets. Key is the remote
// identifier; Title is the display name, which may differ from Key.
type Album struct {
	Key   string
	Title string
}

// Drive iterates a hierarchical file tree and opens file byte streams.
type Drive interface {
	// Root returns the top-level folder node.
	Root(ctx context.Context) (*Node, error)
	// Children lists a folder's entries in the order the remote reports them.
	Children(ctx context.Context, node *Node) ([]*Node, error)
	// LookupPath resolves a slash-separated path relative to the root.
	// Returns an error wrapping ErrNotFound when the path does not exist.
	LookupPath(ctx context.Context, path string) (*Node, error)
	// OpenFile opens a file's byte stream. A positive offset requests
	// only the remaining range (bytes=<offset>-).
	OpenFile(ctx context.Context, node *Node, offset int64) (io.ReadCloser, error)
}

// Photos iterates flat media collections and opens asset byte streams.
type Photos interface {
	// All pages through every asset in the library.
	All(ctx context.Context) (AssetPager, error)
	// Albums lists all albums.
	Albums(ctx context.Context) ([]*Album, error)
	// Album resolves an album by name (title or key). Returns an error
	// wrapping ErrNotFound when no album matches.
	Album(ctx context.Context, name string) (*Album, error)
	// AlbumAssets pages through an album's assets in album order.
	AlbumAssets(ctx context.Context, album *Album) (AssetPager, error)
	// OpenAsset opens an asset's byte stream, optionally from an offset.
	OpenAsset(ctx context.Context, asset *Asset, offset int64) (io.ReadCloser, error)
}

// AssetPager pages through an asset collection without loading it into
// memory up front.
type AssetPager interface {
	HasMorePages() bool
	NextPage(ctx context.Context) ([]*Asset, error)
}

// RangeHeader formats an HTTP byte-range header value for resuming at
// the given offset.
func RangeHeader(offset int64) string {
	return fmt.Sprintf("bytes=%d-", offset)
}
