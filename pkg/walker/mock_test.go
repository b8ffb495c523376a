package walker

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/yuya-takeyama/icloud-mirror/pkg/remote"
)

// fakeDrive serves a tree declared as a map from folder ID to children.
// File content lives under the file's ID.
type fakeDrive struct {
	root     *remote.Node
	children map[string][]*remote.Node
	content  map[string][]byte
	openErr  map[string]error // per-file forced failures
}

func (d *fakeDrive) Root(ctx context.Context) (*remote.Node, error) {
	return d.root, nil
}

func (d *fakeDrive) Children(ctx context.Context, node *remote.Node) ([]*remote.Node, error) {
	return d.children[node.ID], nil
}

func (d *fakeDrive) LookupPath(ctx context.Context, path string) (*remote.Node, error) {
	node := d.root
	for _, seg := range strings.Split(path, "/") {
		var next *remote.Node
		for _, child := range d.children[node.ID] {
			if child.Name == seg {
				next = child
				break
			}
		}
		if next == nil {
			return nil, remote.NotFound(path)
		}
		node = next
	}
	return node, nil
}

func (d *fakeDrive) OpenFile(ctx context.Context, node *remote.Node, offset int64) (io.ReadCloser, error) {
	if err := d.openErr[node.ID]; err != nil {
		return nil, err
	}
	data := d.content[node.ID]
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

// fakePhotos serves albums and pre-paged asset lists from memory.
type fakePhotos struct {
	albums     []*remote.Album
	pages      [][]*remote.Asset            // library pages
	albumPages map[string][][]*remote.Asset // by album key
	content    map[string][]byte
	pageErr    error
	pageErrAt  int
	openErr    map[string]error
}

func (p *fakePhotos) All(ctx context.Context) (remote.AssetPager, error) {
	return &fakePager{pages: p.pages, errAt: p.pageErrAt, err: p.pageErr}, nil
}

func (p *fakePhotos) Albums(ctx context.Context) ([]*remote.Album, error) {
	return p.albums, nil
}

func (p *fakePhotos) Album(ctx context.Context, name string) (*remote.Album, error) {
	for _, album := range p.albums {
		if album.Title == name || album.Key == name {
			return album, nil
		}
	}
	return nil, remote.NotFound(name)
}

func (p *fakePhotos) AlbumAssets(ctx context.Context, album *remote.Album) (remote.AssetPager, error) {
	return &fakePager{pages: p.albumPages[album.Key]}, nil
}

func (p *fakePhotos) OpenAsset(ctx context.Context, asset *remote.Asset, offset int64) (io.ReadCloser, error) {
	if err := p.openErr[asset.ID]; err != nil {
		return nil, err
	}
	data := p.content[asset.ID]
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

type fakePager struct {
	pages [][]*remote.Asset
	idx   int
	err   error
	errAt int
}

func (p *fakePager) HasMorePages() bool { return p.idx < len(p.pages) }

func (p *fakePager) NextPage(ctx context.Context) ([]*remote.Asset, error) {
	if p.err != nil && p.idx == p.errAt {
		return nil, p.err
	}
	page := p.pages[p.idx]
	p.idx++
	return page, nil
}

// recordingLogger captures error events; everything else is dropped.
type recordingLogger struct {
	errorPaths []string
}

func (l *recordingLogger) Skip(path string, size int64)              {}
func (l *recordingLogger) Fetch(path string, size int64)             {}
func (l *recordingLogger) Resume(path string, existing, total int64) {}
func (l *recordingLogger) Progress(label string, written, exp int64) {}
func (l *recordingLogger) Mismatch(path string, existing, exp int64) {}
func (l *recordingLogger) NotFound(what string)                      {}

func (l *recordingLogger) Error(operation, path string, err error) {
	l.errorPaths = append(l.errorPaths, path)
}
func (l *recordingLogger) Info(format string, args ...interface{}) {}
