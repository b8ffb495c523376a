package icloud

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/yuya-takeyama/icloud-mirror/pkg/remote"
)

const rootDrivewsID = "FOLDER::com.apple.CloudDocs::root"

// Drive exposes the iCloud Drive document tree as a remote.Drive.
type Drive struct {
	c          *Client
	serviceURL string // drivews: folder listings
	docsURL    string // docws: download tokens
}

var _ remote.Drive = (*Drive)(nil)

// driveItem is the wire form of a drive entry. The name and extension
// are reported separately; size is present only for files.
type driveItem struct {
	Drivewsid string      `json:"drivewsid"`
	Docwsid   string      `json:"docwsid"`
	Zone      string      `json:"zone"`
	Name      string      `json:"name"`
	Extension string      `json:"extension,omitempty"`
	Type      string      `json:"type"` // "FOLDER" or "FILE"
	Size      *int64      `json:"size,omitempty"`
	Items     []driveItem `json:"items"`
}

func (it driveItem) node() *remote.Node {
	n := &remote.Node{
		ID:   it.Drivewsid,
		Name: it.Name,
		Kind: remote.KindFolder,
	}
	if it.Type != "FOLDER" {
		n.Kind = remote.KindFile
		n.Size = it.Size
		if it.Extension != "" {
			n.Name = it.Name + "." + it.Extension
		}
	}
	return n
}

// Root returns the drive's root folder.
func (d *Drive) Root(ctx context.Context) (*remote.Node, error) {
	return &remote.Node{ID: rootDrivewsID, Kind: remote.KindFolder}, nil
}

type folderRequest struct {
	Drivewsid   string `json:"drivewsid"`
	PartialData bool   `json:"partialData"`
}

// Children lists a folder's entries in the order the service reports them.
func (d *Drive) Children(ctx context.Context, node *remote.Node) ([]*remote.Node, error) {
	if node.Kind != remote.KindFolder {
		return nil, fmt.Errorf("%s is not a folder", node.Name)
	}

	req := []folderRequest{{Drivewsid: node.ID}}
	var resp []driveItem
	url := d.serviceURL + "/retrieveItemDetailsInFolders"
	if err := d.c.postJSON(ctx, url, req, &resp); err != nil {
		return nil, fmt.Errorf("retrieve folder %s: %w", node.ID, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("folder %s missing from response", node.ID)
	}

	children := make([]*remote.Node, 0, len(resp[0].Items))
	for _, it := range resp[0].Items {
		children = append(children, it.node())
	}
	return children, nil
}

// LookupPath resolves a slash-separated path from the drive root,
// wrapping remote.ErrNotFound when any segment is missing.
func (d *Drive) LookupPath(ctx context.Context, path string) (*remote.Node, error) {
	node, err := d.Root(ctx)
	if err != nil {
		return nil, err
	}

	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		if segment == "" {
			continue
		}
		children, err := d.Children(ctx, node)
		if err != nil {
			return nil, err
		}
		node = nil
		for _, child := range children {
			if child.Name == segment {
				node = child
				break
			}
		}
		if node == nil {
			return nil, remote.NotFound(path)
		}
	}
	return node, nil
}

type downloadInfo struct {
	DataToken struct {
		URL string `json:"url"`
	} `json:"data_token"`
	PackageToken struct {
		URL string `json:"url"`
	} `json:"package_token"`
}

// OpenFile resolves the file's download token and opens the byte stream,
// requesting only the remaining range when offset is positive.
func (d *Drive) OpenFile(ctx context.Context, node *remote.Node, offset int64) (io.ReadCloser, error) {
	zone, docwsid, err := splitDrivewsID(node.ID)
	if err != nil {
		return nil, err
	}

	infoURL := fmt.Sprintf("%s/ws/%s/download/by_id?document_id=%s", d.docsURL, zone, url.QueryEscape(docwsid))
	var info downloadInfo
	if err := d.c.getJSON(ctx, infoURL, &info); err != nil {
		return nil, fmt.Errorf("download info for %s: %w", node.Name, err)
	}

	downloadURL := info.DataToken.URL
	if downloadURL == "" {
		downloadURL = info.PackageToken.URL
	}
	if downloadURL == "" {
		return nil, fmt.Errorf("no download token for %s", node.Name)
	}

	return d.c.openStream(ctx, downloadURL, offset)
}

// splitDrivewsID splits "FILE::<zone>::<docwsid>" into zone and docwsid.
func splitDrivewsID(id string) (zone, docwsid string, err error) {
	parts := strings.SplitN(id, "::", 3)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("malformed drivewsid: %s", id)
	}
	return parts[1], parts[2], nil
}
