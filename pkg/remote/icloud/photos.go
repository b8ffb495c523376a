package icloud

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/yuya-takeyama/icloud-mirror/pkg/remote"
)

const (
	photosZone     = "PrimarySync"
	photosPageSize = 200

	recordTypeAlbums      = "CPLAlbumByPositionLive"
	recordTypeAssets      = "CPLAssetAndMasterByAddedDate"
	recordTypeAlbumAssets = "CPLContainerRelationLiveByAssetDate"
	recordTypeMaster      = "CPLMaster"
)

// PhotoLibrary exposes iCloud Photos as a remote.Photos. Collections are
// paged through the record database's continuation markers, never loaded
// whole.
type PhotoLibrary struct {
	c          *Client
	serviceURL string // ckdatabasews
}

var _ remote.Photos = (*PhotoLibrary)(nil)

func (p *PhotoLibrary) queryURL() string {
	return p.serviceURL + "/database/1/com.apple.photos.cloud/production/private/records/query?remapEnums=True&getCurrentSyncToken=True"
}

// recordQuery is the wire form of a record database query.
type recordQuery struct {
	Query struct {
		RecordType string        `json:"recordType"`
		FilterBy   []queryFilter `json:"filterBy,omitempty"`
	} `json:"query"`
	ZoneID             zoneID `json:"zoneID"`
	ResultsLimit       int    `json:"resultsLimit,omitempty"`
	ContinuationMarker string `json:"continuationMarker,omitempty"`
}

type queryFilter struct {
	FieldName  string      `json:"fieldName"`
	Comparator string      `json:"comparator"`
	FieldValue recordValue `json:"fieldValue"`
}

type zoneID struct {
	ZoneName string `json:"zoneName"`
}

type recordValue struct {
	Value interface{} `json:"value"`
	Type  string      `json:"type,omitempty"`
}

type record struct {
	RecordName string                `json:"recordName"`
	RecordType string                `json:"recordType"`
	Fields     map[string]fieldValue `json:"fields"`
}

type fieldValue struct {
	Value interface{} `json:"value"`
}

type queryResponse struct {
	Records            []record `json:"records"`
	ContinuationMarker string   `json:"continuationMarker,omitempty"`
}

func newQuery(recordType string, filters ...queryFilter) recordQuery {
	var q recordQuery
	q.Query.RecordType = recordType
	q.Query.FilterBy = filters
	q.ZoneID = zoneID{ZoneName: photosZone}
	return q
}

// Albums lists every album in the library.
func (p *PhotoLibrary) Albums(ctx context.Context) ([]*remote.Album, error) {
	q := newQuery(recordTypeAlbums)

	var albums []*remote.Album
	marker := ""
	for {
		q.ContinuationMarker = marker
		var resp queryResponse
		if err := p.c.postJSON(ctx, p.queryURL(), q, &resp); err != nil {
			return nil, fmt.Errorf("query albums: %w", err)
		}
		for _, rec := range resp.Records {
			title := decodeStringField(rec.Fields, "albumNameEnc")
			if title == "" {
				title = rec.RecordName
			}
			albums = append(albums, &remote.Album{Key: rec.RecordName, Title: title})
		}
		if resp.ContinuationMarker == "" {
			return albums, nil
		}
		marker = resp.ContinuationMarker
	}
}

// Album resolves an album by display title, falling back to the record
// key, wrapping remote.ErrNotFound on a miss.
func (p *PhotoLibrary) Album(ctx context.Context, name string) (*remote.Album, error) {
	albums, err := p.Albums(ctx)
	if err != nil {
		return nil, err
	}
	for _, album := range albums {
		if album.Title == name {
			return album, nil
		}
	}
	for _, album := range albums {
		if album.Key == name {
			return album, nil
		}
	}
	return nil, remote.NotFound(name)
}

// All pages through the whole library in added-date order.
func (p *PhotoLibrary) All(ctx context.Context) (remote.AssetPager, error) {
	return &assetPager{p: p, query: newQuery(recordTypeAssets)}, nil
}

// AlbumAssets pages through one album in album order.
func (p *PhotoLibrary) AlbumAssets(ctx context.Context, album *remote.Album) (remote.AssetPager, error) {
	filter := queryFilter{
		FieldName:  "parentId",
		Comparator: "EQUALS",
		FieldValue: recordValue{Value: album.Key, Type: "STRING"},
	}
	return &assetPager{p: p, query: newQuery(recordTypeAlbumAssets, filter)}, nil
}

// OpenAsset opens the asset's original-version byte stream.
func (p *PhotoLibrary) OpenAsset(ctx context.Context, asset *remote.Asset, offset int64) (io.ReadCloser, error) {
	if asset.DownloadURL == "" {
		return nil, fmt.Errorf("asset %s has no original version to download", asset.ID)
	}
	return p.c.openStream(ctx, asset.DownloadURL, offset)
}

// assetPager walks a record query one continuation marker at a time.
type assetPager struct {
	p      *PhotoLibrary
	query  recordQuery
	marker string
	done   bool
}

func (ap *assetPager) HasMorePages() bool { return !ap.done }

func (ap *assetPager) NextPage(ctx context.Context) ([]*remote.Asset, error) {
	q := ap.query
	q.ResultsLimit = photosPageSize
	q.ContinuationMarker = ap.marker

	var resp queryResponse
	if err := ap.p.c.postJSON(ctx, ap.p.queryURL(), q, &resp); err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}

	assets := make([]*remote.Asset, 0, len(resp.Records))
	for _, rec := range resp.Records {
		if rec.RecordType != recordTypeMaster {
			continue
		}
		assets = append(assets, masterAsset(rec))
	}

	ap.marker = resp.ContinuationMarker
	ap.done = resp.ContinuationMarker == ""
	return assets, nil
}

// masterAsset maps a CPLMaster record to an Asset. Size and download URL
// come from the original-resolution resource, which may be absent.
func masterAsset(rec record) *remote.Asset {
	asset := &remote.Asset{
		ID:       rec.RecordName,
		Filename: decodeStringField(rec.Fields, "filenameEnc"),
	}

	if res, ok := rec.Fields["resOriginalRes"]; ok {
		if m, ok := res.Value.(map[string]interface{}); ok {
			if size, ok := m["size"].(float64); ok {
				n := int64(size)
				asset.Size = &n
			}
			if u, ok := m["downloadURL"].(string); ok {
				asset.DownloadURL = u
			}
		}
	}
	return asset
}

// decodeStringField decodes a base64-encoded string field, returning ""
// when the field is absent or malformed.
func decodeStringField(fields map[string]fieldValue, name string) string {
	f, ok := fields[name]
	if !ok {
		return ""
	}
	enc, ok := f.Value.(string)
	if !ok {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return ""
	}
	return string(decoded)
}
