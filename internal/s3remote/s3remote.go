// Package s3remote exposes an S3 bucket/prefix as a remote drive tree, so
// the same planner/executor/walker engine can mirror buckets to disk.
package s3remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/yuya-takeyama/icloud-mirror/pkg/remote"
)

// Drive adapts an S3 bucket/prefix to remote.Drive. Folder node IDs are
// key prefixes ending in "/"; file node IDs are object keys.
type Drive struct {
	client *s3.Client
	bucket string
	prefix string // "" or ending in "/"
}

var _ remote.Drive = (*Drive)(nil)

func New(cfg aws.Config, bucket, prefix string) *Drive {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Drive{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}
}

// ParseURI parses s3://bucket/prefix into its parts.
func ParseURI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("URI must start with s3://")
	}

	path := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(path, "/", 2)

	bucket = parts[0]
	if len(parts) > 1 {
		prefix = parts[1]
	}

	if bucket == "" {
		return "", "", fmt.Errorf("bucket name cannot be empty")
	}
	return bucket, prefix, nil
}

// Root returns the configured prefix as the tree root.
func (d *Drive) Root(ctx context.Context) (*remote.Node, error) {
	return &remote.Node{ID: d.prefix, Kind: remote.KindFolder}, nil
}

// Children lists one level of the bucket under the node's prefix, using
// the delimiter so common prefixes become folders.
func (d *Drive) Children(ctx context.Context, node *remote.Node) ([]*remote.Node, error) {
	if node.Kind != remote.KindFolder {
		return nil, fmt.Errorf("%s is not a folder", node.Name)
	}

	var children []*remote.Node
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(node.ID),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			children = append(children, &remote.Node{
				ID:   *cp.Prefix,
				Name: baseName(*cp.Prefix),
				Kind: remote.KindFolder,
			})
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || *obj.Key == node.ID || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			children = append(children, &remote.Node{
				ID:   *obj.Key,
				Name: baseName(*obj.Key),
				Kind: remote.KindFile,
				Size: obj.Size,
			})
		}
	}

	return children, nil
}

// LookupPath resolves a key relative to the configured prefix: an exact
// object is a file; a key with descendants is a folder.
func (d *Drive) LookupPath(ctx context.Context, path string) (*remote.Node, error) {
	key := d.prefix + strings.Trim(path, "/")

	head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return &remote.Node{
			ID:   key,
			Name: baseName(key),
			Kind: remote.KindFile,
			Size: head.ContentLength,
		}, nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("failed to head object: %w", err)
	}

	// Not an object; a non-empty listing under key/ means it is a folder.
	list, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	if aws.ToInt32(list.KeyCount) == 0 {
		return nil, remote.NotFound(path)
	}
	return &remote.Node{
		ID:   key + "/",
		Name: baseName(key),
		Kind: remote.KindFolder,
	}, nil
}

// OpenFile opens the object's byte stream, ranged when offset is positive.
func (d *Drive) OpenFile(ctx context.Context, node *remote.Node, offset int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(node.ID),
	}
	if offset > 0 {
		input.Range = aws.String(remote.RangeHeader(offset))
	}

	resp, err := d.client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return resp.Body, nil
}

// baseName returns the last path segment of a key or prefix.
func baseName(key string) string {
	key = strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
