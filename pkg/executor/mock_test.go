package executor

import (
	"bytes"
	"context"
	"io"

	"github.com/yuya-takeyama/icloud-mirror/pkg/remote"
)

// mockOpener serves file and asset content from memory, recording the
// offsets it was asked for.
type mockOpener struct {
	content map[string][]byte // by node/asset ID
	err     error
	opens   []openCall
}

type openCall struct {
	id     string
	offset int64
}

func (m *mockOpener) open(id string, offset int64) (io.ReadCloser, error) {
	m.opens = append(m.opens, openCall{id: id, offset: offset})
	if m.err != nil {
		return nil, m.err
	}
	data := m.content[id]
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

func (m *mockOpener) OpenFile(ctx context.Context, node *remote.Node, offset int64) (io.ReadCloser, error) {
	return m.open(node.ID, offset)
}

func (m *mockOpener) OpenAsset(ctx context.Context, asset *remote.Asset, offset int64) (io.ReadCloser, error) {
	return m.open(asset.ID, offset)
}

// mockLogger records every event for assertions.
type mockLogger struct {
	skipCalls     []string
	fetchCalls    []string
	resumeCalls   []string
	progressCalls []progressCall
	mismatchCalls []mismatchCall
	notFoundCalls []string
	errorCalls    []string
}

type progressCall struct {
	label    string
	written  int64
	expected int64
}

type mismatchCall struct {
	path     string
	existing int64
	expected int64
}

func (m *mockLogger) Skip(path string, size int64)  { m.skipCalls = append(m.skipCalls, path) }
func (m *mockLogger) Fetch(path string, size int64) { m.fetchCalls = append(m.fetchCalls, path) }
func (m *mockLogger) Resume(path string, existing, total int64) {
	m.resumeCalls = append(m.resumeCalls, path)
}
func (m *mockLogger) Progress(label string, written, expected int64) {
	m.progressCalls = append(m.progressCalls, progressCall{label, written, expected})
}
func (m *mockLogger) Mismatch(path string, existing, expected int64) {
	m.mismatchCalls = append(m.mismatchCalls, mismatchCall{path, existing, expected})
}
func (m *mockLogger) NotFound(what string) { m.notFoundCalls = append(m.notFoundCalls, what) }
func (m *mockLogger) Error(operation, path string, err error) {
	m.errorCalls = append(m.errorCalls, path)
}
func (m *mockLogger) Info(format string, args ...interface{}) {}
