// Package assets implements C9: a pluggable binary-asset store and the
// asset:// reference scheme used to keep large attachments out of the
// event/message payloads that flow through the queue.
package assets

import (
	"context"
	"fmt"
	"strings"

	"github.com/conclavehq/conclave/internal/llm"
	"github.com/conclavehq/conclave/pkg/models"
)

// Asset is the bytes+MIME pair a Store reads and writes.
type Asset struct {
	MimeType string
	Data     []byte
}

// Store is the C9 contract: save(bytes, mime) -> {assetId}, get(assetId) ->
// {bytes, mime}. Implementations (FilesystemStore, S3Store) must write
// atomically and must never mutate the []byte given to Save.
type Store interface {
	Save(ctx context.Context, data []byte, mimeType string) (assetID string, err error)
	Get(ctx context.Context, assetID string) (*Asset, error)

	// PublicURL returns a URL the asset is reachable at without going
	// through this process, or "" if the backend has none. Used when a
	// provider accepts referenced media instead of inline bytes.
	PublicURL(ctx context.Context, assetID string) (string, error)
}

// BuildAssetRef forms the "asset://<ns?>/<id>" reference spec §4.9 names.
// ns may be empty, in which case the host segment is dropped.
func BuildAssetRef(ns, assetID string) string {
	if ns == "" {
		return "asset://" + assetID
	}
	return "asset://" + ns + "/" + assetID
}

// ParseAssetRef splits a "asset://<ns?>/<id>" URI back into its namespace
// (possibly empty) and asset ID. It returns false if uri is not an asset
// reference at all.
func ParseAssetRef(uri string) (ns, assetID string, ok bool) {
	rest, found := strings.CutPrefix(uri, "asset://")
	if !found {
		return "", "", false
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[:i], rest[i+1:], true
	}
	return "", rest, true
}

// ResolveAssetRefsInMessages resolves every asset:// attachment URI in msgs
// to inline bytes via store, returning a new slice — the input is never
// mutated, per §4.9's "adapter MUST NOT mutate caller data". Attachments
// that are already inline, or that are plain URLs, pass through unchanged.
// A resolution failure is recorded by leaving that attachment's URI as-is
// rather than aborting the whole batch.
func ResolveAssetRefsInMessages(ctx context.Context, msgs []llm.CompletionMessage, store Store) []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if len(m.Attachments) == 0 {
			continue
		}
		attachments := make([]models.Attachment, len(m.Attachments))
		copy(attachments, m.Attachments)
		for j, a := range attachments {
			_, assetID, ok := ParseAssetRef(a.URI)
			if !ok {
				continue
			}
			asset, err := store.Get(ctx, assetID)
			if err != nil {
				continue
			}
			attachments[j].Data = asset.Data
			attachments[j].MimeType = asset.MimeType
			attachments[j].URI = ""
		}
		out[i].Attachments = attachments
	}
	return out
}

// ErrNotFound is returned by Get when assetID is unknown to the store.
var ErrNotFound = fmt.Errorf("assets: not found")
