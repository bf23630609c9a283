package model

import (
	"time"

	"github.com/soliplex/ingester/id"
)

// Document is a unique content blob, keyed by its content hash
// ("sha256-<hex>"). Multiple DocumentURIs across different sources may
// point at the same Document when their content is identical.
type Document struct {
	Hash     string            `json:"hash"`
	MimeType string            `json:"mime_type"`
	FileSize int64             `json:"file_size"`
	Meta     map[string]string `json:"doc_meta"`
	// RAGID is an opaque reference into an external vector store, set by
	// a store step's handler. The vector store itself is out of scope.
	RAGID   string     `json:"rag_id,omitempty"`
	BatchID id.BatchID `json:"batch_id,omitempty"`
}

// DocumentURI maps an identifier/path on a source system to a Document.
// The pair (URI, Source) is unique; Version increments every time the
// URI is re-ingested and its hash changes.
type DocumentURI struct {
	ID      id.DocumentURIID `json:"id"`
	Hash    string           `json:"doc_hash"`
	URI     string           `json:"uri"`
	Source  string           `json:"source"`
	Version int              `json:"version"`
	BatchID id.BatchID       `json:"batch_id,omitempty"`
}

// DocumentURIHistory is an append-only record of every action taken
// against a DocumentURI: created, updated (hash changed), or deleted.
type DocumentURIHistory struct {
	ID          id.URIHistoryID   `json:"id"`
	DocURIID    id.DocumentURIID  `json:"doc_uri_id"`
	Version     int               `json:"version"`
	Hash        string            `json:"hash"`
	ProcessDate time.Time         `json:"process_date"`
	Action      string            `json:"action"`
	BatchID     id.BatchID        `json:"batch_id,omitempty"`
	Meta        map[string]string `json:"histmeta"`
}

// URI history actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)
