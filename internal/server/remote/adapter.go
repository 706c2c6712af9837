// Package remote defines the boundary to the external issue tracker. The
// Adapter is the only component that talks to the remote service; every
// call carries a caller-supplied credential and a bounded timeout, and
// every failure is classified into the shared error taxonomy.
package remote

import "context"

// Credential is an opaque caller-supplied token passed through to the
// tracker. Obtaining and refreshing it is someone else's problem.
type Credential string

// ObjectMetadata describes an object being uploaded.
type ObjectMetadata struct {
	WorkItemID string
	FileName   string
	MimeType   string
	Size       int64
}

// RemoteObject is one attachment as listed by the tracker.
type RemoteObject struct {
	Reference string
	Revision  string
	FileName  string
	Size      int64
}

// Adapter is the capability set the sync engine consumes from the tracker.
type Adapter interface {
	// UploadObject transfers bytes in a single shot and returns the remote
	// reference of the created object.
	UploadObject(ctx context.Context, cred Credential, data []byte, meta ObjectMetadata) (string, error)

	// UploadChunk transfers one byte range of a server-side chunked upload
	// session identified by sessionToken.
	UploadChunk(ctx context.Context, cred Credential, sessionToken string, startByte, endByte int64, data []byte) error

	// LinkObject associates an uploaded object with a work item.
	LinkObject(ctx context.Context, cred Credential, workItemID, remoteReference, comment string) error

	// ListObjects returns the attachments currently linked to a work item.
	ListObjects(ctx context.Context, cred Credential, workItemID string) ([]RemoteObject, error)

	// FetchObject downloads the content of a remote object.
	FetchObject(ctx context.Context, cred Credential, remoteReference string) ([]byte, error)

	// DeleteLink removes the association between a work item and an object.
	DeleteLink(ctx context.Context, cred Credential, workItemID, remoteReference string) error
}
