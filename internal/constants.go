package internal

const (
	// Headers attached to notification domain events published to the queue.
	HeaderDocumentID = "document_id"
	HeaderIdentity   = "identity"
	HeaderEventKind  = "event_kind"
)
