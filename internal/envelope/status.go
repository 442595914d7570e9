package envelope

// Status is the envelope's position in its lifecycle. Transitions are driven
// exclusively by event insertion; see CanTransitionTo for the permitted
// adjacency and StatusFromEvent for the event mapping.
type Status string

const (
	StatusCreated          Status = "CREATED"
	StatusUploaded         Status = "UPLOADED"
	StatusUploadFailure    Status = "UPLOAD_FAILURE"
	StatusProcessed        Status = "PROCESSED"
	StatusNotificationSent Status = "NOTIFICATION_SENT"
	StatusConsumed         Status = "CONSUMED"
	StatusMetadataFailure  Status = "METADATA_FAILURE"
	StatusSignatureFailure Status = "SIGNATURE_FAILURE"
)

// KnownStatus reports whether v names a defined status.
func KnownStatus(v string) bool {
	switch Status(v) {
	case StatusCreated, StatusUploaded, StatusUploadFailure, StatusProcessed,
		StatusNotificationSent, StatusConsumed, StatusMetadataFailure,
		StatusSignatureFailure:
		return true
	}
	return false
}

// statusByEvent is the total event→status table. Kinds absent here never
// change an envelope's status.
var statusByEvent = map[EventKind]Status{
	EventZipfileProcessingStarted:     StatusCreated,
	EventFileValidationFailure:        StatusMetadataFailure,
	EventDocFailure:                   StatusMetadataFailure,
	EventDocSignatureFailure:          StatusSignatureFailure,
	EventDocUploaded:                  StatusUploaded,
	EventDocUploadFailure:             StatusUploadFailure,
	EventDocProcessed:                 StatusProcessed,
	EventDocProcessedNotificationSent: StatusNotificationSent,
	EventDocConsumed:                  StatusConsumed,
}

// StatusFromEvent returns the status induced by an event kind.
func StatusFromEvent(kind EventKind) (Status, bool) {
	s, ok := statusByEvent[kind]
	return s, ok
}

// transitions is the adjacency set of the lifecycle. Terminal states
// (CONSUMED and the failure states) have no successors.
var transitions = map[Status][]Status{
	StatusCreated:          {StatusUploaded, StatusUploadFailure},
	StatusUploadFailure:    {StatusUploaded, StatusUploadFailure},
	StatusUploaded:         {StatusProcessed},
	StatusProcessed:        {StatusNotificationSent},
	StatusNotificationSent: {StatusConsumed},
}

// CanTransitionTo reports whether next is a permitted successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsProcessed reports whether the pipeline has finished with the envelope's
// content, which is the precondition for deleting the source blob.
func (s Status) IsProcessed() bool {
	return s == StatusProcessed || s == StatusNotificationSent || s == StatusConsumed
}

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0 && KnownStatus(string(s))
}
