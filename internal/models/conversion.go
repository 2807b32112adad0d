package models

import "time"

// Job statuses recorded on a ConversionJob as the pipeline advances.
const (
	StatusValidating = "VALIDATING"
	StatusMerging    = "MERGING"
	StatusRendering  = "RENDERING"
	StatusCulling    = "CULLING"
	StatusComposing  = "COMPOSING"
	StatusExporting  = "EXPORTING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// ConversionJob is the Firestore record of one conversion request.
type ConversionJob struct {
	RequestHash  string    `firestore:"requestHash,omitempty"`
	InputURIs    []string  `firestore:"inputUris,omitempty"`
	Status       string    `firestore:"status,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	FailedStage  string    `firestore:"failedStage,omitempty"`
	FailedPage   int       `firestore:"failedPage,omitempty"`
	ColorMode    string    `firestore:"colorMode,omitempty"`
	RemovedPages []int     `firestore:"removedPages,omitempty"`
	Layout       string    `firestore:"layout,omitempty"`
	InputPages   int       `firestore:"inputPages,omitempty"`
	OutputSheets int       `firestore:"outputSheets,omitempty"`
	OutputURI    string    `firestore:"outputUri,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt,omitempty"`
	CompletedAt  time.Time `firestore:"completedAt,omitempty"`
}
