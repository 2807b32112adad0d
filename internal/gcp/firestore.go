package gcp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"cloud.google.com/go/firestore"
)

// ErrNoProject is returned when no Google Cloud project is configured.
var ErrNoProject = errors.New("no Google Cloud project configured")

// NewFirestoreClient opens the Firestore database of projectID, where
// conversion jobs are recorded.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("firestore: %w", ErrNoProject)
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore: open project %q: %w", projectID, err)
	}
	return client, nil
}

// JobUpdates builds the field updates that move a job record to status.
// Extra fields follow in path order; nil values are left out.
func JobUpdates(status string, fields map[string]any) []firestore.Update {
	updates := []firestore.Update{{Path: "status", Value: status}}
	paths := make([]string, 0, len(fields))
	for p, v := range fields {
		if v != nil && p != "status" {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)
	for _, p := range paths {
		updates = append(updates, firestore.Update{Path: p, Value: fields[p]})
	}
	return updates
}
