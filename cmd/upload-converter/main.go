package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/Lllllllleong/sheetflow/internal/services"
)

var (
	converterInstance *services.ConverterFunction
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ConvertUpload", convertUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// convertUpload runs the default conversion on every PDF finalized in the
// input bucket.
func convertUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		converterInstance, initErr = services.NewConverter(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	err := converterInstance.ProcessUpload(ctx, gcsEvent)
	if err != nil && services.IsClientError(err) {
		// Retrying a bad upload cannot succeed.
		slog.Warn("Upload rejected, not retrying.", "gcsObject", gcsEvent.Name, "error", err)
		return nil
	}
	return err
}
