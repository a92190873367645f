// Package artifact persists and restores the complete fitted model state
// as one versioned unit: scaler, encoders, both detectors and the feature
// column order they were all trained against.
package artifact

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/features"
)

// SchemaVersion guards the artifact file layout itself, separate from the
// feature-column compatibility check.
const SchemaVersion = 1

// Artifact is the union of all fitted state a scoring run needs. Once
// persisted it is immutable; a loaded artifact is only ever read.
type Artifact struct {
	ID            int                `json:"schemaVersion"`
	RunID         string             `json:"runId"`
	CreatedAt     time.Time          `json:"createdAt"`
	FeatureCols   []string           `json:"featureColumns"`
	Scaler        *features.Scaler   `json:"scaler"`
	Encoders      *features.Encoders `json:"encoders"`
	Ensemble      *detector.Ensemble `json:"ensemble"`
	Contamination float64            `json:"contamination"`
}

// Store persists artifacts. Save is atomic: a failed save leaves no
// partial artifact behind.
type Store interface {
	Save(ctx context.Context, a *Artifact) (path string, err error)
	Load(ctx context.Context, path string) (*Artifact, error)

	// Latest returns the most recently saved artifact path, or "" when
	// none exists.
	Latest(ctx context.Context) (string, error)
}
