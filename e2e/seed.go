package e2e

import (
	"fmt"
	"sync"
	"testing"

	"github.com/glizzus/opusify/internal/generator"
	"github.com/glizzus/opusify/internal/repository"
)

var seedOnce sync.Once

// SeedGlobalNoise fills the shared database with unrelated jobs in every
// state, so tests run against a table that is not empty.
func SeedGlobalNoise(t *testing.T, repo repository.TranscodeJobRepository) {
	t.Helper()
	seedOnce.Do(func() {
		keys := generator.JobKeyGenerator{Prefix: "noise"}
		for i := range 100 {
			k, err := keys.Next()
			if err != nil {
				t.Fatalf("failed to generate job keys: %v", err)
			}
			job := repository.TranscodeJob{ID: k.ID, SourceKey: k.SourceKey, OutputKey: k.OutputKey}
			if err := repo.Create(t.Context(), job); err != nil {
				t.Fatalf("failed to create noise job: %v", err)
			}

			switch i % 4 {
			case 1:
				err = repo.MarkProcessing(t.Context(), k.ID)
			case 2:
				err = repo.MarkFailed(t.Context(), k.ID, fmt.Sprintf("noise failure %d", i))
			case 3:
				if err = repo.MarkProcessing(t.Context(), k.ID); err == nil {
					err = repo.MarkCompleted(t.Context(), k.ID, repository.JobResult{Packets: i})
				}
			}
			if err != nil {
				t.Fatalf("failed to move noise job %d: %v", i, err)
			}
		}
	})
}
