//go:build e2e

package practice

import (
	"context"
	"fmt"
	"testing"

	"github.com/cchalm/math-tutor/internal/ai"
	"github.com/cchalm/math-tutor/internal/conversation"
	"github.com/cchalm/math-tutor/internal/sheet"
	"github.com/cchalm/math-tutor/test/e2e/testutil"
)

// TestSimilarProblemSplits checks that the canned instruction yields a reply that splits into a problem and an answer
func TestSimilarProblemSplits(t *testing.T) {
	harness := testutil.NewTestHarness(t)
	instruction, err := ai.SimilarProblemInstruction()
	if err != nil {
		t.Fatal(err)
	}

	harness.RunIterations("similar_problem_splits", func(iteration int) error {
		return harness.WithTimeout(func(ctx context.Context) error {
			conv := conversation.New()
			if _, _, err := harness.Ask(ctx, conv, "三角形の面積の公式 S = 1/2 ab sin C の使い方を教えて"); err != nil {
				return fmt.Errorf("first exchange failed: %w", err)
			}
			turn, _, err := harness.Ask(ctx, conv, instruction)
			if err != nil {
				return fmt.Errorf("similar problem exchange failed: %w", err)
			}
			sh, err := sheet.Parse(turn.Content.Text)
			if err != nil {
				return fmt.Errorf("reply is not a practice sheet: %w", err)
			}
			for _, format := range sheet.Formats {
				e, err := sheet.ExporterFor(format, sheet.DefaultOptions())
				if err != nil {
					return err
				}
				if _, err := e.Export(sh); err != nil {
					return fmt.Errorf("failed to export %s: %w", format, err)
				}
			}
			return nil
		})
	})
}

// TestAutoSelectionPicksListedModel checks automatic selection against the live model list
func TestAutoSelectionPicksListedModel(t *testing.T) {
	harness := testutil.NewTestHarness(t)

	err := harness.WithTimeout(func(ctx context.Context) error {
		ids, err := harness.Backend().ListModels(ctx)
		if err != nil {
			return err
		}
		selected, err := ai.SelectModel(ids, ai.DefaultSelectionOptions())
		if err != nil {
			return err
		}
		t.Logf("Selected %s from %d models", selected, len(ids))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
