package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/continuity/internal/models"
)

func testReport() *models.SprintReport {
	ended := time.Date(2026, 3, 8, 17, 0, 0, 0, time.UTC)
	return &models.SprintReport{
		SprintID:     "01SPRINT",
		Number:       3,
		Status:       models.SprintStatusClosed,
		Summary:      "storage hardening",
		StartedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		EndedAt:      &ended,
		TaskCount:    3,
		OpenTasks:    1,
		TotalMinutes: 95,
		Contributors: []models.ContributorStats{
			{
				LLMName:     "claude",
				Tasks:       2,
				ClosedTasks: 2,
				Minutes:     80,
				Files:       []string{"internal/storage/lock.go"},
				Summaries:   []string{"added flock around session writes"},
			},
			{LLMName: "gpt", Tasks: 1, OpenTasks: 1, Minutes: 15},
		},
	}
}

func TestBuildNarrativePrompt(t *testing.T) {
	t.Run("includes contributors and stats", func(t *testing.T) {
		system, user := buildNarrativePrompt(testReport())

		assert.Contains(t, system, "narrative")
		assert.Contains(t, system, "Do not invent")

		assert.Contains(t, user, "Sprint 3 (closed)")
		assert.Contains(t, user, "Started: 2026-03-01")
		assert.Contains(t, user, "Ended: 2026-03-08")
		assert.Contains(t, user, "storage hardening")
		assert.Contains(t, user, "## claude")
		assert.Contains(t, user, "## gpt")
		assert.Contains(t, user, "internal/storage/lock.go")
		assert.Contains(t, user, "- added flock around session writes")
	})

	t.Run("active sprint has no end", func(t *testing.T) {
		r := testReport()
		r.EndedAt = nil
		r.Status = models.SprintStatusActive
		_, user := buildNarrativePrompt(r)

		assert.NotContains(t, user, "Ended:")
		assert.Contains(t, user, "(active)")
	})
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, "plain", stripFence("  plain \n"))
	assert.Equal(t, "inside", stripFence("```text\ninside\n```"))
	assert.Equal(t, "inside", stripFence("```\ninside\n```\n"))
}

func TestNewClient_DefaultModel(t *testing.T) {
	c := NewClient("", "")
	assert.Equal(t, DefaultModel, string(c.model))

	c = NewClient("key", "claude-haiku-4-5")
	assert.Equal(t, "claude-haiku-4-5", string(c.model))
}
