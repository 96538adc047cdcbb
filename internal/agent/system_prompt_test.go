package agent

import (
	"strings"
	"testing"

	"github.com/soyeahso/oracle/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt_Default(t *testing.T) {
	assert.Equal(t, DefaultSystemPrompt, BuildSystemPrompt(PromptConfig{}))
}

func TestBuildSystemPrompt_Characters(t *testing.T) {
	p := BuildSystemPrompt(PromptConfig{
		Characters: []domain.Character{
			{ID: "a", Name: "Mira", Description: "a smuggler", Personality: "wry"},
			{ID: "b"},
		},
		SpeakerID: "a",
	})

	assert.True(t, strings.HasPrefix(p, DefaultSystemPrompt))
	assert.Contains(t, p, "- Mira: a smuggler | Personality: wry")
	assert.Contains(t, p, "- b: Not specified | Personality: Not specified")
	assert.Contains(t, p, defaultScenario)
	assert.Contains(t, p, "Respond as Mira.")
	assert.NotContains(t, p, "RELATIONSHIPS")
}

func TestBuildSystemPrompt_NoSpeakerLetsModelChoose(t *testing.T) {
	p := BuildSystemPrompt(PromptConfig{Characters: []domain.Character{{ID: "a", Name: "Mira"}}})
	assert.Contains(t, p, "Choose the character who would naturally respond next")
}

func TestBuildSystemPrompt_RelationshipsSortedAndNamed(t *testing.T) {
	p := BuildSystemPrompt(PromptConfig{
		Characters: []domain.Character{{ID: "a", Name: "Mira"}, {ID: "b", Name: "Tobin"}},
		RelationshipMap: map[string]string{
			"b_z": "strangers",
			"a_b": "old friends",
		},
	})

	i := strings.Index(p, "- Mira & Tobin: old friends")
	j := strings.Index(p, "- Tobin & z: strangers")
	assert.True(t, i > 0 && j > i, "relationships rendered in sorted order:\n%s", p)
}

func TestBuildSystemPrompt_ModeNarratorAndExtra(t *testing.T) {
	p := BuildSystemPrompt(PromptConfig{
		Characters:  []domain.Character{{ID: "a", Name: "Mira"}},
		Scenario:    "A heist at dawn",
		Mode:        domain.ModeRpgWeave,
		Narrator:    true,
		ExtraPrompt: "Keep it short.",
	})

	assert.Contains(t, p, "A heist at dawn")
	assert.Contains(t, p, "RPGWeave")
	assert.Contains(t, p, "A narrator is enabled.")
	assert.Contains(t, p, "=== ADDITIONAL INSTRUCTIONS ===\nKeep it short.")
}
