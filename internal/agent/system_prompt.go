package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/soyeahso/oracle/internal/domain"
)

// DefaultSystemPrompt is used when a turn names no characters and supplies
// no prompt of its own.
const DefaultSystemPrompt = "You are participating in a multi-character roleplay session."

const defaultScenario = "General multi-character roleplay"

const roleplayGuidelines = `Guidelines:
- Stay in character and write in third person using the character's name.
- Put spoken dialogue in double quotation marks.
- React to what the other characters say and do; do not dominate the scene.
- Keep responses to two to four paragraphs so the group conversation flows.
- End with an opening that invites others to respond.`

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Characters      []domain.Character
	SpeakerID       string
	Scenario        string
	RelationshipMap map[string]string
	Mode            domain.Mode
	Narrator        bool
	ExtraPrompt     string
}

// BuildSystemPrompt constructs the system prompt for a roleplay turn.
func BuildSystemPrompt(cfg PromptConfig) string {
	if len(cfg.Characters) == 0 && cfg.ExtraPrompt == "" {
		return DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(DefaultSystemPrompt)
	b.WriteString("\n\n")
	b.WriteString(roleplayGuidelines)
	b.WriteString("\n")

	if cfg.ExtraPrompt != "" {
		b.WriteString("\n=== ADDITIONAL INSTRUCTIONS ===\n")
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}

	if len(cfg.Characters) > 0 {
		b.WriteString("\n=== CHARACTERS IN THIS SCENE ===\n")
		for _, c := range cfg.Characters {
			fmt.Fprintf(&b, "- %s: %s | Personality: %s\n",
				c.DisplayName(), orUnspecified(c.Description), orUnspecified(c.Personality))
		}
	}

	scenario := strings.TrimSpace(cfg.Scenario)
	if scenario == "" {
		scenario = defaultScenario
	}
	b.WriteString("\n=== CURRENT SCENARIO ===\n")
	b.WriteString(scenario)
	b.WriteString("\n")

	if rel := relationshipLines(cfg.RelationshipMap, cfg.Characters); len(rel) > 0 {
		b.WriteString("\n=== RELATIONSHIPS ===\n")
		for _, line := range rel {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	switch cfg.Mode {
	case domain.ModeStoryScape:
		b.WriteString("\nThis is a StoryScape session: favour plot, pacing and world detail.\n")
	case domain.ModeRpgWeave:
		b.WriteString("\nThis is an RPGWeave session: track quests, choices and consequences.\n")
	case domain.ModeHeartFire:
		b.WriteString("\nThis is a HeartFire session: focus on the bonds between characters.\n")
	}

	if cfg.Narrator {
		b.WriteString("\nA narrator is enabled. Open with a short narration of the scene before any character speaks.\n")
	}

	if speaker, ok := domain.FindCharacter(cfg.Characters, cfg.SpeakerID); ok {
		fmt.Fprintf(&b, "\nRespond as %s. Stay true to their personality.\n", speaker.DisplayName())
	} else {
		b.WriteString("\nChoose the character who would naturally respond next and make clear who is speaking.\n")
	}

	return b.String()
}

// relationshipLines renders the map with participant ids replaced by names
// where the characters are known. Output is sorted for stable prompts.
func relationshipLines(rels map[string]string, chars []domain.Character) []string {
	if len(rels) == 0 {
		return nil
	}
	names := make(map[string]string, len(chars))
	for _, c := range chars {
		names[c.ID] = c.DisplayName()
	}

	lines := make([]string, 0, len(rels))
	for key, label := range rels {
		pair := key
		if a, b, ok := strings.Cut(key, "_"); ok {
			if na, ok := names[a]; ok {
				a = na
			}
			if nb, ok := names[b]; ok {
				b = nb
			}
			pair = a + " & " + b
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", pair, label))
	}
	sort.Strings(lines)
	return lines
}

func orUnspecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not specified"
	}
	return s
}
