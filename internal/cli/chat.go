package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/soyeahso/oracle/internal/agent"
	"github.com/soyeahso/oracle/internal/config"
	"github.com/soyeahso/oracle/internal/domain"
	"github.com/soyeahso/oracle/internal/llm"
	"github.com/soyeahso/oracle/internal/relay"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		model      string
		characters []string
		speaker    string
		scenario   string
		mode       string
		narrator   bool
		noStream   bool
		extra      string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one stateless turn straight to the upstream and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			cast, err := parseCharacters(characters)
			if err != nil {
				return err
			}
			if len(cast) == 0 {
				return fmt.Errorf("at least one --character is required")
			}
			speakerID := ""
			if speaker != "" {
				c, ok := findByName(cast, speaker)
				if !ok {
					return fmt.Errorf("speaker %q is not in the cast", speaker)
				}
				speakerID = c.ID
			}

			rl := relay.New(relay.NewSelector(llm.NewRegistryFromConfig(cfg, log), cfg.Relay), log)
			req := relay.Request{
				Model: model,
				System: agent.BuildSystemPrompt(agent.PromptConfig{
					Characters:  cast,
					SpeakerID:   speakerID,
					Scenario:    scenario,
					Mode:        domain.Mode(mode),
					Narrator:    narrator,
					ExtraPrompt: extra,
				}),
				Messages:    []llm.Message{{Role: string(domain.RoleUser), Content: strings.Join(args, " ")}},
				Credentials: llm.CredentialsFromConfig(cfg),
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if noStream {
				resp, err := rl.Complete(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, resp.Content)
				fmt.Fprintf(cmd.ErrOrStderr(), "[model=%s finish=%s]\n", resp.Model, resp.FinishReason)
				return nil
			}

			stream, err := rl.Open(ctx, req)
			if err != nil {
				return err
			}
			defer stream.Close()
			for stream.Next() {
				fmt.Fprint(out, stream.Delta().Text)
			}
			fmt.Fprintln(out)
			if err := stream.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "[provider=%s model=%s]\n", stream.Provider(), stream.Model())
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model id (default relay.defaultModel)")
	cmd.Flags().StringArrayVarP(&characters, "character", "c", nil, "cast member as name or name:personality (repeatable)")
	cmd.Flags().StringVar(&speaker, "as", "", "name of the character who should reply")
	cmd.Flags().StringVar(&scenario, "scenario", "", "scene description")
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeParty), "embark mode (party, heartfire, storyscape, rpgweave)")
	cmd.Flags().BoolVar(&narrator, "narrator", false, "let a narrator voice describe the scene")
	cmd.Flags().StringVar(&extra, "instructions", "", "extra instructions added to the system prompt")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full reply instead of streaming")

	return cmd
}

// parseCharacters turns "name" or "name:personality" flags into a cast.
// Ids are derived from the lowercased name.
func parseCharacters(flags []string) ([]domain.Character, error) {
	cast := make([]domain.Character, 0, len(flags))
	for _, flag := range flags {
		name, personality, _ := strings.Cut(flag, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid character %q: name is empty", flag)
		}
		id := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
		if _, ok := domain.FindCharacter(cast, id); ok {
			return nil, fmt.Errorf("duplicate character %q", name)
		}
		cast = append(cast, domain.Character{
			ID:          id,
			Name:        name,
			Personality: strings.TrimSpace(personality),
		})
	}
	if len(cast) > domain.MaxParticipants {
		return nil, fmt.Errorf("at most %d characters are allowed", domain.MaxParticipants)
	}
	return cast, nil
}

func findByName(cast []domain.Character, name string) (domain.Character, bool) {
	for _, c := range cast {
		if strings.EqualFold(c.Name, name) || c.ID == name {
			return c, true
		}
	}
	return domain.Character{}, false
}
