package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vrct-tts/connector/internal/catalog"
	"github.com/vrct-tts/connector/internal/ttypes"
)

var (
	voicesEngine   string
	voicesLanguage string
	voicesSearch   string
)

var voicesCmd = &cobra.Command{
	Use:     "voices",
	Short:   "List the voices of an engine",
	Long:    paragraph(fmt.Sprintf("\nList the voices an engine offers. The %s column is what SET_DEFAULT_VOICE and SYNTHESIZE accept.", keyword("id"))),
	Example: paragraph("vrct-tts voices --engine voicevox\nvrct-tts voices --engine gtts --search australia"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, err := ttypes.ParseEngineKind(voicesEngine)
		if err != nil {
			return err
		}
		if kind == ttypes.EngineNone {
			kind = ttypes.EngineLocal
		}

		engineSet, err := newEngines()
		if err != nil {
			return err
		}
		voices := catalog.New(engineSet[ttypes.EngineLocal], log.WithPrefix("catalog"))

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if kind == ttypes.EngineLocal && len(voices.RefreshLocal(ctx)) == 0 {
			return fmt.Errorf("VOICEVOX is not reachable at %s", viper.GetString("voicevox.url"))
		}

		list := filterVoices(voices.Voices(kind, voicesLanguage), voicesSearch)
		printVoices(cmd, list)
		return nil
	},
}

// voiceSource adapts a voice list for fuzzy matching on name and id.
type voiceSource []ttypes.VoiceDescriptor

func (v voiceSource) String(i int) string { return v[i].DisplayName + " " + v[i].ID }
func (v voiceSource) Len() int            { return len(v) }

// filterVoices keeps the voices matching query, best match first.
func filterVoices(voices []ttypes.VoiceDescriptor, query string) []ttypes.VoiceDescriptor {
	query = strings.TrimSpace(query)
	if query == "" {
		return voices
	}
	matches := fuzzy.FindFrom(query, voiceSource(voices))
	out := make([]ttypes.VoiceDescriptor, 0, len(matches))
	for _, m := range matches {
		out = append(out, voices[m.Index])
	}
	return out
}

func printVoices(cmd *cobra.Command, voices []ttypes.VoiceDescriptor) {
	out := cmd.OutOrStdout()
	if len(voices) == 0 {
		fmt.Fprintln(out, faint("no matching voices"))
		return
	}

	idWidth, nameWidth := len("ID"), len("NAME")
	for _, v := range voices {
		idWidth = max(idWidth, runewidth.StringWidth(v.ID))
		nameWidth = max(nameWidth, runewidth.StringWidth(v.DisplayName))
	}

	fmt.Fprintf(out, "%s  %s  %s\n",
		heading(runewidth.FillRight("ID", idWidth)),
		heading(runewidth.FillRight("NAME", nameWidth)),
		heading("LANGUAGE"))
	for _, v := range voices {
		fmt.Fprintf(out, "%s  %s  %s\n",
			keyword(runewidth.FillRight(v.ID, idWidth)),
			runewidth.FillRight(v.DisplayName, nameWidth),
			faint(v.LanguageTag))
	}
}

func init() {
	voicesCmd.Flags().StringVarP(&voicesEngine, "engine", "e", "voicevox", "engine to list (voicevox or gtts)")
	voicesCmd.Flags().StringVarP(&voicesLanguage, "language", "l", "", "only voices for this language")
	voicesCmd.Flags().StringVarP(&voicesSearch, "search", "s", "", "fuzzy search by name or id")
}
