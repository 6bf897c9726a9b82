package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	v "github.com/linnemanlabs/go-core/version"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/triage"
	"github.com/linnemanlabs/arovia/internal/voice"
)

// flags shared by triage and voice
type referralFlags struct {
	location  string
	patientID string
	referral  bool
	render    bool
}

func (f *referralFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.location, "location", "l", "", `place name or "lat,lon" to search facilities around`)
	cmd.Flags().StringVar(&f.patientID, "patient-id", "", "patient identifier for the referral note")
	cmd.Flags().BoolVar(&f.referral, "referral", false, "build a referral note even without a location")
	cmd.Flags().BoolVar(&f.render, "render", false, "print the referral note as plain text")
}

func (c *cli) triageCmd() *cobra.Command {
	var rf referralFlags
	cmd := &cobra.Command{
		Use:   "triage [text...]",
		Short: "Assess a free-text symptom description",
		Long: `Assess a symptom description. With no arguments, or "-", the text is
read from standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 || text == "-" {
				b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 64<<10))
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(b)
			}

			svc, done, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			out, err := svc.AnalyzeText(cmd.Context(), pipeline.Request{
				Text:      text,
				Location:  rf.location,
				PatientID: rf.patientID,
				Referral:  rf.referral || rf.render,
			})
			if err != nil {
				return userError(err)
			}
			return c.printOutcome(cmd.OutOrStdout(), out, rf.render)
		},
	}
	rf.register(cmd)
	return cmd
}

func (c *cli) voiceCmd() *cobra.Command {
	var (
		rf       referralFlags
		language string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "voice <recording.wav>",
		Short: "Transcribe a WAV recording and assess it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			svc, done, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			out, err := svc.AnalyzeVoice(cmd.Context(), voice.NewWAVCapture(f, c.cfg.AudioDir), pipeline.VoiceRequest{
				Voice:     voice.Request{Language: language, Duration: duration},
				Location:  rf.location,
				PatientID: rf.patientID,
				Referral:  rf.referral || rf.render,
			})
			if err != nil {
				return userError(err)
			}
			return c.printOutcome(cmd.OutOrStdout(), out, rf.render)
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&language, "language", "", "spoken language code (empty = auto-detect, see 'arovia languages')")
	cmd.Flags().DurationVar(&duration, "duration", voice.DefaultDuration, "seconds of audio to use, clamped to 5s..30s")
	return cmd
}

func (c *cli) facilitiesCmd() *cobra.Command {
	var q pipeline.FacilityQuery
	cmd := &cobra.Command{
		Use:   "facilities",
		Short: "Search facilities near a location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if q.UrgencyScore < 0 || q.UrgencyScore > triage.MaxUrgencyScore {
				return fmt.Errorf("--urgency must be between 0 and %d", triage.MaxUrgencyScore)
			}
			svc, done, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			facilities, err := svc.Facilities(cmd.Context(), q)
			if err != nil {
				return userError(err)
			}
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"facilities": facilities})
			}
			newStyles(cmd.OutOrStdout()).facilities(cmd.OutOrStdout(), facilities)
			return nil
		},
	}
	cmd.Flags().StringVarP(&q.Specialty, "specialty", "s", triage.GeneralMedicine, "specialty to match")
	cmd.Flags().StringVarP(&q.Location, "location", "l", "", `place name or "lat,lon"`)
	cmd.Flags().BoolVar(&q.Emergency, "emergency", false, "only emergency-capable facilities, tightest radius")
	cmd.Flags().IntVar(&q.UrgencyScore, "urgency", 0, "urgency score 1..10 to size the search radius (0 = default radius)")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum results without --urgency (0 = default)")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func (c *cli) languagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported transcription languages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			langs := voice.Languages()
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"languages": langs})
			}
			s := newStyles(cmd.OutOrStdout())
			for _, l := range langs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", s.label.Render(fmt.Sprintf("%-4s", l.Code)), l.Name)
			}
			return nil
		},
	}
}

func (c *cli) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show configured backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, done, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			m := svc.Models()
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), m)
			}
			s := newStyles(cmd.OutOrStdout())
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s / %s\n", s.label.Render("Reasoner:   "), m.Reasoner.Provider, m.Reasoner.Model)
			fmt.Fprintf(w, "%s %s / %s\n", s.label.Render("Gate:       "), m.Gate.Provider, m.Gate.Model)
			fmt.Fprintf(w, "%s %s / %s\n", s.label.Render("Transcriber:"), m.Transcriber.Provider, m.Transcriber.Model)
			fmt.Fprintf(w, "%s %s\n", s.label.Render("Version:    "), m.Version)
			return nil
		},
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			vi := v.Get()
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"app":     vi.AppName,
					"version": vi.Version,
					"commit":  vi.Commit,
					"go":      vi.GoVersion,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit=%s, go=%s)\n", vi.AppName, vi.Version, vi.Commit, vi.GoVersion)
			return nil
		},
	}
}

// userError swaps a pipeline error for its actionable message, keeping
// the original in the chain.
func userError(err error) error {
	var uf triage.UserFacing
	if errors.As(err, &uf) {
		return fmt.Errorf("%s (%w)", uf.UserMessage(), err)
	}
	return err
}
