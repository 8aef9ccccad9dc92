package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-s2s/internal/eventstore"
	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/pipeline"
	"github.com/loqalabs/loqa-s2s/internal/stt"
)

func (a *app) translateCmd() *cobra.Command {
	var in, src, tgt, out, asr string
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate one audio file",
		Long: `Transcribe an audio file, translate the text and synthesize it.

ASR model sizes: tiny, base, small, medium, large.

Examples:
  loqa-s2s translate --in speech.wav --src hi --tgt en
  loqa-s2s translate --in clip.mp3 --src ta --tgt kn --out kn.wav --asr medium`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := stt.ParseModelSize(asr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			journal, err := eventstore.Open(ctx, a.cfg.EventStore, a.logger)
			if err != nil {
				return fmt.Errorf("open event store: %w", err)
			}
			defer journal.Close()

			orch, err := pipeline.FromConfig(a.cfg, a.logger, journal.Observer(ctx))
			if err != nil {
				return err
			}
			defer orch.Close()

			res, err := orch.RunFile(ctx, pipeline.Request{
				InputPath:  in,
				Source:     language.Code(src),
				Target:     language.Code(tgt),
				OutputPath: out,
				ASRSize:    size,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ASR (L1): %s\n", res.SourceText)
			fmt.Fprintf(w, "Translation (L2): %s\n", res.TranslatedText)
			fmt.Fprintf(w, "Saved L2 audio to: %s\n", res.OutputPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Input audio file (wav, flac, mp3 or anything ffmpeg reads)")
	cmd.Flags().StringVar(&src, "src", "", "Source language code")
	cmd.Flags().StringVar(&tgt, "tgt", "", "Target language code")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path")
	cmd.Flags().StringVar(&asr, "asr", string(stt.DefaultSize), "ASR model size")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("tgt")
	return cmd
}
