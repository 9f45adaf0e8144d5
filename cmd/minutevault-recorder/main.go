// minutevault-recorder records a meeting from the default input device,
// streams it through the transcription pipeline and prints the final
// transcript (and minutes, when OPENAI_API_KEY is set) on stop. Interrupt
// signals act as the external teardown path.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/syedabdeen/minutevault/internal/audio"
	"github.com/syedabdeen/minutevault/internal/config"
	"github.com/syedabdeen/minutevault/internal/logging"
	"github.com/syedabdeen/minutevault/internal/minutes"
	"github.com/syedabdeen/minutevault/internal/recording"
	"github.com/syedabdeen/minutevault/internal/transcribe"
	"github.com/syedabdeen/minutevault/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error(logging.CategoryApp, "failed to load configuration: %v", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.LogLevel); err != nil {
		os.Exit(1)
	}
	defer logging.Shutdown()

	logging.Info(logging.CategoryApp, "starting minutevault-recorder version=%s", version.Version)

	if err := portaudio.Initialize(); err != nil {
		logging.Error(logging.CategoryApp, "failed to initialize portaudio: %v", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	title := "Meeting " + time.Now().Format("2006-01-02 15:04")
	if args := os.Args; len(args) > 1 && args[len(args)-1] != "" {
		title = args[len(args)-1]
	}

	var tokens transcribe.TokenSource
	if cfg.TokenURL != "" {
		tokens = transcribe.NewHTTPTokenSource(cfg.TokenURL)
	} else {
		tokens = transcribe.StaticTokenSource(os.Getenv("MV_BACKEND_TOKEN"))
	}

	controller := recording.NewController(audio.NewDeviceSource(), recording.SessionOptions{
		BackendURL:     cfg.BackendURL,
		Tokens:         tokens,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
		CommitGrace:    cfg.CommitGrace,
		FrameInterval:  cfg.FrameInterval,
		SampleRate:     cfg.SampleRate,
		Sink:           consoleSink{},
	})

	ctx := context.Background()
	if err := controller.Start(ctx, title); err != nil {
		logging.Error(logging.CategoryApp, "failed to start recording: %v", err)
		os.Exit(1)
	}

	fmt.Printf("Recording %q. Press Ctrl+C to stop.\n", title)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	final, err := controller.Stop(stopCtx)
	if err != nil {
		controller.Teardown()
		logging.Error(logging.CategoryApp, "failed to stop recording: %v", err)
		os.Exit(1)
	}

	printTranscript(final)

	if key := cfg.OpenAIAPIKey; key != "" && len(final.Segments) > 0 {
		gen := minutes.NewGenerator(key, cfg.MinutesModel)
		doc, err := gen.Generate(ctx, final)
		if err != nil {
			logging.Warning(logging.CategoryApp, "minutes generation failed: %v", err)
		} else {
			printMinutes(doc)
		}
	}
}

func printTranscript(final *recording.FinalTranscript) {
	fmt.Printf("\n%s — %.0fs, %d speaker(s), %d segment(s)\n\n",
		final.Title, final.DurationSeconds, final.SpeakerCount, len(final.Segments))
	for _, seg := range final.Segments {
		total := seg.StartOffsetMs / 1000
		fmt.Printf("[%02d:%02d] %s: %s\n", total/60, total%60, seg.Speaker, seg.Text)
	}
}

func printMinutes(doc *minutes.Document) {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return
	}
	fmt.Printf("\nMinutes:\n%s\n", out)
}

// consoleSink shows live progress while recording.
type consoleSink struct{}

func (consoleSink) OnPhase(phase transcribe.Phase) {
	logging.Info(logging.CategoryApp, "session phase=%s", phase)
}

func (consoleSink) OnPartial(text string) {
	if text != "" {
		fmt.Printf("\r… %s", text)
	}
}

func (consoleSink) OnCommitted(seg transcribe.Segment) {
	fmt.Printf("\r%s: %s\n", seg.Speaker, seg.Text)
}
