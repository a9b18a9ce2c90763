package pipeline

import (
	"context"
	"log"

	"github.com/asap007/ninisina-test/internal/gateway"
)

// diarize labels the transcript with speaker roles. It is best-effort: on any
// gateway failure the original transcript is returned unchanged so the
// pipeline can continue. Diarization failure never aborts a request.
func (o *Orchestrator) diarize(ctx context.Context, transcript string) (string, bool) {
	labeled, err := o.gw.Complete(ctx, gateway.CompletionRequest{
		System:      o.prompts.DiarizationSystem,
		User:        transcript,
		Temperature: 0.1,
		MaxTokens:   4096,
	})
	if err != nil {
		log.Printf("diarization degraded, continuing with raw transcript: %v", err)
		return transcript, true
	}
	if labeled == "" {
		log.Printf("diarization returned empty output, continuing with raw transcript")
		return transcript, true
	}
	return labeled, false
}
