package pipeline

import (
	"context"
	"log"
	"strings"

	"github.com/asap007/ninisina-test/internal/gateway"
)

// keyPointsFallback is the single entry returned when key-point extraction
// fails; the consultation still goes through.
const keyPointsFallback = "Key points unavailable - transcript requires manual review"

// keyPoints asks for a short bullet list and post-processes it into clean
// strings. Non-fatal: any failure degrades to the manual-review marker.
func (o *Orchestrator) keyPoints(ctx context.Context, transcript string) ([]string, bool) {
	content, err := o.gw.Complete(ctx, gateway.CompletionRequest{
		System:      o.prompts.KeyPointsSystem,
		User:        transcript,
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		log.Printf("key point extraction degraded: %v", err)
		return []string{keyPointsFallback}, true
	}

	points := parseKeyPoints(content)
	if len(points) == 0 {
		log.Printf("key point extraction returned no usable lines")
		return []string{keyPointsFallback}, true
	}
	return points, false
}

// parseKeyPoints splits bullet-style output into trimmed lines, dropping
// empties and stripping any leading bullet marker.
func parseKeyPoints(content string) []string {
	var points []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-•* ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		points = append(points, line)
	}
	return points
}
