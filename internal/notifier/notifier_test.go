package notifier

import (
	"testing"

	"github.com/surveil/smartmoney/internal/models"
)

func TestStdout_SendAlwaysSucceeds(t *testing.T) {
	var n Notifier = Stdout{}
	if err := n.Send("hello"); err != nil {
		t.Errorf("expected Stdout.Send to never error, got %v", err)
	}
}

func TestFormatAnomaly_EscapesMarkdownAndIncludesVariantFields(t *testing.T) {
	a := models.Anomaly{
		Type:             models.AnomalyLargeTrade,
		Question:         "Will X win? (final)",
		Severity:         models.SeverityHigh,
		CurrentPrice:     0.42,
		ImpliedDirection: models.DirectionYes,
		TradeSizeUSD:     12000,
	}
	msg := FormatAnomaly(a)
	if msg == "" {
		t.Fatal("expected non-empty formatted message")
	}
	for _, want := range []string{"LARGE\\_TRADE", "HIGH", "Size: $12000"} {
		if !contains(msg, want) {
			t.Errorf("expected formatted message to contain %q, got %q", want, msg)
		}
	}
}

func TestFormatAnomaly_MissingQuestionRendersQuestionMark(t *testing.T) {
	a := models.Anomaly{Type: models.AnomalyVolumeSpike, Severity: models.SeverityMedium}
	msg := FormatAnomaly(a)
	if !contains(msg, "?") {
		t.Errorf("expected missing question to render as '?', got %q", msg)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
