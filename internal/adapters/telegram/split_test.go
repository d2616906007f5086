package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageRespectsLimit(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(strings.Repeat("a", 3000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("b", 2000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("c", 500))

	parts := SplitMessage(builder.String())
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	for i, part := range parts {
		if length := len([]rune(part)); length > messageLimit {
			t.Fatalf("part %d exceeds limit: %d", i, length)
		}
	}
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatalf("unexpected content in first part")
	}
}

func TestSplitMessageLossless(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, strings.Repeat("x", 50))
	}
	original := strings.Join(lines, "\n")

	parts := SplitMessage(original)
	if len(parts) < 2 {
		t.Fatalf("expected several parts, got %d", len(parts))
	}
	if joined := strings.Join(parts, "\n"); joined != original {
		t.Fatalf("joining chunks must reconstruct the original text")
	}
}

func TestSplitMessageHardSplitsLongLine(t *testing.T) {
	text := strings.Repeat("z", messageLimit+100)
	parts := SplitMessage(text)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len([]rune(parts[0])) != messageLimit {
		t.Fatalf("first part must fill the limit, got %d", len([]rune(parts[0])))
	}
	if parts[0]+parts[1] != text {
		t.Fatalf("hard split must not lose content")
	}
}

func TestSplitMessageShortText(t *testing.T) {
	text := "hello world"
	parts := SplitMessage(text)
	if len(parts) != 1 {
		t.Fatalf("expected single part, got %d", len(parts))
	}
	if parts[0] != text {
		t.Fatalf("unexpected text: %q", parts[0])
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	if parts := SplitMessage("   \n  "); len(parts) != 0 {
		t.Fatalf("expected no parts for empty input, got %d", len(parts))
	}
}
