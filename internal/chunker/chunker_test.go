package chunker

import (
	"strings"
	"testing"
)

func mustNew(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(size, overlap)
	if err != nil {
		t.Fatalf("New(%d, %d): %v", size, overlap, err)
	}
	return c
}

func reconstruct(spans []Span, overlap int) string {
	var sb strings.Builder
	for i, s := range spans {
		r := []rune(s.Text)
		if i > 0 {
			r = r[overlap:]
		}
		sb.WriteString(string(r))
	}
	return sb.String()
}

func sampleTranscript() string {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("Binary search trees keep keys ordered so lookups take logarithmic time. ")
		sb.WriteString("Rotations rebalance the tree after inserts! Why does that matter? Because height bounds cost.")
		if i%3 == 2 {
			sb.WriteString("\n\n")
		} else {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		size, overlap int
		ok            bool
	}{
		{1000, 200, true},
		{10, 0, true},
		{0, 0, false},
		{-5, 0, false},
		{10, 10, false},
		{10, -1, false},
	}
	for _, tt := range tests {
		_, err := New(tt.size, tt.overlap)
		if (err == nil) != tt.ok {
			t.Errorf("New(%d, %d) error = %v, want ok=%v", tt.size, tt.overlap, err, tt.ok)
		}
	}
}

func TestSplit_Empty(t *testing.T) {
	c := mustNew(t, DefaultChunkSize, DefaultChunkOverlap)
	if spans := c.Split(""); len(spans) != 0 {
		t.Errorf("expected no spans, got %d", len(spans))
	}
}

func TestSplit_ShortTextSingleSpan(t *testing.T) {
	c := mustNew(t, DefaultChunkSize, DefaultChunkOverlap)
	spans := c.Split("A short lecture.")
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Text != "A short lecture." || spans[0].Start != 0 || spans[0].End != 16 {
		t.Errorf("unexpected span: %+v", spans[0])
	}
}

func TestSplit_Properties(t *testing.T) {
	text := sampleTranscript()
	configs := [][2]int{{1000, 200}, {300, 50}, {120, 0}, {64, 63}}

	for _, cfg := range configs {
		c := mustNew(t, cfg[0], cfg[1])
		spans := c.Split(text)
		if len(spans) < 2 {
			t.Fatalf("size %d: expected multiple spans, got %d", cfg[0], len(spans))
		}

		if got := reconstruct(spans, cfg[1]); got != text {
			t.Errorf("size %d overlap %d: reconstruction mismatch", cfg[0], cfg[1])
		}

		for i, s := range spans {
			if n := len([]rune(s.Text)); n > cfg[0] {
				t.Errorf("size %d: span %d has %d runes", cfg[0], i, n)
			}
			if s.Index != i {
				t.Errorf("span %d has index %d", i, s.Index)
			}
			if i == 0 {
				continue
			}
			prev := []rune(spans[i-1].Text)
			cur := []rune(s.Text)
			shared := string(prev[len(prev)-cfg[1]:])
			if string(cur[:cfg[1]]) != shared {
				t.Errorf("size %d: span %d does not share exactly %d runes with its predecessor", cfg[0], i, cfg[1])
			}
			if s.Start != spans[i-1].End-cfg[1] {
				t.Errorf("span %d starts at %d, want %d", i, s.Start, spans[i-1].End-cfg[1])
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	c := mustNew(t, 200, 40)
	text := sampleTranscript()
	a := c.Texts(text)
	b := c.Texts(text)
	if len(a) != len(b) {
		t.Fatalf("span counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("span %d differs between runs", i)
		}
	}
}

func TestSplit_PrefersParagraphBreak(t *testing.T) {
	c := mustNew(t, 100, 10)
	first := strings.Repeat("word ", 14) + "end.\n\n"
	text := first + strings.Repeat("next ", 30)

	spans := c.Split(text)
	if spans[0].Text != first {
		t.Errorf("expected first span to end at paragraph break, got %q", spans[0].Text)
	}
}

func TestSplit_PrefersSentenceOverWord(t *testing.T) {
	c := mustNew(t, 60, 5)
	text := "Trees are graphs without cycles. Heaps are trees with an order property attached."

	spans := c.Split(text)
	if !strings.HasSuffix(spans[0].Text, "cycles. ") {
		t.Errorf("expected first span to end after a sentence, got %q", spans[0].Text)
	}
}

func TestSplit_HardCutOnUnbrokenToken(t *testing.T) {
	c := mustNew(t, 50, 10)
	text := strings.Repeat("x", 175)

	spans := c.Split(text)
	for i, s := range spans {
		if len(s.Text) > 50 {
			t.Errorf("span %d exceeds size: %d", i, len(s.Text))
		}
	}
	if spans[0].End != 50 {
		t.Errorf("expected hard cut at 50, got %d", spans[0].End)
	}
	if reconstruct(spans, 10) != text {
		t.Error("reconstruction mismatch after hard cuts")
	}
}

func TestSplit_MultibyteRunes(t *testing.T) {
	c := mustNew(t, 20, 4)
	text := strings.Repeat("ünïcødé ", 12)

	spans := c.Split(text)
	if reconstruct(spans, 4) != text {
		t.Error("reconstruction mismatch with multibyte text")
	}
	for _, s := range spans {
		if n := len([]rune(s.Text)); n > 20 {
			t.Errorf("span has %d runes", n)
		}
	}
}
