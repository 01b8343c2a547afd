package call

import (
	"context"
	"testing"
	"time"

	ttsmock "github.com/voxrelay/voxrelay/pkg/provider/tts/mock"
)

// pcmTone builds n little-endian PCM samples of constant amplitude.
func pcmTone(n int, amp int16) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = byte(amp)
		out[i*2+1] = byte(amp >> 8)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startSink(t *testing.T, p *ttsmock.Provider) (*Session, *fakeMedia) {
	t.Helper()
	media := &fakeMedia{}
	s := NewSession("CA1", media, testAgent())
	s.SetStreamID("MZ1")
	t.Cleanup(func() { s.Close() })

	k := NewSink(p, "aura-2-thalia-en")
	go k.Run(s)
	return s, media
}

func TestSink_SpeaksSentence(t *testing.T) {
	// 320 samples at 16 kHz resample to exactly one 160-byte μ-law frame.
	p := &ttsmock.Provider{Chunks: [][]byte{pcmTone(320, 1000)}}
	s, media := startSink(t, p)

	if err := s.EnqueueSentence(context.Background(), "Hello there.", time.Second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, "one egress frame", func() bool { return media.frameCount() == 1 })
	waitFor(t, "speaking cleared", func() bool { return !s.Speaking() })

	if got := len(media.frames[0]); got != 160 {
		t.Errorf("frame length = %d, want 160", got)
	}
	if p.SynthesizeCalls[0].Text != "Hello there." {
		t.Errorf("synthesized text = %q", p.SynthesizeCalls[0].Text)
	}
	if p.SynthesizeCalls[0].Voice != "aura-2-thalia-en" {
		t.Errorf("voice = %q", p.SynthesizeCalls[0].Voice)
	}
}

func TestSink_FadeInSilencesFirstSample(t *testing.T) {
	p := &ttsmock.Provider{Chunks: [][]byte{pcmTone(320, 8000)}}
	s, media := startSink(t, p)

	s.EnqueueSentence(context.Background(), "Loud.", time.Second)
	waitFor(t, "one egress frame", func() bool { return media.frameCount() == 1 })

	// μ-law 0xFF decodes to 0: the faded first sample must be silence even
	// though the synthesized tone is loud.
	if first := media.frames[0][0]; first != 0xFF {
		t.Errorf("first μ-law byte = %#x, want 0xFF (silence)", first)
	}
}

func TestSink_PadsFinalFrame(t *testing.T) {
	// 500 input samples resample to 250 μ-law bytes: one full frame plus a
	// 90-byte remainder that must be padded to 160.
	p := &ttsmock.Provider{Chunks: [][]byte{pcmTone(320, 1000), pcmTone(180, 1000)}}
	s, media := startSink(t, p)

	s.EnqueueSentence(context.Background(), "Two chunks.", time.Second)
	waitFor(t, "two egress frames", func() bool { return media.frameCount() == 2 })
	waitFor(t, "speaking cleared", func() bool { return !s.Speaking() })

	for i, frame := range media.frames {
		if len(frame) != 160 {
			t.Errorf("frame %d length = %d, want 160", i, len(frame))
		}
	}
	last := media.frames[1]
	for i := 90; i < 160; i++ {
		if last[i] != 0xFF {
			t.Errorf("padding byte %d = %#x, want 0xFF", i, last[i])
			break
		}
	}
}

func TestSink_SentencesPlayInOrder(t *testing.T) {
	p := &ttsmock.Provider{Chunks: [][]byte{pcmTone(320, 500)}}
	s, media := startSink(t, p)

	s.EnqueueSentence(context.Background(), "First.", time.Second)
	s.EnqueueSentence(context.Background(), "Second.", time.Second)

	waitFor(t, "both sentences synthesized", func() bool { return p.CallCount() == 2 })
	waitFor(t, "speaking cleared", func() bool { return !s.Speaking() })

	if p.SynthesizeCalls[0].Text != "First." || p.SynthesizeCalls[1].Text != "Second." {
		t.Errorf("synthesis order = %q, %q", p.SynthesizeCalls[0].Text, p.SynthesizeCalls[1].Text)
	}
	if media.frameCount() != 2 {
		t.Errorf("frames = %d, want 2", media.frameCount())
	}
}

func TestSink_ClearsInterruptLatchWhenIdle(t *testing.T) {
	p := &ttsmock.Provider{}
	s, media := startSink(t, p)

	s.Interrupt()
	waitFor(t, "latch cleared by sink", func() bool { return !s.Interrupted() })

	if media.clearCount() != 2 {
		t.Errorf("clears = %d, want 2", media.clearCount())
	}
	if s.QueueLen() != 0 {
		t.Errorf("queue length = %d", s.QueueLen())
	}
}

func TestSink_SynthesisFailureSkipsSentence(t *testing.T) {
	p := &ttsmock.Provider{SynthesizeErr: context.DeadlineExceeded}
	s, media := startSink(t, p)

	s.EnqueueSentence(context.Background(), "Doomed.", time.Second)
	waitFor(t, "synthesize attempted", func() bool { return p.CallCount() == 1 })

	time.Sleep(20 * time.Millisecond)
	if media.frameCount() != 0 {
		t.Errorf("frames = %d, want 0 after synthesis failure", media.frameCount())
	}
	if s.Speaking() {
		t.Error("speaking flag stuck after failure")
	}
}
