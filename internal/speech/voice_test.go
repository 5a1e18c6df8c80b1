// ABOUTME: Tests for the per-session speech worker
// ABOUTME: Covers ordering, per-reply sequence numbers, cancellation, and degraded synthesis

package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/murmur-gateway/internal/events"
)

type fakeSynth struct {
	calls   atomic.Int32
	started chan string
	gate    chan struct{}
	err     error
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{started: make(chan string, 64)}
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.calls.Add(1)
	f.started <- text
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("audio:" + text), nil
}

type recordingPublisher struct {
	mu  sync.Mutex
	all []events.Envelope
	ch  chan events.Envelope
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan events.Envelope, 256)}
}

func (p *recordingPublisher) Publish(env events.Envelope) bool {
	p.mu.Lock()
	p.all = append(p.all, env)
	p.mu.Unlock()
	p.ch <- env
	return true
}

func (p *recordingPublisher) next(t *testing.T) events.Envelope {
	t.Helper()
	select {
	case env := <-p.ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for speech event")
		return events.Envelope{}
	}
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

func newTestVoice(t *testing.T, synth Synthesizer, pub events.Publisher, queueSize int) *Voice {
	t.Helper()
	v := NewVoice("17", VoiceConfig{Enabled: true, MinSegmentChars: 16, QueueSize: queueSize}, synth, pub, nil)
	t.Cleanup(func() {
		v.Close()
		v.Wait()
	})
	return v
}

func audioSegment(t *testing.T, env events.Envelope) events.AudioSegment {
	t.Helper()
	require.Equal(t, events.TypeAudioSegment, env.Type)
	seg, ok := env.Payload.(events.AudioSegment)
	require.True(t, ok)
	return seg
}

func TestVoice_SegmentsThenDone(t *testing.T) {
	synth := newFakeSynth()
	pub := newRecordingPublisher()
	v := newTestVoice(t, synth, pub, 0)

	v.Feed("m1", "Hello there, this is a test. And ")
	v.Feed("m1", "more")
	v.Finalize("m1")

	first := audioSegment(t, pub.next(t))
	assert.Equal(t, "m1", first.ReplyTo)
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, "Hello there, this is a test.", first.Text)
	assert.Equal(t, []byte("audio:Hello there, this is a test."), first.Audio)
	assert.Equal(t, DefaultMime, first.Mime)

	second := audioSegment(t, pub.next(t))
	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, "And more", second.Text)

	done := pub.next(t)
	assert.Equal(t, events.TypeTTSDone, done.Type)
	assert.Equal(t, "17", done.SessionID)
	assert.Equal(t, events.TTSDone{ReplyTo: "m1"}, done.Payload)
}

func TestVoice_SequenceRestartsPerReply(t *testing.T) {
	pub := newRecordingPublisher()
	v := newTestVoice(t, newFakeSynth(), pub, 0)

	v.Feed("m1", "First reply, first sentence. First reply, second sentence. ")
	v.Finalize("m1")
	v.Feed("m2", "Second reply sentence number one.")
	v.Finalize("m2")

	assert.Equal(t, 1, audioSegment(t, pub.next(t)).Seq)
	assert.Equal(t, 2, audioSegment(t, pub.next(t)).Seq)
	assert.Equal(t, events.TypeTTSDone, pub.next(t).Type)

	seg := audioSegment(t, pub.next(t))
	assert.Equal(t, "m2", seg.ReplyTo)
	assert.Equal(t, 1, seg.Seq)
	assert.Equal(t, events.TTSDone{ReplyTo: "m2"}, pub.next(t).Payload)
}

func TestVoice_DisabledIsNoop(t *testing.T) {
	synth := newFakeSynth()
	pub := newRecordingPublisher()
	v := newTestVoice(t, synth, pub, 0)
	v.SetEnabled(false)
	assert.False(t, v.Enabled())

	v.Feed("m1", "This sentence is long enough to flush. ")
	v.Finalize("m1")
	v.Wait()

	assert.Zero(t, synth.calls.Load())
	assert.Zero(t, pub.count())
}

func TestVoice_ResetDropsQueuedAndInFlightSegments(t *testing.T) {
	synth := newFakeSynth()
	synth.gate = make(chan struct{})
	pub := newRecordingPublisher()
	v := newTestVoice(t, synth, pub, 0)

	v.Feed("m1", "Segment number one is here. Segment number two is here. Segment number three is here. ")
	v.Finalize("m1")

	select {
	case <-synth.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started synthesis")
	}
	genBefore := v.Generation()

	v.Reset()
	close(synth.gate)
	v.Wait()

	assert.Equal(t, genBefore+1, v.Generation())
	assert.Equal(t, int32(1), synth.calls.Load(), "queued segments must not be synthesized after reset")
	assert.Zero(t, pub.count(), "nothing from before the reset may be published")
}

func TestVoice_ToggleOffCancelsThenOnResumes(t *testing.T) {
	synth := newFakeSynth()
	synth.gate = make(chan struct{})
	pub := newRecordingPublisher()
	v := newTestVoice(t, synth, pub, 0)

	v.Feed("m1", "A sentence that will be cancelled. Another that never plays. ")
	<-synth.started
	v.SetEnabled(false)
	close(synth.gate)
	v.Wait()
	assert.Zero(t, pub.count())

	v.SetEnabled(true)
	v.Feed("m2", "A fresh sentence after re-enabling.")
	v.Finalize("m2")

	seg := audioSegment(t, pub.next(t))
	assert.Equal(t, "m2", seg.ReplyTo)
	assert.Equal(t, 1, seg.Seq)
	assert.Equal(t, events.TypeTTSDone, pub.next(t).Type)
}

func TestVoice_SynthesisFailureSendsEmptyAudio(t *testing.T) {
	synth := newFakeSynth()
	synth.err = errors.New("backend down")
	pub := newRecordingPublisher()
	v := newTestVoice(t, synth, pub, 0)

	v.Feed("m1", "This will fail to synthesize.")
	v.Finalize("m1")

	seg := audioSegment(t, pub.next(t))
	assert.Equal(t, "This will fail to synthesize.", seg.Text)
	assert.NotNil(t, seg.Audio)
	assert.Empty(t, seg.Audio)
	assert.Equal(t, events.TypeTTSDone, pub.next(t).Type)
}

func TestVoice_UnspeakableSegmentSkipsSynthesizer(t *testing.T) {
	synth := newFakeSynth()
	pub := newRecordingPublisher()
	v := newTestVoice(t, synth, pub, 0)

	v.Feed("m1", "```\nfmt.Println(\"x\")\n```\n")
	v.Finalize("m1")

	for {
		env := pub.next(t)
		if env.Type == events.TypeTTSDone {
			break
		}
		assert.Empty(t, audioSegment(t, env).Audio)
	}
	assert.Zero(t, synth.calls.Load())
}

func TestVoice_QueueBoundDropsOverflow(t *testing.T) {
	synth := newFakeSynth()
	synth.gate = make(chan struct{})
	pub := newRecordingPublisher()
	v := newTestVoice(t, synth, pub, 2)

	v.Feed("m1", "The first sentence occupies the worker. ")
	<-synth.started

	v.Feed("m1", "Second sentence is queued here. Third sentence is queued here. Fourth sentence is dropped now. Fifth sentence is dropped too. ")
	v.Finalize("m1")
	close(synth.gate)

	var texts []string
	for {
		env := pub.next(t)
		if env.Type == events.TypeTTSDone {
			break
		}
		texts = append(texts, audioSegment(t, env).Text)
	}
	assert.Equal(t, []string{
		"The first sentence occupies the worker.",
		"Second sentence is queued here.",
		"Third sentence is queued here.",
	}, texts)
}

func TestVoice_WorkerExitsWhenIdleAndRestarts(t *testing.T) {
	pub := newRecordingPublisher()
	v := newTestVoice(t, newFakeSynth(), pub, 0)

	v.Feed("m1", "One sentence that is long enough.")
	v.Finalize("m1")
	pub.next(t)
	pub.next(t)
	v.Wait()

	v.Feed("m2", "Another sentence that is long enough.")
	v.Finalize("m2")
	assert.Equal(t, "m2", audioSegment(t, pub.next(t)).ReplyTo)
	assert.Equal(t, events.TypeTTSDone, pub.next(t).Type)
}
