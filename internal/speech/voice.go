// ABOUTME: Per-session speech pipeline: segmenter, bounded queue, and one lazy synthesis worker
// ABOUTME: A generation counter invalidates queued segments on reset without signalling the worker

package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/murmur-gateway/internal/events"
)

// DefaultQueueSize bounds the pending segments of one session.
const DefaultQueueSize = 200

// VoiceConfig holds the tunables of a Voice.
type VoiceConfig struct {
	Enabled         bool
	MinSegmentChars int
	QueueSize       int
	Mime            string
}

type workerState int

const (
	workerStopped workerState = iota
	workerRunning
)

// item is one queued unit of work. done marks the end of a reply.
type item struct {
	gen     uint64
	replyTo string
	text    string
	done    bool
}

// Voice turns the streamed text of one session into tts_audio_segment and
// tts_done events. At most one worker goroutine runs per Voice; it starts on
// the first enqueue and exits once the queue is empty.
type Voice struct {
	sessionID string
	synth     Synthesizer
	pub       events.Publisher
	mime      string
	queueSize int
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	enabled  bool
	seg      *Segmenter
	gen      uint64
	queue    []item
	state    workerState
	seqReply string
	seq      int
}

// NewVoice creates the speech pipeline for sessionID. Pass nil logger for
// default.
func NewVoice(sessionID string, cfg VoiceConfig, synth Synthesizer, pub events.Publisher, logger *slog.Logger) *Voice {
	if logger == nil {
		logger = slog.Default()
	}
	if synth == nil {
		synth = SilentSynthesizer{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Mime == "" {
		cfg.Mime = DefaultMime
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Voice{
		sessionID: sessionID,
		synth:     synth,
		pub:       pub,
		mime:      cfg.Mime,
		queueSize: cfg.QueueSize,
		logger:    logger.With("component", "voice", "session_id", sessionID),
		ctx:       ctx,
		cancel:    cancel,
		enabled:   cfg.Enabled,
		seg:       NewSegmenter(cfg.MinSegmentChars),
	}
}

// Enabled reports whether synthesis is on.
func (v *Voice) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

// SetEnabled turns synthesis on or off. Turning it off resets the pipeline;
// turning it on takes effect with the next enqueue.
func (v *Voice) SetEnabled(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.enabled == on {
		return
	}
	v.enabled = on
	if !on {
		v.resetLocked()
	}
	v.logger.Debug("voice output toggled", "enabled", on)
}

// Feed passes a text delta of reply replyTo to the segmenter and queues every
// segment that became flushable. It is a no-op while disabled.
func (v *Voice) Feed(replyTo, delta string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.enabled {
		return
	}
	for _, s := range v.seg.Feed(replyTo, delta) {
		v.enqueueLocked(item{gen: v.gen, replyTo: replyTo, text: s})
	}
	v.startLocked()
}

// Finalize flushes whatever is buffered for replyTo and queues the tts_done
// marker behind it, so tts_done follows the reply's last segment.
func (v *Voice) Finalize(replyTo string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.enabled {
		return
	}
	if s, ok := v.seg.Finalize(replyTo); ok {
		v.enqueueLocked(item{gen: v.gen, replyTo: replyTo, text: s})
	}
	// The marker bypasses the queue bound.
	v.queue = append(v.queue, item{gen: v.gen, replyTo: replyTo, done: true})
	v.startLocked()
}

// Reset invalidates everything queued, clears the buffered tail, and drains
// the queue. A segment being synthesized when Reset is called is discarded
// instead of published.
func (v *Voice) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
}

// Generation returns the current cancellation generation.
func (v *Voice) Generation() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gen
}

// Close resets the pipeline and aborts an in-flight synthesis call.
func (v *Voice) Close() {
	v.Reset()
	v.cancel()
}

// Wait blocks until the worker goroutine, if any, has exited.
func (v *Voice) Wait() {
	v.wg.Wait()
}

func (v *Voice) resetLocked() {
	v.gen++
	v.seg.Reset()
	v.queue = nil
}

func (v *Voice) enqueueLocked(it item) {
	if strings.TrimSpace(it.text) == "" {
		return
	}
	if len(v.queue) >= v.queueSize {
		v.logger.Warn("speech queue full, dropping segment", "reply_to", it.replyTo)
		return
	}
	v.queue = append(v.queue, it)
}

func (v *Voice) startLocked() {
	if v.state == workerRunning || len(v.queue) == 0 {
		return
	}
	v.state = workerRunning
	v.wg.Go(v.work)
}

// currentLocked reports whether it is still wanted.
func (v *Voice) currentLocked(it item) bool {
	return it.gen == v.gen && v.enabled
}

func (v *Voice) work() {
	for {
		v.mu.Lock()
		if len(v.queue) == 0 {
			v.state = workerStopped
			v.mu.Unlock()
			return
		}
		it := v.queue[0]
		v.queue[0] = item{}
		v.queue = v.queue[1:]
		live := v.currentLocked(it)
		v.mu.Unlock()

		if !live {
			continue
		}

		if it.done {
			v.pub.Publish(events.New(events.TypeTTSDone, v.sessionID, events.TTSDone{ReplyTo: it.replyTo}))
			continue
		}

		audio := v.synthesize(it.text)

		v.mu.Lock()
		live = v.currentLocked(it)
		var seq int
		if live {
			if v.seqReply != it.replyTo {
				v.seqReply = it.replyTo
				v.seq = 0
			}
			v.seq++
			seq = v.seq
		}
		v.mu.Unlock()

		if !live {
			continue
		}
		v.pub.Publish(events.New(events.TypeAudioSegment, v.sessionID, events.AudioSegment{
			ReplyTo: it.replyTo,
			Seq:     seq,
			Text:    strings.TrimSpace(it.text),
			Audio:   audio,
			Mime:    v.mime,
		}))
	}
}

// synthesize never fails: errors degrade to empty audio.
func (v *Voice) synthesize(text string) []byte {
	speakable := Speakable(text)
	if speakable == "" {
		return []byte{}
	}
	audio, err := v.synth.Synthesize(v.ctx, speakable)
	if err != nil {
		v.logger.Warn("synthesis failed, sending empty audio", "error", err)
		return []byte{}
	}
	if audio == nil {
		return []byte{}
	}
	return audio
}
