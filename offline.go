package notefall

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cbegin/notefall-go/internal/scheduler"
	"github.com/cbegin/notefall-go/internal/timeline"
)

// OfflineEngine is a sample engine that can be pulled faster than real time.
// Its clock must advance with every rendered frame.
type OfflineEngine interface {
	scheduler.Engine
	Process(dst []float32)
	CurrentTime() float64
}

type RenderOptions struct {
	SampleRate int
	// Rate is the playback rate; 0 means 1.
	Rate float64
	// Tail is extra time rendered after the last note ends, in seconds.
	Tail  float64
	Muted map[int]bool
	// Scheduler defaults to scheduler.DefaultParams.
	Scheduler *scheduler.Params
	// BlockFrames is how many frames are rendered between scheduling passes.
	BlockFrames int
}

func DefaultRenderOptions(sampleRate int) RenderOptions {
	return RenderOptions{
		SampleRate:  sampleRate,
		Rate:        1,
		Tail:        1,
		BlockFrames: sampleRate / 10,
	}
}

// RenderSamples plays tl through engine and returns interleaved stereo
// samples. Notes are queued by the same scheduler a live session uses, with
// the engine's own clock standing in for the hardware clock.
func RenderSamples(tl *timeline.ParsedTimeline, engine OfflineEngine, opts RenderOptions) ([]float32, error) {
	if tl == nil {
		return nil, errors.New("notefall: no timeline to render")
	}
	if opts.SampleRate <= 0 {
		return nil, errors.New("notefall: sampleRate must be positive")
	}
	if !engine.Ready() {
		return nil, errors.New("notefall: engine not ready")
	}
	rate := opts.Rate
	if rate == 0 {
		rate = 1
	}
	if !(rate > 0) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("notefall: invalid playback rate %v", rate)
	}
	block := opts.BlockFrames
	if block <= 0 {
		block = max(opts.SampleRate/10, 1)
	}
	params := scheduler.DefaultParams()
	if opts.Scheduler != nil {
		params = *opts.Scheduler
	}
	sched := scheduler.New(engine, scheduler.WithParams(params))

	seconds := tl.Duration/rate + math.Max(0, opts.Tail)
	frames := int(math.Ceil(seconds * float64(opts.SampleRate)))
	out := make([]float32, frames*2)
	start := engine.CurrentTime()
	for done := 0; done < frames; done += block {
		now := engine.CurrentTime()
		offset := (now - start) * rate
		if offset < tl.Duration {
			sched.ScheduleNotes(tl.Notes, now, offset, rate, opts.Muted)
		}
		n := min(block, frames-done)
		engine.Process(out[done*2 : (done+n)*2])
	}
	if f := sched.Failures(); f > 0 {
		return out, fmt.Errorf("notefall: %d notes failed to trigger", f)
	}
	return out, nil
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
