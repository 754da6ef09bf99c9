// Package pipeline wires one encode run. It opens the sources, sizes the
// frame registry, builds the filter chain, codecs, multiplexer and rotation
// controller, and then runs the import loops, the frame workers and the
// encode loop together until the run ends.
package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/reelpipe/internal/codec"
	"github.com/jmylchreest/reelpipe/internal/config"
	"github.com/jmylchreest/reelpipe/internal/encbuf"
	"github.com/jmylchreest/reelpipe/internal/encoder"
	"github.com/jmylchreest/reelpipe/internal/filter"
	"github.com/jmylchreest/reelpipe/internal/frame"
	"github.com/jmylchreest/reelpipe/internal/importer"
	"github.com/jmylchreest/reelpipe/internal/mux"
	"github.com/jmylchreest/reelpipe/internal/observability"
	"github.com/jmylchreest/reelpipe/internal/ranges"
	"github.com/jmylchreest/reelpipe/internal/registry"
	"github.com/jmylchreest/reelpipe/internal/rotation"
	"github.com/jmylchreest/reelpipe/internal/source"
)

// NewRunID returns a new time ordered run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Status is a live view of a running pipeline.
type Status struct {
	RunID     string               `json:"run_id"`
	Encoder   encoder.Stats        `json:"encoder"`
	Importers []ImportResult       `json:"importers"`
	Registry  []registry.Occupancy `json:"registry"`
	Host      HostStats            `json:"host"`
}

// Pipeline is one configured encode run.
type Pipeline struct {
	cfg    *config.Config
	logger *slog.Logger
	base   *slog.Logger
	runID  string
	host   HostStats

	fps        frame.Rational
	ranges     ranges.List
	videoSrc   source.Source
	audioSrc   source.Source
	videoProbe source.Probe
	audioProbe source.Probe

	reg    *registry.Registry
	chain  *filter.Chain
	pool   *filter.Pool
	video  *importer.Loop
	audio  *importer.Loop
	buffer *encbuf.Buffer
	mux    mux.Multiplexer
	rot    *rotation.Controller
	loop   *encoder.Loop

	running   atomic.Bool
	closeOnce sync.Once
}

// New builds a pipeline from cfg. The sources are opened immediately;
// call Run to encode or Close to release them without running.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline requires a configuration")
	}
	if logger == nil {
		logger = slog.Default()
	}
	runID := NewRunID()
	base := observability.WithRunID(logger, runID)
	p := &Pipeline{
		cfg:    cfg,
		base:   base,
		logger: observability.WithComponent(base, "pipeline"),
		runID:  runID,
		host:   CollectHostStats(ctx),
	}
	steps := []func() error{
		p.openSources,
		p.buildExchange,
		p.buildImporters,
		p.buildEncoder,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			p.Close()
			return nil, err
		}
	}

	p.logger.InfoContext(ctx, "pipeline configured",
		slog.String("video", p.videoFormat().String()),
		slog.String("audio", p.audioFormat().String()),
		slog.String("ranges", p.ranges.String()),
		slog.String("output", cfg.Output.Path),
		slog.String("mux", cfg.Output.Mux),
		slog.String("rotation", p.rot.Mode().String()),
		slog.Int("slots", p.reg.Stats(frame.Video).Capacity))
	return p, nil
}

func (p *Pipeline) openSources() error {
	in := p.cfg.Input
	synth, err := syntheticConfig(in.Synthetic)
	if err != nil {
		return configError("input.synthetic.frame_rate", err)
	}

	var override frame.Rational
	if in.FrameRate != "" {
		if override, err = parseRate(in.FrameRate); err != nil {
			return configError("input.frame_rate", err)
		}
	}

	videoSynth := synth
	if in.Synthetic.FailKind == "audio" {
		videoSynth.FailAt = -1
	}
	p.videoSrc, err = source.Open(source.Spec{
		Kind:      frame.Video,
		Path:      in.Video,
		Format:    in.VideoFormat,
		FrameRate: override,
		Synthetic: videoSynth,
		Logger:    p.base,
	})
	if err != nil {
		return fmt.Errorf("opening video source: %w", err)
	}
	p.videoProbe = p.videoSrc.Probe()

	p.fps = p.videoProbe.FrameRate
	if override.Valid() {
		p.fps = override
	}
	if !p.fps.Valid() {
		return configError("input.frame_rate", errors.New("video source has no frame rate"))
	}

	audioSynth := synth
	if in.Synthetic.FailKind == "video" {
		audioSynth.FailAt = -1
	}
	p.audioSrc, err = source.Open(source.Spec{
		Kind:      frame.Audio,
		Path:      in.Audio,
		Format:    in.AudioFormat,
		FrameRate: p.fps,
		Synthetic: audioSynth,
		Logger:    p.base,
	})
	if err != nil {
		return fmt.Errorf("opening audio source: %w", err)
	}
	p.audioProbe = p.audioSrc.Probe()

	p.logger.Debug("sources opened",
		slog.String("video_path", in.Video),
		slog.String("audio_path", in.Audio),
		slog.String("frame_rate", p.fps.String()))
	return nil
}

// buildExchange sizes the registry and builds the filter chain and pool.
func (p *Pipeline) buildExchange() error {
	var err error
	if p.ranges, err = ranges.Parse(p.cfg.Encode.Ranges, p.fps); err != nil {
		return configError("encode.ranges", err)
	}

	specs := make([]filter.Spec, 0, len(p.cfg.Filters))
	for _, f := range p.cfg.Filters {
		specs = append(specs, filter.Spec{Name: f.Name, Kind: f.Kind, Stage: f.Stage, Options: f.Options})
	}
	if p.chain, err = filter.NewChain(specs); err != nil {
		return configError("filters", err)
	}

	videoBytes := max(
		source.VideoFrameSize(p.videoProbe.Width, p.videoProbe.Height, p.videoProbe.Colorspace),
		p.videoSrc.FrameSize(0))
	audioBytes := max(source.MaxAudioFrameSize(p.audioProbe.Track(), p.fps), p.audioSrc.FrameSize(0))
	slots := p.host.Slots(p.cfg.Pipeline.Slots, videoBytes+audioBytes, p.cfg.Pipeline.MaxMemory.Bytes())
	if slots < p.cfg.Pipeline.Slots {
		p.logger.Warn("frame slots reduced to fit memory budget",
			slog.Int("requested", p.cfg.Pipeline.Slots),
			slog.Int("slots", slots),
			slog.String("max_memory", p.cfg.Pipeline.MaxMemory.Human()))
	}

	p.reg, err = registry.New(registry.Config{Slots: slots, VideoBytes: videoBytes, AudioBytes: audioBytes})
	if err != nil {
		return configError("pipeline.slots", err)
	}

	workers := make(map[frame.Kind]int, len(frame.Kinds))
	var total int
	for _, kind := range frame.Kinds {
		if p.chain.Has(filter.Pre, kind) {
			workers[kind] = p.host.FrameWorkers(p.cfg.Pipeline.FrameWorkers)
			total += workers[kind]
		}
	}
	if total > 0 {
		p.pool = filter.NewPool(p.reg, p.chain, workers, observability.WithComponent(p.base, "frame_workers"))
	}
	return nil
}

func (p *Pipeline) buildImporters() error {
	var err error
	for _, kind := range frame.Kinds {
		src, dst := p.videoSrc, &p.video
		if kind == frame.Audio {
			src, dst = p.audioSrc, &p.audio
		}
		*dst, err = importer.New(importer.Config{
			Kind:     kind,
			Source:   src,
			Registry: p.reg,
			Ranges:   p.ranges,
			Filters:  p.chain,
			Workers:  p.pool.Workers(kind),
			Logger:   p.base,
		})
		if err != nil {
			return fmt.Errorf("building %s import loop: %w", kind, err)
		}
	}
	return nil
}

func (p *Pipeline) videoFormat() codec.Format {
	return codec.Format{
		Kind:       frame.Video,
		Width:      p.videoProbe.Width,
		Height:     p.videoProbe.Height,
		Colorspace: p.videoProbe.Colorspace,
		FrameRate:  p.fps,
	}
}

func (p *Pipeline) audioFormat() codec.Format {
	track := p.audioProbe.Track()
	return codec.Format{
		Kind:       frame.Audio,
		FrameRate:  p.fps,
		SampleRate: track.SampleRate,
		Channels:   track.Channels,
		Bits:       track.Bits,
	}
}

func (p *Pipeline) buildEncoder() error {
	video, err := p.newCodec("encode.video_codec", p.cfg.Encode.VideoCodec, "video.", p.videoFormat())
	if err != nil {
		return err
	}
	audio, err := p.newCodec("encode.audio_codec", p.cfg.Encode.AudioCodec, "audio.", p.audioFormat())
	if err != nil {
		return err
	}

	if p.mux, err = mux.New(p.cfg.Output.Mux); err != nil {
		return configError("output.mux", err)
	}
	opts := p.options("mux.")
	track := p.audioProbe.Track()
	if _, ok := opts["sample_rate"]; !ok && track.SampleRate > 0 {
		opts["sample_rate"] = strconv.Itoa(track.SampleRate)
	}
	if _, ok := opts["channels"]; !ok && track.Channels > 0 {
		opts["channels"] = strconv.Itoa(track.Channels)
	}
	if err := p.mux.Configure(opts); err != nil {
		return configError("output.mux", err)
	}

	out := p.cfg.Output
	p.rot = rotation.New(p.mux, out.Path, out.AudioPath, p.base)
	switch {
	case out.SplitFrames > 0:
		p.rot.SetFrameLimit(out.SplitFrames)
	case out.SplitBytes > 0:
		p.rot.SetByteLimit(out.SplitBytes.Bytes())
	}

	p.buffer = encbuf.New(p.reg, p.chain, p.base)
	p.loop, err = encoder.New(encoder.Config{
		Buffer:        p.buffer,
		Video:         video,
		Audio:         audio,
		Mux:           p.mux,
		Rotation:      p.rot,
		Ranges:        p.ranges,
		Cluster:       p.cfg.Encode.Cluster,
		ProgressEvery: p.cfg.Encode.ProgressEvery,
		Logger:        p.base,
	})
	return err
}

func (p *Pipeline) newCodec(field, name, prefix string, format codec.Format) (codec.Module, error) {
	m, err := codec.New(name)
	if err != nil {
		return nil, configError(field, err)
	}
	if err := codec.Check(m, format); err != nil {
		return nil, configError(field, err)
	}
	if err := m.Configure(p.options(prefix), format); err != nil {
		return nil, configError(field, err)
	}
	return m, nil
}

// options returns the encode options whose key starts with prefix, with the
// prefix removed.
func (p *Pipeline) options(prefix string) codec.Options {
	opts := codec.Options{}
	for k, v := range p.cfg.Encode.Options {
		if name, ok := strings.CutPrefix(k, prefix); ok {
			opts[name] = v
		}
	}
	return opts
}

// Run executes the pipeline once. The returned error is nil when the run
// ended Done or Stopped; the Result is always returned once the run started.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer p.Close()

	res := &Result{RunID: p.runID, StartedAt: time.Now()}
	p.logger.InfoContext(ctx, "encode run started")

	stopInterrupt := context.AfterFunc(ctx, p.reg.Interrupt)
	defer stopInterrupt()

	if p.pool != nil {
		if err := p.pool.Start(); err != nil {
			return nil, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range []*importer.Loop{p.video, p.audio} {
		g.Go(func() error {
			err := l.Run(gctx)
			if errors.Is(err, registry.ErrInterrupted) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	var encErr error
	g.Go(func() error {
		encErr = p.loop.Run(gctx)
		// Producers blocked on a full registry unwind once the consumer is gone.
		p.reg.Interrupt()
		return nil
	})

	groupErr := g.Wait()
	if p.pool != nil {
		if err := p.pool.Wait(); err != nil {
			p.logger.WarnContext(ctx, "frame workers reported filter errors", slog.Any("error", err))
		}
	}
	// Nothing retrieves frames once every loop has returned.
	for _, kind := range frame.Kinds {
		if n := p.reg.Flush(kind); n > 0 {
			p.logger.DebugContext(ctx, "released queued frames",
				slog.String("kind", kind.String()),
				slog.Int("frames", n))
		}
	}

	res.Outcome, res.Err = classify(ctx.Err() != nil, p.loop.State(), encErr, p.video, p.audio)
	if res.Outcome == OutcomeDone && groupErr != nil {
		res.Outcome, res.Err = OutcomeFailed, groupErr
	}
	res.Encoder = p.loop.Stats()
	res.Video = importResult(p.video)
	res.Audio = importResult(p.audio)
	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)

	logger := p.logger
	if res.Err != nil {
		logger = observability.WithError(logger, res.Err)
	}
	logger.InfoContext(ctx, "encode run finished",
		slog.String("outcome", string(res.Outcome)),
		slog.Int64("encoded", res.Encoder.Encoded),
		slog.Int64("skipped", res.Encoder.Skipped),
		slog.Int64("dropped", res.Encoder.Dropped),
		slog.Int64("cloned", res.Encoder.Cloned),
		slog.Int64("bytes", res.Encoder.Bytes),
		slog.Int("chunks", res.Encoder.Chunks),
		slog.Duration("duration", res.Duration))

	return res, res.Err
}

// Close releases the sources. It is safe to call more than once.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		for _, src := range []source.Source{p.videoSrc, p.audioSrc} {
			if src == nil {
				continue
			}
			if err := src.Close(); err != nil {
				p.logger.Warn("closing source", slog.String("kind", src.Kind().String()), slog.Any("error", err))
			}
		}
	})
}

// RunID returns the identifier of this run.
func (p *Pipeline) RunID() string { return p.runID }

// FrameRate returns the effective video frame rate.
func (p *Pipeline) FrameRate() frame.Rational { return p.fps }

// Probes returns the video and audio probe descriptors.
func (p *Pipeline) Probes() (video, audio source.Probe) { return p.videoProbe, p.audioProbe }

// Pause suspends encoding at the next frame boundary. Import loops keep
// filling the registry until it is full.
func (p *Pipeline) Pause() { p.loop.Pause() }

// Resume releases a paused run.
func (p *Pipeline) Resume() { p.loop.Resume() }

// Paused reports whether encoding is paused.
func (p *Pipeline) Paused() bool { return p.loop.Paused() }

// Stop ends the run at the next frame boundary without flushing the codecs.
func (p *Pipeline) Stop() {
	p.loop.Stop()
	p.reg.Interrupt()
}

// Status returns a snapshot of the run.
func (p *Pipeline) Status() Status {
	st := Status{
		RunID:   p.runID,
		Encoder: p.loop.Stats(),
		Host:    p.host,
	}
	for _, l := range []*importer.Loop{p.video, p.audio} {
		ir := importResult(l)
		ir.Active = l.Active()
		st.Importers = append(st.Importers, ir)
	}
	for _, kind := range frame.Kinds {
		st.Registry = append(st.Registry, p.reg.Stats(kind))
	}
	return st
}

func syntheticConfig(c config.SyntheticConfig) (source.SyntheticConfig, error) {
	fps, err := parseRate(c.FrameRate)
	if err != nil {
		return source.SyntheticConfig{}, err
	}
	return source.SyntheticConfig{
		Frames:     c.Frames,
		FailAt:     c.FailAt,
		Width:      c.Width,
		Height:     c.Height,
		Colorspace: c.Colorspace,
		FrameRate:  fps,
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		Bits:       c.Bits,
	}, nil
}

func parseRate(s string) (frame.Rational, error) {
	r, err := config.ParseRate(s)
	if err != nil {
		return frame.Rational{}, err
	}
	return frame.Rational{Num: r[0], Den: r[1]}, nil
}
