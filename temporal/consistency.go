// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package temporal

import (
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// FlowEstimator produces dense optical flow between two frames. Frames and
// flows are tensors shaped [batch, height, width, 3] and
// [batch, height, width, 2] respectively; the (dx, dy) displacement relates
// the first frame to the second.
//
// Implementations wrap an external flow network (e.g. RAFT); any internal
// input normalization is the implementation's own concern.
type FlowEstimator interface {
	Estimate(frame1, frame2 *tensors.Tensor) (flow *tensors.Tensor, err error)
}

// FrameSource yields consecutive video frames. Next returns io.EOF when the
// video is exhausted; any other error is fatal for the video.
type FrameSource interface {
	Next() (image.Image, error)
}

// StylizeFn turns a raw frame into a stylized frame tensor shaped
// [1, height, width, 3] with intensities in [0, 255].
type StylizeFn func(frame image.Image) (*tensors.Tensor, error)

// DirFrameSource reads frames from a directory of image files, in
// lexicographic order — the layout produced by external frame-extraction
// tooling (one numbered image per frame).
type DirFrameSource struct {
	paths []string
	next  int
}

// NewDirFrameSource lists the image files in dir. It fails if the directory
// cannot be read or holds no files.
func NewDirFrameSource(dir string) (*DirFrameSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list frames in %q", dir)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no frame files found in %q", dir)
	}
	sort.Strings(paths)
	return &DirFrameSource{paths: paths}, nil
}

// Len returns the total number of frames in the directory.
func (s *DirFrameSource) Len() int { return len(s.paths) }

// Next implements FrameSource.
func (s *DirFrameSource) Next() (image.Image, error) {
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.next]
	s.next++
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read frame %q", path)
	}
	return img, nil
}

// Evaluator accumulates the occlusion-aware temporal-consistency metric over
// consecutive stylized frame pairs.
//
// The per-pair score is ConsistencyLoss; the reported metric is
// sqrt(accumulated)/pairs, a running RMS-style diagnostic accumulated over the
// whole video without intermediate resets.
type Evaluator struct {
	exec  *Exec
	accum float64
	pairs int
}

// NewEvaluator compiles the pair-scoring computation on the given backend.
func NewEvaluator(backend backends.Backend) (*Evaluator, error) {
	exec, err := NewExec(backend, func(stylized1, stylized2, forward, backward *Node) *Node {
		return ConsistencyLoss(stylized1, stylized2, forward, backward)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to compile consistency loss")
	}
	return &Evaluator{exec: exec}, nil
}

// Accumulate scores one stylized frame pair with its forward (t→t+1) and
// backward (t+1→t) flows and adds the result to the running total.
func (e *Evaluator) Accumulate(stylized1, stylized2, forward, backward *tensors.Tensor) error {
	loss, err := e.exec.Exec1(stylized1, stylized2, forward, backward)
	if err != nil {
		return errors.WithMessage(err, "failed to score frame pair")
	}
	e.accum += float64(tensors.ToScalar[float32](loss))
	e.pairs++
	return nil
}

// Pairs returns the number of frame pairs accumulated so far.
func (e *Evaluator) Pairs() int { return e.pairs }

// Running returns the current metric, sqrt(accumulated)/pairs, or 0 before
// any pair was scored.
func (e *Evaluator) Running() float64 {
	if e.pairs == 0 {
		return 0
	}
	return math.Sqrt(e.accum) / float64(e.pairs)
}

// Reset discards the accumulated total, for reuse across videos.
func (e *Evaluator) Reset() {
	e.accum = 0
	e.pairs = 0
}

// Run drives a whole video through the evaluator: frames are stylized,
// consecutive pairs are scored with externally estimated flow, and the final
// metric is returned. Frame windowing is bounded: only the current pair is
// ever held, never the full video.
//
// Any frame read or flow estimation failure terminates processing for the
// video; there is no partial-frame recovery.
func (e *Evaluator) Run(frames FrameSource, flow FlowEstimator, stylize StylizeFn, totalFrames int) (float64, error) {
	var bar *progressbar.ProgressBar
	if totalFrames > 0 {
		bar = progressbar.Default(int64(totalFrames), "Scoring video")
	}

	window, err := newFrameWindow(frames, stylize)
	if err != nil {
		return 0, err
	}
	if bar != nil {
		_ = bar.Add(1)
	}

	for {
		err := window.advance()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}

		forward, err := flow.Estimate(window.prev.raw, window.cur.raw)
		if err != nil {
			return 0, errors.WithMessage(err, "forward flow estimation failed")
		}
		backward, err := flow.Estimate(window.cur.raw, window.prev.raw)
		if err != nil {
			return 0, errors.WithMessage(err, "backward flow estimation failed")
		}
		if err := e.Accumulate(window.prev.stylized, window.cur.stylized, forward, backward); err != nil {
			return 0, err
		}

		if bar != nil {
			_ = bar.Add(1)
		}
		klog.V(1).Infof("frame pair %d: running consistency %.6f", e.pairs, e.Running())
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return e.Running(), nil
}

// frameWindow is a bounded two-slot window over the frame stream: the
// previous and current frame with their stylized tensors. Memory use stays
// constant regardless of video length.
type frameWindow struct {
	frames  FrameSource
	stylize StylizeFn
	prev    windowEntry
	cur     windowEntry
}

type windowEntry struct {
	raw      *tensors.Tensor
	stylized *tensors.Tensor
}

func newFrameWindow(frames FrameSource, stylize StylizeFn) (*frameWindow, error) {
	w := &frameWindow{frames: frames, stylize: stylize}
	entry, err := w.load()
	if err == io.EOF {
		return nil, errors.New("video has no frames")
	}
	if err != nil {
		return nil, err
	}
	w.cur = entry
	return w, nil
}

// advance shifts the window by one frame. It returns io.EOF at the end of the
// stream.
func (w *frameWindow) advance() error {
	entry, err := w.load()
	if err != nil {
		return err
	}
	w.prev = w.cur
	w.cur = entry
	return nil
}

func (w *frameWindow) load() (windowEntry, error) {
	frame, err := w.frames.Next()
	if err == io.EOF {
		return windowEntry{}, io.EOF
	}
	if err != nil {
		return windowEntry{}, errors.WithMessage(err, "frame read failed")
	}
	stylized, err := w.stylize(frame)
	if err != nil {
		return windowEntry{}, errors.WithMessage(err, "frame stylization failed")
	}
	return windowEntry{raw: frameToTensor(frame), stylized: stylized}, nil
}

// frameToTensor converts a frame to [1, height, width, 3] float32 in [0, 255].
func frameToTensor(frame image.Image) *tensors.Tensor {
	return images.ToTensor(dtypes.Float32).MaxValue(255).Single(frame)
}
