// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package temporal

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/require"
)

// sliceFrames serves an in-memory list of frames.
type sliceFrames struct {
	frames []image.Image
	next   int
}

func (s *sliceFrames) Next() (image.Image, error) {
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	frame := s.frames[s.next]
	s.next++
	return frame, nil
}

// zeroFlow always estimates no motion.
type zeroFlow struct {
	height, width int
}

func (z zeroFlow) Estimate(_, _ *tensors.Tensor) (*tensors.Tensor, error) {
	return tensors.FromShape(MakeShape(F32, 1, z.height, z.width, 2)), nil
}

// uniformFrame builds a small frame with every pixel set to the same gray
// value.
func uniformFrame(size int, value uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: value, G: value, B: value, A: 255})
		}
	}
	return img
}

func TestEvaluatorStaticVideo(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	evaluator, err := NewEvaluator(backend)
	require.NoError(t, err)

	const size = 4
	frames := &sliceFrames{frames: []image.Image{
		uniformFrame(size, 10), uniformFrame(size, 10), uniformFrame(size, 10),
	}}
	score, err := evaluator.Run(frames, zeroFlow{size, size}, frameIdentity, len(frames.frames))
	require.NoError(t, err)
	require.Equal(t, 2, evaluator.Pairs())
	require.InDelta(t, 0, score, 1e-4, "a static video is perfectly consistent")
}

func TestEvaluatorKnownScore(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	evaluator, err := NewEvaluator(backend)
	require.NoError(t, err)

	// One pair with a constant intensity step of 3: per-pair score d², and
	// the reported metric is sqrt(acc)/pairs = 3.
	const size = 4
	frames := &sliceFrames{frames: []image.Image{
		uniformFrame(size, 10), uniformFrame(size, 13),
	}}
	score, err := evaluator.Run(frames, zeroFlow{size, size}, frameIdentity, 2)
	require.NoError(t, err)
	require.Equal(t, 1, evaluator.Pairs())
	require.InDelta(t, 3, score, 1e-2)

	evaluator.Reset()
	require.Equal(t, 0, evaluator.Pairs())
	require.Zero(t, evaluator.Running())
}

func TestEvaluatorRunningMetric(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	evaluator, err := NewEvaluator(backend)
	require.NoError(t, err)

	// Three frames stepping 10→13→13: pair scores 9 and 0 accumulate to
	// sqrt(9)/2.
	const size = 4
	frames := &sliceFrames{frames: []image.Image{
		uniformFrame(size, 10), uniformFrame(size, 13), uniformFrame(size, 13),
	}}
	score, err := evaluator.Run(frames, zeroFlow{size, size}, frameIdentity, 3)
	require.NoError(t, err)
	require.Equal(t, 2, evaluator.Pairs())
	require.InDelta(t, 1.5, score, 1e-2)
}

func TestEvaluatorEmptyVideo(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	evaluator, err := NewEvaluator(backend)
	require.NoError(t, err)
	_, err = evaluator.Run(&sliceFrames{}, zeroFlow{4, 4}, frameIdentity, 0)
	require.Error(t, err)
}

// frameIdentity is a stand-in StylizeFn: the "stylized" frame is the frame
// itself.
func frameIdentity(frame image.Image) (*tensors.Tensor, error) {
	return frameToTensor(frame), nil
}

func TestDirFrameSource(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i))
		require.NoError(t, imaging.Save(uniformFrame(4, uint8(10*i)), path))
	}

	frames, err := NewDirFrameSource(dir)
	require.NoError(t, err)
	require.Equal(t, 3, frames.Len())
	for i := 0; i < 3; i++ {
		frame, err := frames.Next()
		require.NoError(t, err)
		r, _, _, _ := frame.At(0, 0).RGBA()
		require.Equal(t, uint32(10*i), r>>8, "frames must come back in lexicographic order")
	}
	_, err = frames.Next()
	require.Equal(t, io.EOF, err)

	_, err = NewDirFrameSource(filepath.Join(dir, "missing"))
	require.Error(t, err)
	_, err = NewDirFrameSource(t.TempDir())
	require.Error(t, err, "an empty directory holds no frames")
}
