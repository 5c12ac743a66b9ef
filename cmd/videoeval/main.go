// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package main measures the temporal consistency of stylized video: each
// frame of a video is stylized against a fixed style image, consecutive
// stylized frames are compared after optical-flow warping with occluded
// regions masked out, and the accumulated score is reported.
//
// Optical flow is computed externally (e.g. by RAFT) and read from a
// directory of saved flow tensors, one forward and one backward flow per
// consecutive frame pair, shaped [1, height, width, 2]:
//
//	videoeval -frames video1/frames -flows video1/flows -style painting.jpg \
//	    -checkpoint ~/work/adaattn/checkpoint
//
// Lower scores mean more temporally stable stylization.
package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/gomlx/adaattn"
	"github.com/gomlx/adaattn/temporal"
)

var (
	flagFrames     = flag.String("frames", "", "Directory of video frames, in lexicographic order (required)")
	flagFlows      = flag.String("flows", "", "Directory of saved flow tensors: fwd_* and bwd_* files, one pair per consecutive frame pair (required)")
	flagStyle      = flag.String("style", "", "Style image (required)")
	flagCheckpoint = flag.String("checkpoint", "", "Directory with trained model weights")
	flagImageSize  = flag.Int("image-size", 256, "Square resolution to stylize at")
	flagBackend    = flag.String("backend", "", "Backend to use (default: auto-detect)")
)

func main() {
	flag.Parse()
	if *flagFrames == "" || *flagFlows == "" || *flagStyle == "" {
		flag.Usage()
		log.Fatal("-frames, -flows and -style are required")
	}
	if *flagBackend != "" {
		must.M(os.Setenv("GOMLX_BACKEND", *flagBackend))
	}

	config := adaattn.NewConfig()
	config.CheckpointDir = *flagCheckpoint
	config.ImageSize = *flagImageSize
	stylizer, err := adaattn.New(config)
	if err != nil {
		log.Fatalf("Failed to build model: %v", err)
	}
	styleImg := must.M1(imaging.Open(*flagStyle))
	styleTensor := stylizer.ImageTensor(styleImg)

	frames, err := temporal.NewDirFrameSource(*flagFrames)
	if err != nil {
		log.Fatalf("Failed to open frames: %v", err)
	}
	flows, err := newSavedFlows(*flagFlows)
	if err != nil {
		log.Fatalf("Failed to open flows: %v", err)
	}

	backend := backends.MustNew()
	evaluator, err := temporal.NewEvaluator(backend)
	if err != nil {
		log.Fatalf("Failed to build evaluator: %v", err)
	}

	stylize := func(frame image.Image) (*tensors.Tensor, error) {
		return stylizer.StylizeTensor(stylizer.ImageTensor(frame), styleTensor)
	}
	score, err := evaluator.Run(frames, flows, stylize, frames.Len())
	if err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}
	fmt.Printf("Temporal consistency over %d frame pairs: %.6f\n", evaluator.Pairs(), score)
}

// savedFlows serves precomputed flow from disk. Forward flows are files
// prefixed "fwd_", backward flows "bwd_", each sorted lexicographically.
// Estimate alternates: the first call for a frame pair is the forward flow,
// the second the backward flow, matching the evaluator's call order.
type savedFlows struct {
	forward  []string
	backward []string
	pair     int
	wantBack bool
}

func newSavedFlows(dir string) (*savedFlows, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list flows in %q", dir)
	}
	s := &savedFlows{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasPrefix(name, "fwd_"):
			s.forward = append(s.forward, filepath.Join(dir, name))
		case strings.HasPrefix(name, "bwd_"):
			s.backward = append(s.backward, filepath.Join(dir, name))
		}
	}
	if len(s.forward) == 0 || len(s.forward) != len(s.backward) {
		return nil, errors.Errorf("flow directory %q must hold matching fwd_*/bwd_* files, got %d/%d",
			dir, len(s.forward), len(s.backward))
	}
	sort.Strings(s.forward)
	sort.Strings(s.backward)
	return s, nil
}

// Estimate implements temporal.FlowEstimator.
func (s *savedFlows) Estimate(_, _ *tensors.Tensor) (*tensors.Tensor, error) {
	if s.pair >= len(s.forward) {
		return nil, errors.Errorf("no saved flow left for frame pair %d", s.pair)
	}
	path := s.forward[s.pair]
	if s.wantBack {
		path = s.backward[s.pair]
		s.pair++
	}
	s.wantBack = !s.wantBack
	flow, err := tensors.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load flow %q", path)
	}
	return flow, nil
}
