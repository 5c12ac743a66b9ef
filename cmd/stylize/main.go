// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package main renders a content image in the style of a style image using
// the AdaAttN style-transfer model.
//
// Example:
//
//	stylize -content photo.jpg -style painting.jpg -output stylized.png \
//	    -checkpoint ~/work/adaattn/checkpoint
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"

	_ "github.com/gomlx/gomlx/backends/default"

	"github.com/gomlx/adaattn"
)

var (
	flagContent    = flag.String("content", "", "Content image to stylize (required)")
	flagStyle      = flag.String("style", "", "Style image (required)")
	flagOutput     = flag.String("output", "stylized.png", "Output image path")
	flagCheckpoint = flag.String("checkpoint", "", "Directory with trained model weights")
	flagImageSize  = flag.Int("image-size", 256, "Square resolution to stylize at; must be a multiple of the patch size (8)")
	flagScorer     = flag.String("scorer", "softmax", "Attention scoring function: \"softmax\" or \"cosine\"")
	flagHeads      = flag.Int("heads", 1, "Number of attention heads in the style-attention layers")
	flagFinal      = flag.String("final-activation", "relu", "Decoder output activation: \"relu\", \"plain\" or \"tanh\"")
	flagBackend    = flag.String("backend", "", "Backend to use (default: auto-detect)")
)

func main() {
	flag.Parse()
	if *flagContent == "" || *flagStyle == "" {
		flag.Usage()
		log.Fatal("both -content and -style are required")
	}
	if *flagBackend != "" {
		must.M(os.Setenv("GOMLX_BACKEND", *flagBackend))
	}

	content := must.M1(imaging.Open(*flagContent))
	style := must.M1(imaging.Open(*flagStyle))

	config := adaattn.NewConfig()
	config.CheckpointDir = *flagCheckpoint
	config.ImageSize = *flagImageSize
	config.Scorer = *flagScorer
	config.NumHeads = *flagHeads
	config.FinalActivation = *flagFinal
	stylizer, err := adaattn.New(config)
	if err != nil {
		log.Fatalf("Failed to build model: %v", err)
	}
	if *flagCheckpoint == "" {
		fmt.Println("No -checkpoint given: running with untrained weights.")
	}

	start := time.Now()
	result, err := stylizer.Stylize(content, style)
	if err != nil {
		log.Fatalf("Stylization failed: %v", err)
	}
	fmt.Printf("Stylized %dx%d in %s (%s parameters)\n", stylizer.ImageSize(), stylizer.ImageSize(),
		time.Since(start).Round(time.Millisecond), humanize.Comma(int64(stylizer.NumParameters())))

	must.M(imaging.Save(result, *flagOutput))
	info := must.M1(os.Stat(*flagOutput))
	fmt.Printf("Wrote %s (%s)\n", *flagOutput, humanize.Bytes(uint64(info.Size())))
}
