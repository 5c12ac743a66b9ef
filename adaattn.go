// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package adaattn implements arbitrary style transfer with adaptive
// attention normalization: content and style images are encoded into
// multi-level feature tokens, per-point attention over the style features
// produces adaptive mean and standard deviation statistics, and a
// convolutional decoder renders the re-normalized content features back to an
// image.
//
// Create a Stylizer with New and call Stylize with a content and a style
// image. The backend is created with defaults and can be configured with
// GOMLX_BACKEND.
package adaattn

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/adaattn/encoder"
	"github.com/gomlx/adaattn/stylenet"
)

// Config describes how to build a Stylizer. The zero value is not usable;
// start from NewConfig and override fields before calling New.
type Config struct {
	// CheckpointDir holds trained weights. If empty the model runs with
	// freshly initialized weights, which is only useful for testing.
	CheckpointDir string

	// ImageSize is the square resolution images are resized to before
	// stylization. It must be a multiple of PatchSize.
	ImageSize int

	// NumLevels is the number of encoder feature levels fed to the
	// attention cascade.
	NumLevels int

	// Dim is the feature dimension shared by the encoders and the
	// attention layers.
	Dim int

	// NumHeads is the number of attention heads in the style-attention
	// layers (the encoders keep their own head count).
	NumHeads int

	// PatchSize is the encoder patch size.
	PatchSize int

	// Scorer selects the attention scoring function, one of
	// stylenet.ScorerSoftmax or stylenet.ScorerCosine.
	Scorer string

	// FinalActivation selects the decoder output activation, by the names
	// accepted by stylenet.FinalActivationFromName.
	FinalActivation string
}

// NewConfig returns the default configuration: 256x256 images, 3 feature
// levels of dimension 512, patch size 8 and softmax attention.
func NewConfig() Config {
	return Config{
		ImageSize:       256,
		NumLevels:       3,
		Dim:             512,
		NumHeads:        1,
		PatchSize:       8,
		Scorer:          stylenet.ScorerSoftmax,
		FinalActivation: "relu",
	}
}

// Stylizer holds the compiled style-transfer model.
type Stylizer struct {
	config  Config
	backend backends.Backend
	ctx     *context.Context
	exec    *context.Exec
}

// New builds a Stylizer from the configuration, loading weights from
// Config.CheckpointDir when it is set.
func New(config Config) (*Stylizer, error) {
	if config.ImageSize <= 0 || config.PatchSize <= 0 || config.ImageSize%config.PatchSize != 0 {
		return nil, errors.Errorf("image size %d must be a positive multiple of the patch size %d",
			config.ImageSize, config.PatchSize)
	}
	s := &Stylizer{
		config:  config,
		backend: backends.MustNew(),
		ctx:     context.New(),
	}

	if config.CheckpointDir != "" {
		// Hyperparameters are restored with the variables, so the same
		// model is rebuilt.
		_, err := checkpoints.Load(s.ctx).
			Dir(config.CheckpointDir).
			Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to load weights from %q", config.CheckpointDir)
		}
		s.ctx = s.ctx.Reuse()
	}

	contentEncoder := encoder.NewViT(true)
	styleEncoder := encoder.NewViT(false)
	for _, enc := range []*encoder.ViT{contentEncoder, styleEncoder} {
		enc.NumLevels = config.NumLevels
		enc.PatchSize = config.PatchSize
		enc.Dim = config.Dim
	}
	var network *stylenet.Network
	err := exceptions.TryCatch[error](func() {
		network = stylenet.NewSingleScale(config.NumLevels, config.Dim).
			WithScorer(config.Scorer).
			WithHeads(config.NumHeads).
			WithFinalActivation(stylenet.FinalActivationFromName(config.FinalActivation))
	})
	if err != nil {
		return nil, errors.WithMessage(err, "invalid model configuration")
	}
	s.exec, err = context.NewExec(s.backend, s.ctx, func(ctx *context.Context, content, style *Node) *Node {
		fc := contentEncoder.FeatureLevels(ctx.In("encoder_content"), content)
		fs := styleEncoder.FeatureLevels(ctx.In("encoder_style"), style)
		out := network.Apply(ctx.In("stylenet"), fc, fs)
		return ClipScalar(out, 0, 255)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to compile style-transfer model")
	}
	return s, nil
}

// ImageSize returns the square resolution the model operates at.
func (s *Stylizer) ImageSize() int { return s.config.ImageSize }

// NumParameters returns the total model parameter count. Before weights are
// loaded or the first stylization it only counts checkpoint variables.
func (s *Stylizer) NumParameters() int { return s.ctx.NumParameters() }

// Stylize renders content in the style of style. Both images are resized to
// the configured square resolution first; the result has that resolution.
func (s *Stylizer) Stylize(content, style image.Image) (image.Image, error) {
	output, err := s.StylizeTensor(s.ImageTensor(content), s.ImageTensor(style))
	if err != nil {
		return nil, err
	}
	var result image.Image
	err = exceptions.TryCatch[error](func() {
		result = images.ToImage().MaxValue(255).Batch(output)[0]
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to convert stylized tensor to image")
	}
	return result, nil
}

// StylizeTensor is the tensor-level variant of Stylize: inputs are
// [batch, height, width, 3] float32 in [0, 255] at the configured resolution,
// and the stylized batch has the same shape.
func (s *Stylizer) StylizeTensor(content, style *tensors.Tensor) (*tensors.Tensor, error) {
	output, err := s.exec.Exec1(content, style)
	if err != nil {
		return nil, errors.WithMessage(err, "style transfer execution failed")
	}
	return output, nil
}

// ImageTensor resizes an image to the configured resolution and converts it
// to the model's input form, [1, height, width, 3] float32 in [0, 255].
func (s *Stylizer) ImageTensor(img image.Image) *tensors.Tensor {
	resized := imaging.Resize(img, s.config.ImageSize, s.config.ImageSize, imaging.Lanczos)
	return images.ToTensor(dtypes.Float32).MaxValue(255).Batch([]image.Image{resized})
}
