// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package encoder

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	MakeShape = shapes.Make
	F32       = dtypes.Float32
)

func TestViTShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, posEmbedding := range []bool{true, false} {
		vit := &ViT{NumLevels: 2, PatchSize: 4, Dim: 16, NumHeads: 4, PosEmbedding: posEmbedding}
		require.Equal(t, 2, vit.Levels())
		ctx := context.New()
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, image *Node) []*Node {
			return vit.FeatureLevels(ctx, image)
		})
		outputs := exec.MustExec(tensors.FromShape(MakeShape(F32, 2, 16, 16, 3)))
		require.Len(t, outputs, 2)
		for _, output := range outputs {
			// 16x16 image with 4x4 patches: 16 tokens of dim 16.
			require.Equal(t, []int{2, 16, 16}, output.Shape().Dimensions)
		}
	}
}

func TestViTInvalidInputs(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	g := NewGraph(backend, "TestViTInvalidInputs")

	badSize := IotaFull(g, MakeShape(F32, 1, 15, 16, 3))
	vit := &ViT{NumLevels: 1, PatchSize: 4, Dim: 16, NumHeads: 4}
	require.Panics(t, func() { vit.FeatureLevels(ctx, badSize) })

	image := IotaFull(g, MakeShape(F32, 1, 16, 16, 3))
	badHeads := &ViT{NumLevels: 1, PatchSize: 4, Dim: 16, NumHeads: 3}
	require.Panics(t, func() { badHeads.FeatureLevels(ctx, image) })
}

func TestPyramidShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	pyramid := &Pyramid{NumLevels: 3, BaseDim: 32}
	require.Equal(t, 3, pyramid.Levels())
	ctx := context.New()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, image *Node) []*Node {
		return pyramid.FeatureLevels(ctx, image)
	})
	outputs := exec.MustExec(tensors.FromShape(MakeShape(F32, 1, 32, 32, 3)))
	require.Len(t, outputs, 3)
	// Level 0 is the coarsest and deepest.
	require.Equal(t, []int{1, 4, 4, 32}, outputs[0].Shape().Dimensions)
	require.Equal(t, []int{1, 8, 8, 16}, outputs[1].Shape().Dimensions)
	require.Equal(t, []int{1, 16, 16, 8}, outputs[2].Shape().Dimensions)
}
