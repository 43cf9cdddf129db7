// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tilegemm multiplies dense square float32 matrices on an
// accelerator using a tiled kernel.
//
// The runtime follows the usual offload model. A Context owns the selected
// Device, a MemoryPool and a registry of named kernels. Host arrays are
// mirrored into device Regions with a fixed AccessMode, command groups are
// submitted to an in-order Queue, and Queue.Join blocks until they are
// done. The built-in device is the host CPU and work-groups are spread
// over its cores. A work-item kernel runs each work-item as a goroutine
// meeting its peers at barriers. A work-group kernel runs the whole group
// on one goroutine in passes over its work-items, and the tiled multiply
// uses that form.
//
// Example usage:
//
//	ctx, err := tilegemm.NewContext(tilegemm.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	q := ctx.NewQueue()
//	a := tilegemm.NewMatrixFilled(1024, 2)
//	b := tilegemm.NewMatrixFilled(1024, 3)
//	c, err := tilegemm.Multiply(ctx, q, a, b, tilegemm.DefaultMatMulOptions())
package tilegemm
