// Copyright ©2019 The Gonum Authors. All rights reserved.
// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tilegemm

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/LynnColeArt/tilegemm"

// Version returns the version of tilegemm and its checksum. The returned
// values are only valid in binaries built with module support; a binary
// built from within this module reports "(devel)".
//
// The exact version format returned by Version may change in future.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return moduleVersion(b)
}

func moduleVersion(b *debug.BuildInfo) (version, sum string) {
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace == nil {
			return m.Version, m.Sum
		}
		switch {
		case m.Replace.Version != "" && m.Replace.Path != "":
			return fmt.Sprintf("%s=>%s %s", m.Version, m.Replace.Path, m.Replace.Version), m.Replace.Sum
		case m.Replace.Version != "":
			return fmt.Sprintf("%s=>%s", m.Version, m.Replace.Version), m.Replace.Sum
		case m.Replace.Path != "":
			return fmt.Sprintf("%s=>%s", m.Version, m.Replace.Path), m.Replace.Sum
		default:
			return m.Version + "*", m.Sum + "*"
		}
	}
	return "", ""
}
