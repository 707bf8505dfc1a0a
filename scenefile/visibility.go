// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package scenefile

import (
	"image"

	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/mstarongithub/w2g-planes/region"
)

// ResolveVisibility fills in the visible region of every node.
// nodes is ordered top to bottom, anything outside bounds is invisible
func ResolveVisibility(nodes []*kms.PaintNode, bounds image.Rectangle) {
	var occluded region.Region
	for _, node := range nodes {
		node.Visible = region.New(node.Geometry.Intersect(bounds)).Subtract(occluded)
		if node.Alpha >= 1 {
			occluded = occluded.Union(node.Opaque.IntersectRect(bounds))
		}
	}
}
