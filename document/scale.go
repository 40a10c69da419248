// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package document

import "math"

// ComputeScale returns the uniform factor that fits a requested page
// area into a device area. It is 1 when the device is at least as
// large as the page area in both axes; otherwise the smaller of the
// two axis ratios. It is never greater than 1. A degenerate page area
// yields 1.
func ComputeScale(deviceWidth, deviceHeight, pageWidth, pageHeight float64) float64 {
	if pageWidth <= 0 || pageHeight <= 0 {
		return 1
	}
	if deviceWidth >= pageWidth && deviceHeight >= pageHeight {
		return 1
	}
	return math.Min(1, math.Min(deviceWidth/pageWidth, deviceHeight/pageHeight))
}
