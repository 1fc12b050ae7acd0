package calib

import "github.com/fluidlab/ptv3d/internal/ptv/params"

// PixelToMetric converts sensor pixel coordinates (origin top-left, y
// down) to metric image-plane coordinates (origin at the sensor centre,
// y up, millimetres).
func PixelToMetric(xp, yp float64, cp *params.ControlParams) (float64, float64) {
	x := (xp - float64(cp.ImgX)/2) * cp.PixX
	y := (float64(cp.ImgY)/2 - yp) * cp.PixY
	return x, y
}

// MetricToPixel is the inverse of PixelToMetric.
func MetricToPixel(x, y float64, cp *params.ControlParams) (float64, float64) {
	xp := x/cp.PixX + float64(cp.ImgX)/2
	yp := float64(cp.ImgY)/2 - y/cp.PixY
	return xp, yp
}
