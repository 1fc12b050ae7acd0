package calib

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Triangulate computes the least-squares intersection of the viewing rays
// through the given metric image points, one per camera. pts[i] is ignored
// when use[i] is false; at least two cameras must be enabled.
//
// The returned residual is the RMS distance of the solution from the
// contributing rays, in world units. ok is false when the normal equations
// are singular (parallel rays) or fewer than two cameras contribute.
func Triangulate(cams []Camera, pts [][2]float64, use []bool) (pos [3]float64, residual float64, ok bool) {
	// Minimise sum_i || (I - d_i d_i^T)(X - o_i) ||^2 over X. The normal
	// equations are A X = b with A = sum (I - d d^T), b = sum (I - d d^T) o.
	var a [3][3]float64
	var b [3]float64

	type ray struct{ o, d [3]float64 }
	var rays []ray

	for i, cam := range cams {
		if i >= len(use) || !use[i] || i >= len(pts) {
			continue
		}
		o, d := cam.Ray(pts[i][0], pts[i][1])
		rays = append(rays, ray{o, d})

		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				m := -d[r] * d[c]
				if r == c {
					m += 1
				}
				a[r][c] += m
				b[r] += m * o[c]
			}
		}
	}
	if len(rays) < 2 {
		return pos, 0, false
	}

	A := mat.NewDense(3, 3, []float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		a[2][0], a[2][1], a[2][2],
	})
	bv := mat.NewVecDense(3, []float64{b[0], b[1], b[2]})

	var x mat.VecDense
	if err := x.SolveVec(A, bv); err != nil {
		return pos, 0, false
	}
	pos = [3]float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)}

	var sum float64
	for _, r := range rays {
		v := [3]float64{pos[0] - r.o[0], pos[1] - r.o[1], pos[2] - r.o[2]}
		t := v[0]*r.d[0] + v[1]*r.d[1] + v[2]*r.d[2]
		dx := v[0] - t*r.d[0]
		dy := v[1] - t*r.d[1]
		dz := v[2] - t*r.d[2]
		sum += dx*dx + dy*dy + dz*dz
	}
	residual = math.Sqrt(sum / float64(len(rays)))
	return pos, residual, true
}
