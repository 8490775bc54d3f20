// Package krylov provides preconditioned Krylov iterations (CG, BiCGStab)
// over a matrix-free operator. The inner product is injected so that a
// distributed caller can supply a globally reduced dot product.
package krylov

import (
	"math"

	"github.com/notargets/godefl/backend"
)

// Operator is the matrix-free linear operator contract: Spmv computes
// y = alpha*A*x + beta*y and Residual computes r = f - A*x, for whatever A
// the caller composes (here: the projected, deflated operator).
type Operator interface {
	Spmv(alpha float64, x backend.Vector, beta float64, y backend.Vector)
	Residual(f, x, r backend.Vector)
}

// Preconditioner applies an approximate inverse: x = M^{-1} rhs.
type Preconditioner interface {
	Apply(rhs, x backend.Vector)
}

// Dot is the inner product used for convergence control and iteration
// coefficients.
type Dot func(x, y backend.Vector) float64

type Params struct {
	Type          string  // "cg" (default) or "bicgstab"
	Tolerance     float64 // relative residual target
	MaxIterations int
}

func (p *Params) setDefaults() {
	if p.Type == "" {
		p.Type = "cg"
	}
	if p.Tolerance <= 0 {
		p.Tolerance = 1e-8
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = 100
	}
}

type Solver struct {
	n   int
	prm Params
	dot Dot

	// iteration scratch, reused across solves
	r, z, p, q    backend.Vector
	rt, v, s, t   backend.Vector
}

func New(n int, prm Params, dot Dot) (s *Solver) {
	prm.setDefaults()
	s = &Solver{
		n:   n,
		prm: prm,
		dot: dot,
		r:   backend.NewVector(n),
		z:   backend.NewVector(n),
		p:   backend.NewVector(n),
		q:   backend.NewVector(n),
		rt:  backend.NewVector(n),
		v:   backend.NewVector(n),
		s:   backend.NewVector(n),
		t:   backend.NewVector(n),
	}
	return
}

func (s *Solver) Params() Params { return s.prm }

// Solve runs the configured iteration until the relative residual reaches
// the tolerance or the iteration budget is spent. It returns the iteration
// count and the final relative residual; divergence is not an error, the
// caller inspects the returned residual.
func (s *Solver) Solve(op Operator, prec Preconditioner, rhs, x backend.Vector) (iters int, resid float64) {
	switch s.prm.Type {
	case "bicgstab":
		return s.bicgstab(op, prec, rhs, x)
	default:
		return s.cg(op, prec, rhs, x)
	}
}

func (s *Solver) cg(op Operator, prec Preconditioner, rhs, x backend.Vector) (iters int, resid float64) {
	var (
		r, z, p, q = s.r, s.z, s.p, s.q
		rho, rho1  float64
	)
	normRHS := math.Sqrt(s.dot(rhs, rhs))
	if normRHS == 0 {
		x.Zero()
		return 0, 0
	}

	op.Residual(rhs, x, r)

	for iters = 0; iters < s.prm.MaxIterations; iters++ {
		resid = math.Sqrt(s.dot(r, r)) / normRHS
		if resid < s.prm.Tolerance {
			return
		}

		prec.Apply(r, z)

		rho1 = rho
		rho = s.dot(r, z)
		if iters == 0 {
			copy(p, z)
		} else {
			backend.Axpby(1, z, rho/rho1, p)
		}

		op.Spmv(1, p, 0, q)

		alpha := rho / s.dot(q, p)
		backend.Axpby(alpha, p, 1, x)
		backend.Axpby(-alpha, q, 1, r)
	}
	resid = math.Sqrt(s.dot(r, r)) / normRHS
	return
}

func (s *Solver) bicgstab(op Operator, prec Preconditioner, rhs, x backend.Vector) (iters int, resid float64) {
	var (
		r, p, ph          = s.r, s.p, s.z
		rt, v, sv, t, sh  = s.rt, s.v, s.s, s.t, s.q
		rho, rho1, alpha  float64
		omega             float64
	)
	normRHS := math.Sqrt(s.dot(rhs, rhs))
	if normRHS == 0 {
		x.Zero()
		return 0, 0
	}

	op.Residual(rhs, x, r)
	copy(rt, r)

	for iters = 0; iters < s.prm.MaxIterations; iters++ {
		resid = math.Sqrt(s.dot(r, r)) / normRHS
		if resid < s.prm.Tolerance {
			return
		}

		rho1 = rho
		rho = s.dot(rt, r)
		if rho == 0 {
			return // breakdown, residual reported as-is
		}

		if iters == 0 {
			copy(p, r)
		} else {
			beta := (rho / rho1) * (alpha / omega)
			// p = r + beta*(p - omega*v)
			backend.Axpby(-omega, v, 1, p)
			backend.Axpby(1, r, beta, p)
		}

		prec.Apply(p, ph)
		op.Spmv(1, ph, 0, v)

		alpha = rho / s.dot(rt, v)
		// s = r - alpha*v
		copy(sv, r)
		backend.Axpby(-alpha, v, 1, sv)

		if nrm := math.Sqrt(s.dot(sv, sv)); nrm/normRHS < s.prm.Tolerance {
			backend.Axpby(alpha, ph, 1, x)
			copy(r, sv)
			continue
		}

		prec.Apply(sv, sh)
		op.Spmv(1, sh, 0, t)

		omega = s.dot(t, sv) / s.dot(t, t)
		backend.Axpbypcz(alpha, ph, omega, sh, 1, x)
		// r = s - omega*t
		copy(r, sv)
		backend.Axpby(-omega, t, 1, r)

		if omega == 0 {
			resid = math.Sqrt(s.dot(r, r)) / normRHS
			return
		}
	}
	resid = math.Sqrt(s.dot(r, r)) / normRHS
	return
}
