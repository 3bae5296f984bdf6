package mat

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/mat"
)

var ErrSingular = errors.New("singular matrix")

// C promotes a real matrix to a complex one.
func C(a mat.Matrix) *mat.CDense {
	r, c := a.Dims()
	z := mat.NewCDense(r, c, nil)
	raw := z.RawCMatrix()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			raw.Data[i*raw.Stride+j] = complex(a.At(i, j), 0)
		}
	}
	return z
}

func Clone(a *mat.CDense) *mat.CDense {
	r, c := a.Dims()
	src := a.RawCMatrix()
	data := make([]complex128, r*c)
	for i := 0; i < r; i++ {
		copy(data[i*c:(i+1)*c], src.Data[i*src.Stride:i*src.Stride+c])
	}
	return mat.NewCDense(r, c, data)
}

func Identity(n int) *mat.CDense {
	z := mat.NewCDense(n, n, nil)
	for i := 0; i < n; i++ {
		z.Set(i, i, 1)
	}
	return z
}

func gemm(tA, tB blas.Transpose, alpha complex128, a, b *mat.CDense) *mat.CDense {
	ar, ac := a.Dims()
	if tA != blas.NoTrans {
		ar, ac = ac, ar
	}
	br, bc := b.Dims()
	if tB != blas.NoTrans {
		br, bc = bc, br
	}
	if ac != br {
		panic(fmt.Sprintf("wrong dimensions %dx%d %dx%d", ar, ac, br, bc))
	}
	c := mat.NewCDense(ar, bc, nil)
	cblas128.Gemm(tA, tB, alpha, a.RawCMatrix(), b.RawCMatrix(), 0, c.RawCMatrix())
	return c
}

// Mul returns a*b.
func Mul(a, b *mat.CDense) *mat.CDense {
	return gemm(blas.NoTrans, blas.NoTrans, 1, a, b)
}

// MulH returns a^†*b.
func MulH(a, b *mat.CDense) *mat.CDense {
	return gemm(blas.ConjTrans, blas.NoTrans, 1, a, b)
}

// MulT returns a^T*b.
func MulT(a, b *mat.CDense) *mat.CDense {
	return gemm(blas.Trans, blas.NoTrans, 1, a, b)
}

// AddScaled computes dst += alpha*a in place.
func AddScaled(dst *mat.CDense, alpha complex128, a *mat.CDense) {
	r, c := dst.Dims()
	if ar, ac := a.Dims(); ar != r || ac != c {
		panic(fmt.Sprintf("wrong dimensions %dx%d %dx%d", r, c, ar, ac))
	}
	d, s := dst.RawCMatrix(), a.RawCMatrix()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.Data[i*d.Stride+j] += alpha * s.Data[i*s.Stride+j]
		}
	}
}

func Scale(alpha complex128, a *mat.CDense) {
	r, c := a.Dims()
	raw := a.RawCMatrix()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			raw.Data[i*raw.Stride+j] *= alpha
		}
	}
}

// ElemSum returns Σ_ij a_ij*b_ij.
func ElemSum(a, b *mat.CDense) complex128 {
	r, c := a.Dims()
	if br, bc := b.Dims(); br != r || bc != c {
		panic(fmt.Sprintf("wrong dimensions %dx%d %dx%d", r, c, br, bc))
	}
	x, y := a.RawCMatrix(), b.RawCMatrix()
	var sum complex128
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sum += x.Data[i*x.Stride+j] * y.Data[i*y.Stride+j]
		}
	}
	return sum
}

// ElemSumT returns Σ_ij a_ij*b_ji.
func ElemSumT(a, b *mat.CDense) complex128 {
	r, c := a.Dims()
	if br, bc := b.Dims(); br != c || bc != r {
		panic(fmt.Sprintf("wrong dimensions %dx%d %dx%d", r, c, br, bc))
	}
	x, y := a.RawCMatrix(), b.RawCMatrix()
	var sum complex128
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sum += x.Data[i*x.Stride+j] * y.Data[j*y.Stride+i]
		}
	}
	return sum
}

func Trace(a *mat.CDense) complex128 {
	r, c := a.Dims()
	raw := a.RawCMatrix()
	var tr complex128
	for i := 0; i < min(r, c); i++ {
		tr += raw.Data[i*raw.Stride+i]
	}
	return tr
}

func Transpose(a *mat.CDense) *mat.CDense {
	r, c := a.Dims()
	t := mat.NewCDense(c, r, nil)
	src, dst := a.RawCMatrix(), t.RawCMatrix()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Data[j*dst.Stride+i] = src.Data[i*src.Stride+j]
		}
	}
	return t
}

func Adjoint(a *mat.CDense) *mat.CDense {
	t := Transpose(a)
	raw := t.RawCMatrix()
	for i := range raw.Data {
		raw.Data[i] = cmplx.Conj(raw.Data[i])
	}
	return t
}

func norm1(a *mat.CDense) float64 {
	r, c := a.Dims()
	raw := a.RawCMatrix()
	var n float64
	for j := 0; j < c; j++ {
		var s float64
		for i := 0; i < r; i++ {
			s += cmplx.Abs(raw.Data[i*raw.Stride+j])
		}
		n = max(n, s)
	}
	return n
}

// Exp returns the matrix exponential of a square matrix by scaling and squaring a Taylor series.
func Exp(a *mat.CDense) *mat.CDense {
	n, c := a.Dims()
	if n != c {
		panic(fmt.Sprintf("not square %dx%d", n, c))
	}

	var squarings int
	if nrm := norm1(a); nrm > 0.5 {
		squarings = int(math.Ceil(math.Log2(nrm / 0.5)))
	}
	x := Clone(a)
	Scale(complex(math.Ldexp(1, -squarings), 0), x)

	result := Identity(n)
	term := Identity(n)
	for k := 1; k <= 30; k++ {
		term = Mul(term, x)
		Scale(complex(1/float64(k), 0), term)
		AddScaled(result, 1, term)
		if norm1(term) <= 1e-17*norm1(result) {
			break
		}
	}
	for i := 0; i < squarings; i++ {
		result = Mul(result, result)
	}
	return result
}

// LU is a partially pivoted LU factorization of a square complex matrix.
type LU struct {
	n        int
	lu       []complex128
	piv      []int
	sign     float64
	singular bool
}

func Factorize(a *mat.CDense) *LU {
	n, c := a.Dims()
	if n != c {
		panic(fmt.Sprintf("not square %dx%d", n, c))
	}
	f := &LU{n: n, lu: Clone(a).RawCMatrix().Data, piv: make([]int, n), sign: 1}
	lu := f.lu
	for i := range f.piv {
		f.piv[i] = i
	}

	for k := 0; k < n; k++ {
		p, pmax := k, cmplx.Abs(lu[k*n+k])
		for i := k + 1; i < n; i++ {
			if v := cmplx.Abs(lu[i*n+k]); v > pmax {
				p, pmax = i, v
			}
		}
		if pmax == 0 {
			f.singular = true
			continue
		}
		if p != k {
			for j := 0; j < n; j++ {
				lu[k*n+j], lu[p*n+j] = lu[p*n+j], lu[k*n+j]
			}
			f.piv[k], f.piv[p] = f.piv[p], f.piv[k]
			f.sign = -f.sign
		}

		pivot := lu[k*n+k]
		for i := k + 1; i < n; i++ {
			l := lu[i*n+k] / pivot
			lu[i*n+k] = l
			if l == 0 {
				continue
			}
			for j := k + 1; j < n; j++ {
				lu[i*n+j] -= l * lu[k*n+j]
			}
		}
	}
	return f
}

func (f *LU) Det() complex128 {
	d := complex(f.sign, 0)
	for i := 0; i < f.n; i++ {
		d *= f.lu[i*f.n+i]
	}
	return d
}

func (f *LU) Inverse() (*mat.CDense, error) {
	if f.singular {
		return nil, ErrSingular
	}
	n, lu := f.n, f.lu
	inv := mat.NewCDense(n, n, nil)
	raw := inv.RawCMatrix()
	col := make([]complex128, n)
	for j := 0; j < n; j++ {
		// Solve L U x = P e_j.
		for i := 0; i < n; i++ {
			col[i] = 0
			if f.piv[i] == j {
				col[i] = 1
			}
		}
		for i := 1; i < n; i++ {
			for k := 0; k < i; k++ {
				col[i] -= lu[i*n+k] * col[k]
			}
		}
		for i := n - 1; i >= 0; i-- {
			for k := i + 1; k < n; k++ {
				col[i] -= lu[i*n+k] * col[k]
			}
			col[i] /= lu[i*n+i]
		}
		for i := 0; i < n; i++ {
			raw.Data[i*raw.Stride+j] = col[i]
		}
	}
	return inv, nil
}

func Det(a *mat.CDense) complex128 {
	return Factorize(a).Det()
}

// Inverse returns the inverse of a, or an error wrapping ErrSingular with a dump of a.
func Inverse(a *mat.CDense) (*mat.CDense, error) {
	inv, err := Factorize(a).Inverse()
	if err != nil {
		return nil, errors.Wrap(err, Sprint(a))
	}
	return inv, nil
}

// QR computes the thin Householder QR decomposition of a tall matrix a.
// It returns the orthonormal columns Q and the diagonal of R.
func QR(a *mat.CDense) (*mat.CDense, []complex128) {
	m, n := a.Dims()
	if n > m {
		panic(fmt.Sprintf("wide matrix %dx%d", m, n))
	}
	r := Clone(a)
	raw := r.RawCMatrix()
	rs := raw.Stride
	vs := make([][]complex128, n)
	diag := make([]complex128, n)

	for k := 0; k < n; k++ {
		var nrm float64
		for i := k; i < m; i++ {
			v := raw.Data[i*rs+k]
			nrm += real(v)*real(v) + imag(v)*imag(v)
		}
		nrm = math.Sqrt(nrm)
		if nrm == 0 {
			continue
		}

		x0 := raw.Data[k*rs+k]
		phase := complex(1, 0)
		if x0 != 0 {
			phase = x0 / complex(cmplx.Abs(x0), 0)
		}
		alpha := -phase * complex(nrm, 0)

		v := make([]complex128, m-k)
		for i := k; i < m; i++ {
			v[i-k] = raw.Data[i*rs+k]
		}
		v[0] -= alpha
		var vnrm float64
		for _, vi := range v {
			vnrm += real(vi)*real(vi) + imag(vi)*imag(vi)
		}
		vnrm = math.Sqrt(vnrm)
		for i := range v {
			v[i] /= complex(vnrm, 0)
		}
		applyHouseholder(raw.Data, rs, v, k, k, m, n)
		vs[k] = v
		diag[k] = raw.Data[k*rs+k]
	}

	q := mat.NewCDense(m, n, nil)
	qraw := q.RawCMatrix()
	for i := 0; i < n; i++ {
		qraw.Data[i*qraw.Stride+i] = 1
	}
	for k := n - 1; k >= 0; k-- {
		if vs[k] == nil {
			continue
		}
		applyHouseholder(qraw.Data, qraw.Stride, vs[k], k, 0, m, n)
	}
	return q, diag
}

// applyHouseholder applies I - 2vv^† to rows [row0, m) of columns [col0, n).
func applyHouseholder(data []complex128, stride int, v []complex128, row0, col0, m, n int) {
	for j := col0; j < n; j++ {
		var dot complex128
		for i := row0; i < m; i++ {
			dot += cmplx.Conj(v[i-row0]) * data[i*stride+j]
		}
		if dot == 0 {
			continue
		}
		for i := row0; i < m; i++ {
			data[i*stride+j] -= 2 * v[i-row0] * dot
		}
	}
}

func EqualApprox(a, b *mat.CDense, tol float64) bool {
	r, c := a.Dims()
	if br, bc := b.Dims(); br != r || bc != c {
		return false
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if cmplx.Abs(a.At(i, j)-b.At(i, j)) > tol {
				return false
			}
		}
	}
	return true
}

// Sprint formats a complex matrix for diagnostics.
func Sprint(a mat.CMatrix) string {
	r, c := a.Dims()
	lines := make([]string, 0, r)
	for i := 0; i < r; i++ {
		cs := make([]string, 0, c)
		for j := 0; j < c; j++ {
			v := a.At(i, j)
			cs = append(cs, fmt.Sprintf("(%s,%s)", format(real(v)), format(imag(v))))
		}
		lines = append(lines, strings.Join(cs, "\t"))
	}
	return strings.Join(lines, "\n")
}
