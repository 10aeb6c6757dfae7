package ecc

import (
	"errors"
	"fmt"
)

const (
	// fieldSize is the number of non-zero elements of GF(2^8), which is
	// also the maximum codeword length (payload + parity symbols).
	fieldSize = 255

	// logZero is the index-form representation of the zero element.
	logZero = 255
)

var (
	// ErrBadParams indicates the coder cannot be built from the given
	// parameters (parity too large, non-primitive polynomial, ...).
	ErrBadParams = errors.New("ecc: invalid parameters")

	// ErrUncorrectable indicates a block holds more errors than the
	// parity can repair. The block content is left as found.
	ErrUncorrectable = errors.New("ecc: block unrecoverable")
)

// Params describes a Reed-Solomon code over 8-bit symbols.
// Zero fields take the defaults below.
type Params struct {
	BlockSize  int `yaml:"block_size"`  // payload bytes covered by one parity blob (default 128)
	ParitySize int `yaml:"parity_size"` // parity bytes per block (default 16)
	SymbolSize int `yaml:"symbol_size"` // symbol width in bits; only 8 is supported
	Poly       int `yaml:"poly"`        // field generator polynomial (default 0x11d)
}

// WithDefaults returns a copy of p with unset fields filled in.
func (p Params) WithDefaults() Params {
	if p.BlockSize == 0 {
		p.BlockSize = 128
	}
	if p.ParitySize == 0 {
		p.ParitySize = 16
	}
	if p.SymbolSize == 0 {
		p.SymbolSize = 8
	}
	if p.Poly == 0 {
		p.Poly = 0x11d
	}
	return p
}

// Codec is the pluggable forward-error-correction engine used by the zone
// buffer. Implementations must not allocate in Encode, which runs on the
// append path.
type Codec interface {
	// Encode computes the parity for block, writing ParitySize bytes
	// into parity.
	Encode(block, parity []byte)

	// Decode repairs block (and parity) in place and returns the number
	// of corrected symbols, or ErrUncorrectable if the error count
	// exceeds the code's capability.
	Decode(block, parity []byte) (int, error)

	// BlockSize reports the payload bytes covered by one parity blob.
	BlockSize() int

	// ParitySize reports the parity bytes emitted per block.
	ParitySize() int
}

// ReedSolomon is a GF(2^8) Reed-Solomon coder with a configurable field
// generator polynomial. The first consecutive root is alpha^0 and the
// primitive element used to generate roots is alpha^1.
type ReedSolomon struct {
	params  Params
	alphaTo [256]int // index -> polynomial form
	indexOf [256]int // polynomial -> index form
	genLog  []int    // generator polynomial coefficients, index form

	// decode scratch, sized once so Decode does not allocate per call
	syn, lambda, b, t, omega, reg, roots, locs []int
}

// New builds a ReedSolomon coder from p. A coder is not safe for
// concurrent use; callers needing parallelism build one per writer.
func New(p Params) (*ReedSolomon, error) {
	p = p.WithDefaults()
	if p.SymbolSize != 8 {
		return nil, fmt.Errorf("%w: symbol size must be 8 bits, got %d", ErrBadParams, p.SymbolSize)
	}
	if p.ParitySize <= 0 || p.ParitySize >= fieldSize {
		return nil, fmt.Errorf("%w: parity size %d out of range", ErrBadParams, p.ParitySize)
	}
	if p.BlockSize <= 0 || p.BlockSize+p.ParitySize > fieldSize {
		return nil, fmt.Errorf("%w: block size %d plus parity %d exceeds codeword length %d",
			ErrBadParams, p.BlockSize, p.ParitySize, fieldSize)
	}
	if p.Poly&0x100 == 0 || p.Poly & ^0x1ff != 0 {
		return nil, fmt.Errorf("%w: polynomial %#x is not of degree 8", ErrBadParams, p.Poly)
	}

	rs := &ReedSolomon{params: p}

	// Galois field log/antilog tables.
	x := 1
	for i := 0; i < fieldSize; i++ {
		rs.alphaTo[i] = x
		rs.indexOf[x] = i
		x <<= 1
		if x&0x100 != 0 {
			x ^= p.Poly
		}
	}
	if x != 1 {
		return nil, fmt.Errorf("%w: polynomial %#x is not primitive", ErrBadParams, p.Poly)
	}
	rs.alphaTo[logZero] = 0
	rs.indexOf[0] = logZero

	// Generator polynomial with roots alpha^0 .. alpha^(parity-1),
	// built up one root at a time, then converted to index form.
	nroots := p.ParitySize
	g := make([]int, nroots+1)
	g[0] = 1
	for i := 0; i < nroots; i++ {
		g[i+1] = 1
		for j := i; j > 0; j-- {
			if g[j] != 0 {
				g[j] = g[j-1] ^ rs.alphaTo[rs.mod(rs.indexOf[g[j]]+i)]
			} else {
				g[j] = g[j-1]
			}
		}
		g[0] = rs.alphaTo[rs.mod(rs.indexOf[g[0]]+i)]
	}
	rs.genLog = make([]int, nroots+1)
	for i, c := range g {
		rs.genLog[i] = rs.indexOf[c]
	}

	rs.syn = make([]int, nroots)
	rs.lambda = make([]int, nroots+1)
	rs.b = make([]int, nroots+1)
	rs.t = make([]int, nroots+1)
	rs.omega = make([]int, nroots+1)
	rs.reg = make([]int, nroots+1)
	rs.roots = make([]int, nroots)
	rs.locs = make([]int, nroots)

	return rs, nil
}

// Params returns the effective parameters the coder was built with.
func (rs *ReedSolomon) Params() Params { return rs.params }

// BlockSize implements Codec.
func (rs *ReedSolomon) BlockSize() int { return rs.params.BlockSize }

// ParitySize implements Codec.
func (rs *ReedSolomon) ParitySize() int { return rs.params.ParitySize }

func (rs *ReedSolomon) mod(x int) int {
	for x >= fieldSize {
		x -= fieldSize
	}
	return x
}

// Encode implements Codec. len(block) must not exceed BlockSize and
// len(parity) must be at least ParitySize.
func (rs *ReedSolomon) Encode(block, parity []byte) {
	nroots := rs.params.ParitySize
	parity = parity[:nroots]
	for i := range parity {
		parity[i] = 0
	}

	// LFSR division of the shifted message by the generator polynomial;
	// the remainder is the parity.
	for _, d := range block {
		fb := rs.indexOf[int(d)^int(parity[0])]
		if fb != logZero {
			for j := 1; j < nroots; j++ {
				parity[j] ^= byte(rs.alphaTo[rs.mod(fb+rs.genLog[nroots-j])])
			}
		}
		copy(parity, parity[1:])
		if fb != logZero {
			parity[nroots-1] = byte(rs.alphaTo[rs.mod(fb+rs.genLog[0])])
		} else {
			parity[nroots-1] = 0
		}
	}
}

// Decode implements Codec. Errors in the parity bytes themselves are
// repaired as well. The returned count includes every located error
// symbol, whether it fell in the block or in the parity.
func (rs *ReedSolomon) Decode(block, parity []byte) (int, error) {
	nroots := rs.params.ParitySize
	length := len(block)
	pad := fieldSize - nroots - length
	if pad < 0 {
		return 0, fmt.Errorf("%w: block of %d bytes exceeds codeword", ErrBadParams, length)
	}
	parity = parity[:nroots]

	// Syndromes: evaluate the received codeword at the generator roots.
	synError := 0
	for i := 0; i < nroots; i++ {
		s := 0
		for j := 0; j < length; j++ {
			if s == 0 {
				s = int(block[j])
			} else {
				s = int(block[j]) ^ rs.alphaTo[rs.mod(rs.indexOf[s]+i)]
			}
		}
		for j := 0; j < nroots; j++ {
			if s == 0 {
				s = int(parity[j])
			} else {
				s = int(parity[j]) ^ rs.alphaTo[rs.mod(rs.indexOf[s]+i)]
			}
		}
		synError |= s
		rs.syn[i] = rs.indexOf[s]
	}
	if synError == 0 {
		return 0, nil
	}

	// Berlekamp-Massey: find the error locator polynomial lambda.
	lambda, b, t := rs.lambda, rs.b, rs.t
	for i := range lambda {
		lambda[i] = 0
	}
	lambda[0] = 1
	for i := range b {
		b[i] = rs.indexOf[lambda[i]]
	}

	el := 0
	for r := 1; r <= nroots; r++ {
		discr := 0
		for i := 0; i < r; i++ {
			if lambda[i] != 0 && rs.syn[r-i-1] != logZero {
				discr ^= rs.alphaTo[rs.mod(rs.indexOf[lambda[i]]+rs.syn[r-i-1])]
			}
		}
		discrIdx := rs.indexOf[discr]
		if discrIdx == logZero {
			copy(b[1:], b[:nroots])
			b[0] = logZero
			continue
		}
		t[0] = lambda[0]
		for i := 0; i < nroots; i++ {
			if b[i] != logZero {
				t[i+1] = lambda[i+1] ^ rs.alphaTo[rs.mod(discrIdx+b[i])]
			} else {
				t[i+1] = lambda[i+1]
			}
		}
		if 2*el <= r-1 {
			el = r - el
			for i := 0; i <= nroots; i++ {
				if lambda[i] == 0 {
					b[i] = logZero
				} else {
					b[i] = rs.mod(rs.indexOf[lambda[i]] - discrIdx + fieldSize)
				}
			}
		} else {
			copy(b[1:], b[:nroots])
			b[0] = logZero
		}
		copy(lambda, t)
	}

	// Convert lambda to index form and find its degree.
	degLambda := 0
	for i := 0; i <= nroots; i++ {
		if lambda[i] != 0 {
			degLambda = i
		}
		lambda[i] = rs.indexOf[lambda[i]]
	}

	// Chien search for the roots of lambda.
	reg := rs.reg
	copy(reg[1:], lambda[1:nroots+1])
	count := 0
	for i, k := 1, 0; i <= fieldSize; i, k = i+1, rs.mod(k+1) {
		q := 1
		for j := degLambda; j > 0; j-- {
			if reg[j] != logZero {
				reg[j] = rs.mod(reg[j] + j)
				q ^= rs.alphaTo[reg[j]]
			}
		}
		if q != 0 {
			continue
		}
		rs.roots[count] = i
		rs.locs[count] = k
		count++
		if count == degLambda {
			break
		}
	}
	if count != degLambda {
		// deg(lambda) != number of roots: more errors than the code
		// can locate.
		return 0, ErrUncorrectable
	}

	// Omega, the error evaluator polynomial: S(x)*lambda(x) mod x^nroots.
	degOmega := degLambda - 1
	omega := rs.omega
	for i := 0; i <= degOmega; i++ {
		tmp := 0
		for j := i; j >= 0; j-- {
			if rs.syn[i-j] != logZero && lambda[j] != logZero {
				tmp ^= rs.alphaTo[rs.mod(rs.syn[i-j]+lambda[j])]
			}
		}
		omega[i] = rs.indexOf[tmp]
	}

	// Forney: compute and apply the error magnitudes.
	for j := count - 1; j >= 0; j-- {
		num1 := 0
		for i := degOmega; i >= 0; i-- {
			if omega[i] != logZero {
				num1 ^= rs.alphaTo[rs.mod(omega[i]+i*rs.roots[j])]
			}
		}
		num2 := rs.alphaTo[rs.mod(fieldSize-rs.roots[j]+fieldSize)]
		den := 0
		start := degLambda
		if start > nroots-1 {
			start = nroots - 1
		}
		start &= ^1
		for i := start; i >= 0; i -= 2 {
			if lambda[i+1] != logZero {
				den ^= rs.alphaTo[rs.mod(lambda[i+1]+i*rs.roots[j])]
			}
		}
		if num1 != 0 && rs.locs[j] >= pad {
			errVal := byte(rs.alphaTo[rs.mod(rs.indexOf[num1]+rs.indexOf[num2]+fieldSize-rs.indexOf[den])])
			if rs.locs[j] < fieldSize-nroots {
				block[rs.locs[j]-pad] ^= errVal
			} else {
				parity[rs.locs[j]-pad-length] ^= errVal
			}
		}
	}
	return count, nil
}
