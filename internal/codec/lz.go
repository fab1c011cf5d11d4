package codec

// Reserved codes shared by the encoder and the decoder.
const (
	codeLiteral8  = 0
	codeLiteral16 = 1
	codeEnd       = 2
)

// bitWriter packs code values into bitsPerChar wide units. Each value is
// written least significant bit first, the unit accumulator is filled from
// the most significant side.
type bitWriter struct {
	bitsPerChar int
	units       []int
	val         int
	pos         int
}

func (w *bitWriter) write(value, n int) {
	for i := 0; i < n; i++ {
		w.val = (w.val << 1) | (value & 1)
		if w.pos == w.bitsPerChar-1 {
			w.pos = 0
			w.units = append(w.units, w.val)
			w.val = 0
		} else {
			w.pos++
		}
		value >>= 1
	}
}

// flush zero-pads the accumulator to a whole unit. An aligned stream still
// gets one trailing zero unit.
func (w *bitWriter) flush() {
	for {
		w.val <<= 1
		if w.pos == w.bitsPerChar-1 {
			w.units = append(w.units, w.val)
			return
		}
		w.pos++
	}
}

// pairKey addresses the dictionary entry "w followed by c" by the code of w.
type pairKey struct {
	prefix int
	c      uint16
}

// compress runs the dictionary coder over UTF-16 code units and returns the
// packed output units, each in [0, 2^bitsPerChar).
func compress(input []uint16, bitsPerChar int) []int {
	out := &bitWriter{bitsPerChar: bitsPerChar}

	singles := make(map[uint16]int)
	pairs := make(map[pairKey]int)
	pending := make(map[uint16]struct{}) // singles seen but never emitted as a literal

	var (
		enlargeIn = 2
		dictSize  = 3
		numBits   = 2

		wEmpty  = true
		wSingle bool
		wUnit   uint16
		wCode   int
	)

	grow := func() {
		enlargeIn--
		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}
	}

	emit := func() {
		if wSingle {
			if _, ok := pending[wUnit]; ok {
				if wUnit < 256 {
					out.write(codeLiteral8, numBits)
					out.write(int(wUnit), 8)
				} else {
					out.write(codeLiteral16, numBits)
					out.write(int(wUnit), 16)
				}
				grow()
				delete(pending, wUnit)
				grow()
				return
			}
		}
		out.write(wCode, numBits)
		grow()
	}

	for _, c := range input {
		if _, ok := singles[c]; !ok {
			singles[c] = dictSize
			dictSize++
			pending[c] = struct{}{}
		}

		if wEmpty {
			wEmpty, wSingle, wUnit, wCode = false, true, c, singles[c]
			continue
		}

		key := pairKey{prefix: wCode, c: c}
		if code, ok := pairs[key]; ok {
			wSingle, wCode = false, code
			continue
		}

		emit()
		pairs[key] = dictSize
		dictSize++
		wSingle, wUnit, wCode = true, c, singles[c]
	}

	if !wEmpty {
		emit()
	}

	out.write(codeEnd, numBits)
	out.flush()
	return out.units
}

// bitReader is the inverse of bitWriter. Reads past the end of the input
// yield zero bits; the decode loop detects truncation by index.
type bitReader struct {
	next  func(int) int
	reset int
	val   int
	pos   int
	index int
}

func (r *bitReader) read(n int) int {
	bits := 0
	maxPower := 1 << n
	for power := 1; power != maxPower; power <<= 1 {
		resb := r.val & r.pos
		r.pos >>= 1
		if r.pos == 0 {
			r.pos = r.reset
			r.val = r.next(r.index)
			r.index++
		}
		if resb > 0 {
			bits |= power
		}
	}
	return bits
}

// decompress rebuilds the code units from length packed units produced by
// compress with the same bitsPerChar. next returns the value of the i-th unit.
func decompress(length, bitsPerChar int, next func(int) int) ([]uint16, error) {
	r := &bitReader{
		next:  next,
		reset: 1 << (bitsPerChar - 1),
		index: 1,
	}
	r.val = next(0)
	r.pos = r.reset

	// slots 0..2 are the reserved codes and never resolved as entries
	dict := make([][]uint16, 3, 256)

	var first []uint16
	switch r.read(2) {
	case codeLiteral8:
		first = []uint16{uint16(r.read(8))}
	case codeLiteral16:
		first = []uint16{uint16(r.read(16))}
	case codeEnd:
		return []uint16{}, nil
	default:
		return nil, ErrMalformed
	}
	dict = append(dict, first)

	enlargeIn := 4
	numBits := 3
	w := first
	result := append(make([]uint16, 0, length*2), first...)

	for {
		if r.index > length {
			return nil, ErrMalformed
		}

		code := r.read(numBits)
		switch code {
		case codeLiteral8:
			dict = append(dict, []uint16{uint16(r.read(8))})
			code = len(dict) - 1
			enlargeIn--
		case codeLiteral16:
			dict = append(dict, []uint16{uint16(r.read(16))})
			code = len(dict) - 1
			enlargeIn--
		case codeEnd:
			return result, nil
		}

		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}

		var entry []uint16
		switch {
		case code >= 3 && code < len(dict):
			entry = dict[code]
		case code == len(dict):
			entry = extend(w, w[0])
		default:
			return nil, ErrMalformed
		}
		result = append(result, entry...)

		dict = append(dict, extend(w, entry[0]))
		enlargeIn--
		w = entry

		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}
	}
}

func extend(w []uint16, c uint16) []uint16 {
	out := make([]uint16, len(w)+1)
	copy(out, w)
	out[len(w)] = c
	return out
}
