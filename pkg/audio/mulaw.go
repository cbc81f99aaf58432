package audio

// MuLawSilence is the G.711 μ-law byte that decodes to a zero sample.
const MuLawSilence byte = 0xFF

const (
	muLawBias = 0x84
	muLawClip = 32635
)

var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// DecodeMuLaw returns the 16-bit linear sample encoded by the μ-law byte b.
func DecodeMuLaw(b byte) int16 {
	return muLawDecodeTable[b]
}

// EncodeMuLaw compresses a 16-bit linear sample into a μ-law byte.
func EncodeMuLaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

func decodeMuLawSample(uval byte) int16 {
	uval = ^uval
	sign := uval & 0x80
	exponent := (uval >> 4) & 0x07
	mantissa := uval & 0x0F
	magnitude := ((int16(mantissa) << 3) + muLawBias) << exponent
	magnitude -= muLawBias
	if sign != 0 {
		return -magnitude
	}
	return magnitude
}

// SilenceFrame returns a newly allocated μ-law frame of size bytes filled
// with [MuLawSilence].
func SilenceFrame(size int) []byte {
	f := make([]byte, size)
	for i := range f {
		f[i] = MuLawSilence
	}
	return f
}

// RampIn applies a linear gain ramp from silence to full level over total
// samples, starting at sample position pos, to the μ-law data in place. It
// returns the ramp position after the last processed byte so a ramp can span
// several chunks. Bytes past the end of the ramp are left untouched.
func RampIn(data []byte, pos, total int) int {
	if total <= 0 {
		return pos
	}
	for i := range data {
		if pos >= total {
			break
		}
		s := float64(DecodeMuLaw(data[i])) * float64(pos) / float64(total)
		data[i] = EncodeMuLaw(int16(s))
		pos++
	}
	return pos
}
