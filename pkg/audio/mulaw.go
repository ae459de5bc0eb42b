package audio

// G.711 mu-law companding used by 8 kHz telephony legs.
const (
	mulawBias = 0x84
	mulawClip = 32635

	// TelephonySampleRate is the rate of mu-law media streams.
	TelephonySampleRate = 8000
)

// MulawDecode expands one mu-law byte to a linear 16-bit sample.
func MulawDecode(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := int32(u & 0x0F)
	mag := ((mant << 3) + mulawBias) << exp
	mag -= mulawBias
	if sign != 0 {
		return int16(-mag)
	}
	return int16(mag)
}

// MulawEncode compresses a linear 16-bit sample to one mu-law byte.
func MulawEncode(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exp := byte(7)
	for mask := int32(0x4000); v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte(v>>(exp+3)) & 0x0F
	return ^(sign | exp<<4 | mant)
}

// MulawToPCM decodes a mu-law payload into little-endian 16-bit PCM at the
// same sample rate.
func MulawToPCM(payload []byte) []byte {
	out := make([]byte, len(payload)*2)
	for i, u := range payload {
		putSample(out, i, MulawDecode(u))
	}
	return out
}

// PCMToMulaw encodes little-endian 16-bit PCM into a mu-law payload at the
// same sample rate. A trailing odd byte is ignored.
func PCMToMulaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = MulawEncode(sample(pcm, i))
	}
	return out
}
