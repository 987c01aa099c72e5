package rohc

// NewPassthroughAdapter returns an Adapter implementing the Uncompressed
// profile: Compress and Decompress are identity transforms over a copy of
// the input. It is the in-repo stand-in for a linked ROHC engine (see
// package doc) and the adapter used when -compress is enabled (with
// -compress off, no adapter is used at all). trace may be nil, in which
// case a NopTraceSink is used.
func NewPassthroughAdapter(trace TraceSink) *Adapter {
	if trace == nil {
		trace = NopTraceSink{}
	}
	p := &passthrough{trace: trace}
	return &Adapter{Compressor: p, Decompressor: p}
}

type passthrough struct {
	trace TraceSink
}

func (p *passthrough) Compress(ip []byte) ([]byte, CompressStatus, error) {
	p.trace.Trace(0, "comp", ProfileUncompressed.String(), "passthrough compress")
	out := make([]byte, len(ip))
	copy(out, ip)
	return out, CompressOK, nil
}

func (p *passthrough) Decompress(rohc []byte) ([]byte, DecompressStatus, error) {
	p.trace.Trace(0, "decomp", ProfileUncompressed.String(), "passthrough decompress")
	ip := make([]byte, len(rohc))
	copy(ip, rohc)
	return ip, DecompressOK, nil
}
