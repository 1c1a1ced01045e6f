package wire

// Reconfig is a RE-CONFIG chunk (RFC 6525 §3.1): a carrier for one or two
// of the reconfiguration parameters defined in params.go. A single
// RE-CONFIG chunk carries at most one request parameter and, only when
// responding, at most one response parameter — but the wire shape is just
// "a list of parameters," so decoding stays generic here; the root
// package's reconfig.go interprets the list.
type Reconfig struct {
	Params []TLV
}

func (c *Reconfig) ChunkType() ChunkType { return CTReconfig }

func (c *Reconfig) MarshalChunk() []byte {
	return marshalChunk(CTReconfig, 0, encodeTLVs(c.Params))
}

func decodeReconfig(value []byte) (*Reconfig, error) {
	params, err := decodeTLVs(value)
	if err != nil {
		return nil, err
	}
	return &Reconfig{Params: params}, nil
}
