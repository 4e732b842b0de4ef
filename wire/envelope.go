package wire

import "fmt"

// Signer produces a signature over message using whatever long-term key
// the caller holds. Implemented by cryptosuite.Suite.Sign bound to a key.
type Signer func(message []byte) (signature []byte, err error)

// Verifier reports whether signature is valid over message for whatever
// public key the caller bound. Implemented by cryptosuite.Suite.Verify
// bound to a roster entry's long-term key.
type Verifier func(message, signature []byte) error

// Envelope is the outer (type || payload || signature) wrapper every
// signed message travels in. Receivers must call Verify before trusting
// any field decoded from Payload.
type Envelope struct {
	Type      MessageType
	Payload   []byte
	Signature []byte
}

// Sign builds a signed Envelope around payload.
func Sign(typ MessageType, payload []byte, sign Signer) (Envelope, error) {
	sig, err := sign(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: sign %s: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: payload, Signature: sig}, nil
}

// Verify checks e.Signature over e.Payload. Callers must not act on any
// field decoded from e.Payload until this returns nil.
func (e Envelope) Verify(verify Verifier) error {
	if err := verify(e.Payload, e.Signature); err != nil {
		return fmt.Errorf("wire: verify %s: %w", e.Type, err)
	}
	return nil
}

// Encode serializes the envelope for transport.
func (e Envelope) Encode() []byte {
	w := NewWriter()
	w.Fixed([]byte{byte(e.Type)})
	w.Bytes(e.Payload)
	w.Bytes(e.Signature)
	return w.Out()
}

// DecodeEnvelope parses the output of Encode. It does not verify the
// signature; call Verify once the sender's long-term key is known.
func DecodeEnvelope(b []byte) (Envelope, error) {
	r := NewReader(b)
	typByte := r.Fixed(1)
	payload := r.Bytes()
	sig := r.Bytes()
	if err := r.Err(); err != nil {
		return Envelope{}, err
	}
	if !r.AtEnd() {
		return Envelope{}, fmt.Errorf("wire: envelope has trailing bytes")
	}
	if len(typByte) != 1 {
		return Envelope{}, fmt.Errorf("wire: envelope missing type byte")
	}
	return Envelope{Type: MessageType(typByte[0]), Payload: payload, Signature: sig}, nil
}

// SplitEnvelope extracts (payload, signature) from an encoded Envelope,
// discarding its type tag. Used by containers like ServerList and
// ServerStart that embed a list of already-enveloped messages and only
// need the payload back out to re-derive their parsed fields.
func SplitEnvelope(b []byte) (payload, signature []byte, err error) {
	e, err := DecodeEnvelope(b)
	if err != nil {
		return nil, nil, err
	}
	return e.Payload, e.Signature, nil
}
