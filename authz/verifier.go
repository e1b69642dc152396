package authz

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
)

// Verifier authenticates signed operations against a keyring.
type Verifier struct {
	keys   *Keyring
	nonces NonceStore
}

// NewVerifier returns a verifier that consumes nonces from nonces, or from an
// in-memory NonceCache when nonces is nil.
func NewVerifier(keys *Keyring, nonces NonceStore) *Verifier {
	if nonces == nil {
		nonces = NewNonceCache(DefaultNonceCapacity)
	}
	return &Verifier{keys: keys, nonces: nonces}
}

// Verify checks the ES256 signature of signed using the key named by its kid
// header, then returns the operation. The operation's caller must be the signer
// and its nonce must not have been seen before. A nonce is only consumed by a
// validly signed operation.
func (v *Verifier) Verify(ctx context.Context, signed auctionapi.SignedOperation) (auctionapi.Operation, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(signed); err != nil {
		return auctionapi.Operation{}, fmt.Errorf("parse COSE_Sign1: %w", err)
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil || alg != cose.AlgorithmES256 {
		return auctionapi.Operation{}, fmt.Errorf("unsupported algorithm: %w", ErrInvalidSignature)
	}

	signer, err := keyIDIdentity(msg.Headers)
	if err != nil {
		return auctionapi.Operation{}, err
	}
	pub, err := v.keys.Lookup(signer)
	if err != nil {
		return auctionapi.Operation{}, err
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return auctionapi.Operation{}, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return auctionapi.Operation{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	op, err := auctionapi.DecodeOperation(msg.Payload)
	if err != nil {
		return auctionapi.Operation{}, err
	}
	if op.Caller != signer {
		return auctionapi.Operation{}, fmt.Errorf("caller %s, signer %s: %w", op.Caller, signer, ErrCallerMismatch)
	}
	if op.Nonce == "" {
		return auctionapi.Operation{}, ErrMissingNonce
	}
	fresh, err := v.nonces.UseNonce(ctx, signer, op.Nonce)
	if err != nil {
		return auctionapi.Operation{}, fmt.Errorf("consume nonce: %w", err)
	}
	if !fresh {
		return auctionapi.Operation{}, fmt.Errorf("nonce %s: %w", op.Nonce, ErrReplayedNonce)
	}
	return op, nil
}

func keyIDIdentity(h cose.Headers) (core.Identity, error) {
	raw, ok := h.Unprotected[cose.HeaderLabelKeyID]
	if !ok {
		raw, ok = h.Protected[cose.HeaderLabelKeyID]
	}
	if !ok {
		return core.Identity{}, fmt.Errorf("missing kid header: %w", ErrUnknownSigner)
	}
	kid, ok := raw.([]byte)
	if !ok {
		return core.Identity{}, fmt.Errorf("kid header is not a byte string: %w", ErrUnknownSigner)
	}
	id, err := core.ParseIdentity(string(kid))
	if err != nil {
		return core.Identity{}, fmt.Errorf("kid %q: %w", kid, ErrUnknownSigner)
	}
	return id, nil
}

// SignOperation signs op with key for submission to auctiond. The kid header
// carries the hex identity of key; op.Caller is set to that identity.
func SignOperation(key *ecdsa.PrivateKey, op auctionapi.Operation) (auctionapi.SignedOperation, error) {
	id, err := IdentityFromPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	op.Caller = id
	return signOperation(key, id, op)
}

func signOperation(key *ecdsa.PrivateKey, kid core.Identity, op auctionapi.Operation) (auctionapi.SignedOperation, error) {
	payload, err := auctionapi.EncodeOperation(op)
	if err != nil {
		return nil, err
	}

	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create cose signer: %w", err)
	}
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Headers.Unprotected[cose.HeaderLabelKeyID] = []byte(kid.String())
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("sign operation: %w", err)
	}
	signed, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("marshal COSE_Sign1: %w", err)
	}
	return signed, nil
}
