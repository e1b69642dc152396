package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"go.uber.org/zap/zaptest"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/authz"
	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/engine"
	"github.com/cloudx-io/escrowauction/ledger"
)

var testAsset = core.AssetID{9}

type account struct {
	key *ecdsa.PrivateKey
	id  core.Identity
}

type harness struct {
	server *Server
	host   *ledger.Memory
	now    time.Time
	keys   *authz.Keyring
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		host: ledger.NewMemory(),
		now:  time.Unix(1_700_000_000, 0),
		keys: authz.NewKeyring(),
	}
	logger := zaptest.NewLogger(t)
	e, err := engine.New(h.host,
		engine.WithClock(func() time.Time { return h.now }),
		engine.WithLogger(logger),
		engine.WithPlatformAccount(testPlatform),
	)
	assert.NoError(t, err)
	h.server = NewServer(e, authz.NewVerifier(h.keys, nil), logger, 2)
	return h
}

func (h *harness) account(t *testing.T, balance uint64) account {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	id, err := h.keys.Register(&key.PublicKey)
	assert.NoError(t, err)
	if balance > 0 {
		assert.NoError(t, h.host.Credit(id, balance))
	}
	return account{key: key, id: id}
}

func (h *harness) submit(t *testing.T, from account, op auctionapi.Operation) auctionapi.Response {
	t.Helper()
	op.Nonce = authz.NewNonce()
	signed, err := authz.SignOperation(from.key, op)
	assert.NoError(t, err)
	return h.send(t, auctionapi.Request{Type: auctionapi.RequestOperation, SignedOperation: signed.EncodeBase64()})
}

func (h *harness) send(t *testing.T, req auctionapi.Request) auctionapi.Response {
	t.Helper()
	data, err := json.Marshal(req)
	assert.NoError(t, err)
	return h.server.Handle(context.Background(), data)
}

func TestHandle_Ping(t *testing.T) {
	h := newHarness(t)
	resp := h.send(t, auctionapi.Request{Type: auctionapi.RequestPing})
	check.Equal(t, auctionapi.ResponsePong, resp.Type)
	check.True(t, resp.Success)
}

func TestHandle_UnknownType(t *testing.T) {
	h := newHarness(t)
	resp := h.send(t, auctionapi.Request{Type: "key_request"})
	check.Equal(t, auctionapi.ResponseError, resp.Type)
	check.Equal(t, auctionapi.CodeBadRequest, resp.ErrorCode)

	resp = h.server.Handle(context.Background(), []byte("{not json"))
	check.Equal(t, auctionapi.CodeBadRequest, resp.ErrorCode)
}

func TestHandle_AuctionLifecycle(t *testing.T) {
	h := newHarness(t)
	seller := h.account(t, 0)
	alice := h.account(t, 1_000)
	bob := h.account(t, 1_000)
	assert.NoError(t, h.host.Mint(testAsset, seller.id))

	resp := h.submit(t, seller, auctionapi.Operation{
		Op:              core.OpCreate,
		Asset:           testAsset,
		StartingBid:     100,
		MinBidIncrement: 10,
		DurationSeconds: 3600,
	})
	assert.True(t, resp.Success)
	id := resp.Auction.ID

	resp = h.submit(t, alice, auctionapi.Operation{Op: core.OpPlaceBid, AuctionID: id, Amount: 80})
	check.False(t, resp.Success)
	check.Equal(t, "BidTooLow", resp.ErrorCode)
	check.Equal(t, core.ClassBidOrdering, resp.ErrorClass)

	resp = h.submit(t, alice, auctionapi.Operation{Op: core.OpPlaceBid, AuctionID: id, Amount: 100})
	assert.True(t, resp.Success)

	resp = h.submit(t, bob, auctionapi.Operation{Op: core.OpPlaceBid, AuctionID: id, PreviousBidder: alice.id, Amount: 110})
	assert.True(t, resp.Success)
	check.Equal(t, bob.id, resp.Auction.HighestBidder)

	resp = h.submit(t, seller, auctionapi.Operation{Op: core.OpCancel, AuctionID: id})
	check.Equal(t, "AuctionHasBids", resp.ErrorCode)

	h.now = h.now.Add(time.Hour)
	resp = h.submit(t, alice, auctionapi.Operation{Op: core.OpFinalize, AuctionID: id})
	assert.True(t, resp.Success)
	check.Equal(t, core.StatusCompleted, resp.Auction.Status)
	check.Equal(t, uint64(108), resp.Settlement.SellerAmount)
	check.Equal(t, uint64(2), resp.Settlement.PlatformFee)

	resp = h.send(t, auctionapi.Request{Type: auctionapi.RequestAuctionQuery, AuctionID: id.String()})
	assert.True(t, resp.Success)
	check.Equal(t, auctionapi.ResponseAuction, resp.Type)
	check.Equal(t, core.StatusCompleted, resp.Auction.Status)
}

func TestHandle_UpdateSettingsAndWithdraw(t *testing.T) {
	h := newHarness(t)
	seller := h.account(t, 0)
	other := h.account(t, 0)
	assert.NoError(t, h.host.Mint(testAsset, seller.id))

	resp := h.submit(t, seller, auctionapi.Operation{
		Op: core.OpCreate, Asset: testAsset, StartingBid: 100, MinBidIncrement: 10, DurationSeconds: 3600,
	})
	assert.True(t, resp.Success)
	id := resp.Auction.ID

	d := int64(60)
	resp = h.submit(t, seller, auctionapi.Operation{Op: core.OpUpdateSettings, AuctionID: id, NewDurationSeconds: &d})
	assert.True(t, resp.Success)
	check.Equal(t, h.now.Unix()+60, resp.Auction.EndTime)

	h.now = h.now.Add(time.Minute)
	resp = h.submit(t, other, auctionapi.Operation{Op: core.OpWithdrawUnsold, AuctionID: id})
	check.Equal(t, "UnauthorizedWithdrawal", resp.ErrorCode)

	resp = h.submit(t, seller, auctionapi.Operation{Op: core.OpWithdrawUnsold, AuctionID: id})
	assert.True(t, resp.Success)
	check.Equal(t, core.StatusCancelled, resp.Auction.Status)

	resp = h.submit(t, seller, auctionapi.Operation{Op: core.OpFinalize, AuctionID: id})
	check.Equal(t, "AuctionNotActive", resp.ErrorCode)
}

func TestHandle_RejectsUnauthenticated(t *testing.T) {
	h := newHarness(t)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	stranger := account{key: key}

	resp := h.submit(t, stranger, auctionapi.Operation{Op: core.OpFinalize, AuctionID: uuid.New()})
	check.False(t, resp.Success)
	check.Equal(t, auctionapi.CodeUnauthenticated, resp.ErrorCode)

	resp = h.send(t, auctionapi.Request{Type: auctionapi.RequestOperation, SignedOperation: "%%%"})
	check.Equal(t, auctionapi.CodeBadRequest, resp.ErrorCode)
}

func TestHandle_ReplayedOperation(t *testing.T) {
	h := newHarness(t)
	seller := h.account(t, 0)
	assert.NoError(t, h.host.Mint(testAsset, seller.id))

	signed, err := authz.SignOperation(seller.key, auctionapi.Operation{
		Op: core.OpCreate, Asset: testAsset, StartingBid: 100, MinBidIncrement: 10, DurationSeconds: 3600, Nonce: authz.NewNonce(),
	})
	assert.NoError(t, err)
	req := auctionapi.Request{Type: auctionapi.RequestOperation, SignedOperation: signed.EncodeBase64()}

	check.True(t, h.send(t, req).Success)
	resp := h.send(t, req)
	check.False(t, resp.Success)
	check.Equal(t, auctionapi.CodeUnauthenticated, resp.ErrorCode)
}

func TestHandle_QueryErrors(t *testing.T) {
	h := newHarness(t)
	resp := h.send(t, auctionapi.Request{Type: auctionapi.RequestAuctionQuery, AuctionID: "nope"})
	check.Equal(t, auctionapi.CodeBadRequest, resp.ErrorCode)

	resp = h.send(t, auctionapi.Request{Type: auctionapi.RequestAuctionQuery, AuctionID: uuid.NewString()})
	check.Equal(t, auctionapi.CodeAuctionNotFound, resp.ErrorCode)
}

func TestHandle_RejectsUnrepresentableDuration(t *testing.T) {
	h := newHarness(t)
	seller := h.account(t, 0)
	assert.NoError(t, h.host.Mint(testAsset, seller.id))

	resp := h.submit(t, seller, auctionapi.Operation{
		Op: core.OpCreate, Asset: testAsset, StartingBid: 100, MinBidIncrement: 10, DurationSeconds: 18446744075,
	})
	check.False(t, resp.Success)
	check.Equal(t, "InvalidDuration", resp.ErrorCode)

	resp = h.submit(t, seller, auctionapi.Operation{
		Op: core.OpCreate, Asset: testAsset, StartingBid: 100, MinBidIncrement: 10, DurationSeconds: 3600,
	})
	assert.True(t, resp.Success)
	long := auctionapi.MaxDurationSeconds + 1
	resp = h.submit(t, seller, auctionapi.Operation{Op: core.OpUpdateSettings, AuctionID: resp.Auction.ID, NewDurationSeconds: &long})
	check.Equal(t, "InvalidDuration", resp.ErrorCode)
}
