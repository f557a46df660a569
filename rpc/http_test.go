package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"dutchdrop/core"
	"dutchdrop/crypto"
	"dutchdrop/native/auction"
	"dutchdrop/storage"
)

const (
	testToken      = "test-rpc-token"
	testStartTime  = int64(1_700_000_000)
	weiPerPurchase = "1000000000000000000"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func bech(addr [20]byte) string {
	return crypto.NewAddress(crypto.DropPrefix, addr[:]).String()
}

func ether(multiple int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(multiple), big.NewInt(1_000_000_000_000_000_000))
}

func newTestServer(t *testing.T) (*Server, [20]byte, [20]byte) {
	t.Helper()
	t.Setenv("DUTCHDROP_RPC_TOKEN", testToken)

	operator := testAddr(0x21)
	buyer := testAddr(0x22)

	cfg := auction.Config{
		StartPrice: ether(1),
		EndPrice:   big.NewInt(100_000_000_000_000_000),
		StartTime:  testStartTime,
		EndTime:    testStartTime + 2*60*60,
		StepSize:   12 * 60,
	}
	node, err := core.NewNode(storage.NewMemDB(), cfg, operator)
	require.NoError(t, err)
	node.SetNowFunc(func() int64 { return testStartTime })
	require.NoError(t, node.ApplyGenesis([]core.GenesisAlloc{{Address: buyer, Balance: ether(10)}}))
	require.NoError(t, node.BindIssuanceAuthority(operator, core.CollectionAddress))

	return NewServer(node), operator, buyer
}

func rpcCall(t *testing.T, server *Server, token, method string, params ...interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	encoded := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		raw, err := json.Marshal(param)
		require.NoError(t, err)
		encoded = append(encoded, raw)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: encoded, ID: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return recorder, resp
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestAuctionInfoAndPrice(t *testing.T) {
	server, _, _ := newTestServer(t)

	recorder, resp := rpcCall(t, server, "", "auction_info")
	require.Equal(t, http.StatusOK, recorder.Code)
	var info auctionInfoResult
	decodeResult(t, resp, &info)
	require.Equal(t, weiPerPurchase, info.StartPrice)
	require.Equal(t, int64(10), info.TotalSteps)

	_, resp = rpcCall(t, server, "", "auction_price")
	var price auctionPriceResult
	decodeResult(t, resp, &price)
	require.Equal(t, weiPerPurchase, price.Price)

	later := testStartTime + 13*60
	_, resp = rpcCall(t, server, "", "auction_price", auctionPriceParams{Timestamp: &later})
	decodeResult(t, resp, &price)
	require.Equal(t, "910000000000000000", price.Price)
	require.Equal(t, later, price.Timestamp)
}

func TestMutationRequiresAuth(t *testing.T) {
	server, _, buyer := newTestServer(t)
	params := auctionPurchaseParams{Buyer: bech(buyer), Amount: 1, Payment: weiPerPurchase}

	recorder, resp := rpcCall(t, server, "", "auction_purchase", params)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	recorder, resp = rpcCall(t, server, "wrong-token", "auction_purchase", params)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestPurchaseRoundTrip(t *testing.T) {
	server, _, buyer := newTestServer(t)

	recorder, resp := rpcCall(t, server, testToken, "auction_purchase", auctionPurchaseParams{
		Buyer:   bech(buyer),
		Amount:  2,
		Payment: ether(3).String(),
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	var result auctionPurchaseResult
	decodeResult(t, resp, &result)
	require.Equal(t, uint64(2), result.Amount)
	require.Equal(t, ether(2).String(), result.Cost)
	require.Equal(t, ether(1).String(), result.Refund)
	require.Equal(t, uint64(1), result.FirstTokenID)
	require.Equal(t, uint64(2), result.LastTokenID)

	_, resp = rpcCall(t, server, "", "auction_state")
	var state auctionStateResult
	decodeResult(t, resp, &state)
	require.Equal(t, uint64(2), state.TotalMinted)
	require.Equal(t, ether(2).String(), state.TotalRaised)
	require.Equal(t, ether(2).String(), state.VaultBalance)
	require.Equal(t, bech(core.CollectionAddress), state.Authority)

	_, resp = rpcCall(t, server, "", "auction_mintedBy", auctionMintedByParams{Address: bech(buyer)})
	var minted auctionMintedByResult
	decodeResult(t, resp, &minted)
	require.Equal(t, uint64(2), minted.Minted)

	_, resp = rpcCall(t, server, "", "collection_ownerOf", collectionTokenParams{TokenID: 1})
	var owner collectionOwnerResult
	decodeResult(t, resp, &owner)
	require.Equal(t, bech(buyer), owner.Owner)
}

func TestPurchaseErrorMapping(t *testing.T) {
	server, _, buyer := newTestServer(t)

	recorder, resp := rpcCall(t, server, testToken, "auction_purchase", auctionPurchaseParams{
		Buyer:   bech(buyer),
		Amount:  5,
		Payment: ether(5).String(),
	})
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeAuctionCapacity, resp.Error.Code)

	recorder, resp = rpcCall(t, server, testToken, "auction_purchase", auctionPurchaseParams{
		Buyer:   bech(buyer),
		Amount:  1,
		Payment: "1",
	})
	require.Equal(t, http.StatusPaymentRequired, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeAuctionPayment, resp.Error.Code)

	recorder, resp = rpcCall(t, server, testToken, "auction_purchase", auctionPurchaseParams{
		Buyer:   "not-an-address",
		Amount:  1,
		Payment: weiPerPurchase,
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeAuctionInvalidParams, resp.Error.Code)
}

func TestWithdrawRequiresOperator(t *testing.T) {
	server, operator, buyer := newTestServer(t)

	recorder, resp := rpcCall(t, server, testToken, "auction_withdraw", auctionWithdrawParams{Caller: bech(buyer)})
	require.Equal(t, http.StatusForbidden, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeAuctionForbidden, resp.Error.Code)

	recorder, resp = rpcCall(t, server, testToken, "auction_withdraw", auctionWithdrawParams{Caller: bech(operator)})
	require.Equal(t, http.StatusOK, recorder.Code)
	var result auctionWithdrawResult
	decodeResult(t, resp, &result)
	require.Equal(t, "0", result.Amount)
	require.Equal(t, bech(operator), result.To)
}

func TestUnknownMethodAndBadPayload(t *testing.T) {
	server, _, _ := newTestServer(t)

	recorder, resp := rpcCall(t, server, "", "auction_bogus")
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var parsed RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	require.NotNil(t, parsed.Error)
	require.Equal(t, codeParseError, parsed.Error.Code)
}

func TestMutationRateLimit(t *testing.T) {
	server, operator, _ := newTestServer(t)

	limited := false
	for i := 0; i < mutationBurst+2; i++ {
		recorder, resp := rpcCall(t, server, testToken, "auction_withdraw", auctionWithdrawParams{Caller: bech(operator)})
		if recorder.Code == http.StatusTooManyRequests {
			require.NotNil(t, resp.Error)
			require.Equal(t, codeRateLimited, resp.Error.Code)
			limited = true
		}
	}
	require.True(t, limited, "burst should exhaust the per-source limiter")

	// A different source gets its own limiter.
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: "auction_withdraw", Params: []json.RawMessage{
		json.RawMessage(fmt.Sprintf(`{"caller":%q}`, bech(operator))),
	}, ID: 1})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
