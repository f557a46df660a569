package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"dutchdrop/crypto"
	"dutchdrop/native/auction"
)

const (
	codeAuctionInvalidParams = -32041
	codeAuctionNotStarted    = -32042
	codeAuctionCapacity      = -32043
	codeAuctionPayment       = -32044
	codeAuctionForbidden     = -32045
	codeAuctionConflict      = -32046
	codeAuctionInternal      = -32047
)

type auctionPurchaseParams struct {
	Buyer   string `json:"buyer"`
	Amount  uint64 `json:"amount"`
	Payment string `json:"payment"`
}

type auctionBindParams struct {
	Caller    string `json:"caller"`
	Authority string `json:"authority"`
}

type auctionWithdrawParams struct {
	Caller string `json:"caller"`
}

type auctionPriceParams struct {
	Timestamp *int64 `json:"timestamp,omitempty"`
}

type auctionMintedByParams struct {
	Address string `json:"address"`
}

type auctionInfoResult struct {
	StartPrice string `json:"startPrice"`
	EndPrice   string `json:"endPrice"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	StepSize   int64  `json:"stepSize"`
	TotalSteps int64  `json:"totalSteps"`
}

type auctionStateResult struct {
	TotalMinted  uint64 `json:"totalMinted"`
	TotalRaised  string `json:"totalRaised"`
	Authority    string `json:"issuanceAuthority,omitempty"`
	VaultBalance string `json:"vaultBalance"`
	Operator     string `json:"operator"`
}

type auctionPriceResult struct {
	Timestamp int64  `json:"timestamp"`
	Price     string `json:"price"`
}

type auctionMintedByResult struct {
	Address string `json:"address"`
	Minted  uint64 `json:"minted"`
}

type auctionPurchaseResult struct {
	Buyer        string `json:"buyer"`
	Amount       uint64 `json:"amount"`
	Price        string `json:"price"`
	Cost         string `json:"cost"`
	Refund       string `json:"refund"`
	FirstTokenID uint64 `json:"firstTokenId"`
	LastTokenID  uint64 `json:"lastTokenId"`
}

type auctionWithdrawResult struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleAuctionInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	cfg := s.node.AuctionConfig()
	writeResult(w, req.ID, auctionInfoResult{
		StartPrice: cfg.StartPrice.String(),
		EndPrice:   cfg.EndPrice.String(),
		StartTime:  cfg.StartTime,
		EndTime:    cfg.EndTime,
		StepSize:   cfg.StepSize,
		TotalSteps: cfg.TotalSteps(),
	})
}

func (s *Server) handleAuctionState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	st, err := s.node.AuctionState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeAuctionInternal, "failed to load auction state", err.Error())
		return
	}
	vault, err := s.node.VaultBalance()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeAuctionInternal, "failed to load vault balance", err.Error())
		return
	}
	operator := s.node.Operator()
	result := auctionStateResult{
		TotalMinted:  st.TotalMinted,
		TotalRaised:  st.TotalRaised.String(),
		VaultBalance: vault.String(),
		Operator:     crypto.NewAddress(crypto.DropPrefix, operator[:]).String(),
	}
	if st.AuthorityBound {
		result.Authority = crypto.NewAddress(crypto.DropPrefix, st.Authority[:]).String()
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleAuctionPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params auctionPriceParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	if params.Timestamp != nil {
		writeResult(w, req.ID, auctionPriceResult{
			Timestamp: *params.Timestamp,
			Price:     s.node.PriceAt(*params.Timestamp).String(),
		})
		return
	}
	writeResult(w, req.ID, auctionPriceResult{Price: s.node.CurrentPrice().String()})
}

func (s *Server) handleAuctionMintedBy(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params auctionMintedByParams
	if err := unmarshalSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseDropAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	minted, err := s.node.MintedBy(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeAuctionInternal, "failed to load ledger", err.Error())
		return
	}
	writeResult(w, req.ID, auctionMintedByResult{Address: params.Address, Minted: minted})
}

func (s *Server) handleAuctionPurchase(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params auctionPurchaseParams
	if err := unmarshalSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseDropAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	payment, err := parseAmountParam(params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := s.node.Purchase(buyer, params.Amount, payment)
	if err != nil {
		s.metrics.ObservePurchaseRejected()
		writeAuctionError(w, req.ID, err)
		return
	}
	s.metrics.ObservePurchase(receipt.Amount, receipt.Cost)
	writeResult(w, req.ID, auctionPurchaseResult{
		Buyer:        params.Buyer,
		Amount:       receipt.Amount,
		Price:        receipt.Price.String(),
		Cost:         receipt.Cost.String(),
		Refund:       receipt.Refund.String(),
		FirstTokenID: receipt.FirstTokenID,
		LastTokenID:  receipt.FirstTokenID + receipt.Amount - 1,
	})
}

func (s *Server) handleAuctionBindAuthority(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params auctionBindParams
	if err := unmarshalSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseDropAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	authority, err := parseDropAddress(params.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.BindIssuanceAuthority(caller, authority); err != nil {
		writeAuctionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"authority": params.Authority})
}

func (s *Server) handleAuctionWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params auctionWithdrawParams
	if err := unmarshalSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseDropAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.node.WithdrawProceeds(caller)
	if err != nil {
		writeAuctionError(w, req.ID, err)
		return
	}
	operator := s.node.Operator()
	writeResult(w, req.ID, auctionWithdrawResult{
		To:     crypto.NewAddress(crypto.DropPrefix, operator[:]).String(),
		Amount: amount.String(),
	})
}

func writeAuctionError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, auction.ErrNotStarted):
		writeError(w, http.StatusBadRequest, id, codeAuctionNotStarted, "auction not started", nil)
	case errors.Is(err, auction.ErrSupplyCapReached):
		writeError(w, http.StatusConflict, id, codeAuctionCapacity, "supply cap reached", nil)
	case errors.Is(err, auction.ErrBuyerCapReached):
		writeError(w, http.StatusConflict, id, codeAuctionCapacity, "per-buyer cap reached", nil)
	case errors.Is(err, auction.ErrInsufficientPayment):
		writeError(w, http.StatusPaymentRequired, id, codeAuctionPayment, "insufficient payment", nil)
	case errors.Is(err, auction.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeAuctionForbidden, "unauthorized", nil)
	case errors.Is(err, auction.ErrAlreadyBound):
		writeError(w, http.StatusConflict, id, codeAuctionConflict, "issuance authority already bound", nil)
	case errors.Is(err, auction.ErrAuthorityUnbound):
		writeError(w, http.StatusConflict, id, codeAuctionConflict, "issuance authority not bound", nil)
	case errors.Is(err, auction.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, id, codeAuctionInvalidParams, "amount must be positive", nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeAuctionInternal, "purchase failed", err.Error())
	}
}

func unmarshalSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseDropAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return addr, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return addr, err
	}
	copy(addr[:], decoded.Bytes())
	return addr, nil
}

func parseAmountParam(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return value, nil
}
