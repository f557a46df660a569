package rpc

import (
	"net/http"
)

const (
	codeBankInvalidParams = -32061
	codeBankInternal      = -32062
)

type bankBalanceParams struct {
	Address string `json:"address"`
}

type bankBalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (s *Server) handleBankBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params bankBalanceParams
	if err := unmarshalSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBankInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseDropAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBankInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeBankInternal, "failed to load balance", err.Error())
		return
	}
	writeResult(w, req.ID, bankBalanceResult{Address: params.Address, Balance: balance.String()})
}
