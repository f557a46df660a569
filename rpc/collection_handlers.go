package rpc

import (
	"errors"
	"net/http"

	"dutchdrop/crypto"
	"dutchdrop/native/collection"
)

const (
	codeCollectionInvalidParams = -32051
	codeCollectionNotFound      = -32052
	codeCollectionForbidden     = -32053
	codeCollectionInternal      = -32054
)

type collectionTokenParams struct {
	TokenID uint64 `json:"tokenId"`
}

type collectionSetBaseURIParams struct {
	Caller  string `json:"caller"`
	BaseURI string `json:"baseUri"`
}

type collectionOwnerResult struct {
	TokenID uint64 `json:"tokenId"`
	Owner   string `json:"owner"`
}

type collectionTokenURIResult struct {
	TokenID uint64 `json:"tokenId"`
	URI     string `json:"uri"`
}

func (s *Server) handleCollectionOwnerOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collectionTokenParams
	if err := unmarshalSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCollectionInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := s.node.OwnerOf(params.TokenID)
	if err != nil {
		writeCollectionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, collectionOwnerResult{
		TokenID: params.TokenID,
		Owner:   crypto.NewAddress(crypto.DropPrefix, owner[:]).String(),
	})
}

func (s *Server) handleCollectionTokenURI(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collectionTokenParams
	if err := unmarshalSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCollectionInvalidParams, "invalid_params", err.Error())
		return
	}
	uri, err := s.node.TokenURI(params.TokenID)
	if err != nil {
		writeCollectionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, collectionTokenURIResult{TokenID: params.TokenID, URI: uri})
}

func (s *Server) handleCollectionTotalSupply(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, map[string]uint64{"totalSupply": s.node.CollectionTotalSupply()})
}

func (s *Server) handleCollectionSetBaseURI(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collectionSetBaseURIParams
	if err := unmarshalSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCollectionInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseDropAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCollectionInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SetCollectionBaseURI(caller, params.BaseURI); err != nil {
		writeCollectionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"baseUri": params.BaseURI})
}

func writeCollectionError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, collection.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, id, codeCollectionNotFound, "token not found", nil)
	case errors.Is(err, collection.ErrMissingRole):
		writeError(w, http.StatusForbidden, id, codeCollectionForbidden, "missing role", nil)
	case errors.Is(err, collection.ErrTokenExists):
		writeError(w, http.StatusConflict, id, codeCollectionInternal, "token already exists", nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeCollectionInternal, "collection operation failed", err.Error())
	}
}
