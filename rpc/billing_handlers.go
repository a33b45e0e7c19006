package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"subledger/core/state"
	"subledger/native/billing"
	"subledger/observability/metrics"
)

const (
	codeBillingInvalidParams = -32031
	codeBillingNotFound      = -32032
	codeBillingForbidden     = -32033
	codeBillingConflict      = -32034
	codeBillingTooEarly      = -32035
	codeBillingInternal      = -32036
)

type registerProviderParams struct {
	Caller          string `json:"caller"`
	RegistrationKey string `json:"registrationKey"`
	Fee             string `json:"fee"`
}

type actorParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type registerSubscriberParams struct {
	Caller    string   `json:"caller"`
	Deposit   string   `json:"deposit"`
	Plan      string   `json:"plan"`
	Providers []uint64 `json:"providers"`
}

type depositParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
	Amount string `json:"amount"`
}

type updateFeeParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
	Fee    string `json:"fee"`
}

type setProviderStatesParams struct {
	Caller string   `json:"caller"`
	IDs    []uint64 `json:"ids"`
	States []bool   `json:"states"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type addressParams struct {
	Address string `json:"address"`
}

type providerJSON struct {
	ID              uint64 `json:"id"`
	Active          bool   `json:"active"`
	Balance         string `json:"balance"`
	SubscriberCount uint32 `json:"subscriberCount"`
	Fee             string `json:"fee"`
}

type subscriberJSON struct {
	ID        uint64   `json:"id"`
	Paused    bool     `json:"paused"`
	Balance   string   `json:"balance"`
	Plan      string   `json:"plan"`
	Providers []uint64 `json:"providers"`
}

type rolloverJSON struct {
	Timestamp    int64  `json:"timestamp"`
	Scanned      uint64 `json:"scanned"`
	Settled      uint64 `json:"settled"`
	Paused       uint64 `json:"paused"`
	TotalCharged string `json:"totalCharged"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value string) ([20]byte, error) {
	if !common.IsHexAddress(value) {
		return [20]byte{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parsePlan(value string) (billing.Plan, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "basic":
		return billing.PlanBasic, nil
	case "premium":
		return billing.PlanPremium, nil
	case "vip":
		return billing.PlanVip, nil
	default:
		return 0, fmt.Errorf("invalid plan %q", value)
	}
}

func billingErrorCode(err error) (int, int) {
	switch {
	case errors.Is(err, billing.ErrProviderNotFound),
		errors.Is(err, billing.ErrSubscriberNotFound):
		return http.StatusNotFound, codeBillingNotFound
	case errors.Is(err, billing.ErrUnauthorized):
		return http.StatusForbidden, codeBillingForbidden
	case errors.Is(err, billing.ErrRolloverTooEarly):
		return http.StatusConflict, codeBillingTooEarly
	case errors.Is(err, billing.ErrDuplicateRegistrationKey),
		errors.Is(err, billing.ErrAlreadyPaused),
		errors.Is(err, billing.ErrInsufficientDeposit),
		errors.Is(err, billing.ErrInactiveProvider),
		errors.Is(err, billing.ErrProviderSpaceExhausted),
		errors.Is(err, state.ErrInsufficientFunds):
		return http.StatusConflict, codeBillingConflict
	case errors.Is(err, billing.ErrFeeTooLow),
		errors.Is(err, billing.ErrInvalidProviderSetSize),
		errors.Is(err, billing.ErrInvalidProviderID),
		errors.Is(err, billing.ErrInvalidSubscriberID),
		errors.Is(err, billing.ErrInvalidPlan),
		errors.Is(err, billing.ErrAmountOutOfRange),
		errors.Is(err, billing.ErrArrayLengthMismatch),
		errors.Is(err, billing.ErrMalformedEncoding):
		return http.StatusBadRequest, codeBillingInvalidParams
	default:
		return http.StatusInternalServerError, codeBillingInternal
	}
}

func writeBillingError(w http.ResponseWriter, id interface{}, err error) {
	status, code := billingErrorCode(err)
	writeError(w, status, id, code, err.Error(), nil)
}

func (s *Server) handleRegisterProvider(w http.ResponseWriter, req *RPCRequest) {
	var params registerProviderParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	fee, err := parseAmount(params.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := s.node.RegisterProvider(caller, []byte(params.RegistrationKey), fee)
	if err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	metrics.Billing().ObserveProviderRegistered()
	writeResult(w, req.ID, map[string]uint64{"id": id})
}

func (s *Server) handleRemoveProvider(w http.ResponseWriter, req *RPCRequest) {
	var params actorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.RemoveProvider(caller, params.ID); err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"removed": true})
}

func (s *Server) handleRegisterSubscriber(w http.ResponseWriter, req *RPCRequest) {
	var params registerSubscriberParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	deposit, err := parseAmount(params.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	plan, err := parsePlan(params.Plan)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := s.node.RegisterSubscriber(caller, deposit, plan, params.Providers)
	if err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	metrics.Billing().ObserveSubscriberRegistered()
	writeResult(w, req.ID, map[string]uint64{"id": id})
}

func (s *Server) handlePauseSubscription(w http.ResponseWriter, req *RPCRequest) {
	var params actorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.PauseSubscription(caller, params.ID); err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	metrics.Billing().ObserveSubscriberPaused()
	writeResult(w, req.ID, map[string]bool{"paused": true})
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.Deposit(caller, params.ID, amount); err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"deposited": true})
}

func (s *Server) handleWithdrawEarnings(w http.ResponseWriter, req *RPCRequest) {
	var params actorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := s.node.WithdrawEarnings(caller, params.ID)
	if err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
}

func (s *Server) handleUpdateFee(w http.ResponseWriter, req *RPCRequest) {
	var params updateFeeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	fee, err := parseAmount(params.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.UpdateFee(caller, params.ID, fee); err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleSetProviderStates(w http.ResponseWriter, req *RPCRequest) {
	var params setProviderStatesParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.SetProviderStates(caller, params.IDs, params.States); err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleRollover(w http.ResponseWriter, req *RPCRequest) {
	result, err := s.node.Rollover()
	if err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	metrics.Billing().ObserveRollover(result.Settled, result.Paused, result.Timestamp)
	writeResult(w, req.ID, rolloverJSON{
		Timestamp:    result.Timestamp,
		Scanned:      result.Scanned,
		Settled:      result.Settled,
		Paused:       result.Paused,
		TotalCharged: result.TotalCharged.String(),
	})
}

func (s *Server) handleGetProvider(w http.ResponseWriter, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	provider, fee, err := s.node.GetProvider(params.ID)
	if err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, providerJSON{
		ID:              params.ID,
		Active:          provider.Active,
		Balance:         provider.Balance.String(),
		SubscriberCount: provider.SubscriberCount,
		Fee:             fee.String(),
	})
}

func (s *Server) handleGetSubscriber(w http.ResponseWriter, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	subscriber, providers, err := s.node.GetSubscriber(params.ID)
	if err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, subscriberJSON{
		ID:        params.ID,
		Paused:    subscriber.Paused,
		Balance:   subscriber.Balance.String(),
		Plan:      subscriber.Plan.String(),
		Providers: providers,
	})
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.node.AccountBalance(addr)
	if err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) handleVaultBalance(w http.ResponseWriter, req *RPCRequest) {
	balance, err := s.node.VaultBalance()
	if err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) handleLastRollover(w http.ResponseWriter, req *RPCRequest) {
	ts, err := s.node.LastRollover()
	if err != nil {
		writeBillingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]int64{"timestamp": ts})
}
