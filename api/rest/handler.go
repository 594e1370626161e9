package rest

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/abcfe/abcfe-wallet/api"
	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/keyring"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/transport"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Origin check stays at the gorilla default: same host or no Origin header.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// get home response
func HomeHandler(w http.ResponseWriter, r *http.Request) {
	info := map[string]string{
		"name":    "ABCFE Wallet Background",
		"version": "1.0.0",
	}
	sendResp(w, http.StatusOK, info, nil)
}

// get keyring status response
func GetStatus(kr *keyring.Keyring, hub *api.Hub, dapp *api.Dapp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := kr.State()
		if err != nil {
			sendResp(w, http.StatusInternalServerError, nil, err)
			return
		}
		mig, err := kr.MigrationStatus()
		if err != nil {
			sendResp(w, http.StatusInternalServerError, nil, err)
			return
		}
		network, err := dapp.Network()
		if err != nil {
			sendResp(w, http.StatusInternalServerError, nil, err)
			return
		}

		sendResp(w, http.StatusOK, StatusResp{
			Keyring:   string(state),
			Migration: string(mig),
			Clients:   hub.GetClientCount(),
			Network:   network.Network,
		}, nil)
	}
}

// get websocket status response
func GetWSStatus(hub *api.Hub, channelName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			sendResp(w, http.StatusInternalServerError, nil, errors.New("channel hub not initialized"))
			return
		}

		status := map[string]interface{}{
			"connected_clients": hub.GetClientCount(),
			"endpoint":          "/port/" + channelName,
		}

		sendResp(w, http.StatusOK, status, nil)
	}
}

// HandlePort upgrades a UI connection on the well-known channel name and
// serves it until it drops.
func HandlePort(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["channel"]
		if name != s.channelName {
			sendResp(w, http.StatusNotFound, nil, prt.ErrNotFound.WithMessage("unknown channel %q", name))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: ", err)
			return
		}

		peer, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			peer = r.RemoteAddr
		}
		ch := transport.NewWSChannel(name, conn)
		go s.backend.Serve(s.ctx, peer, ch)
	}
}

// queue a dapp permission request
func RequestPermission(dapp *api.Dapp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PermissionReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, prt.ErrInvalidRequest.WithMessage("%v", err))
			return
		}

		pr, err := dapp.RequestPermission(req.Origin, req.Favicon, req.Permissions)
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusAccepted, pr, nil)
	}
}

func GetPermission(dapp *api.Dapp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr, err := dapp.Permission(mux.Vars(r)["id"])
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, pr, nil)
	}
}

// queue a dapp transaction for user approval
func RequestTransaction(dapp *api.Dapp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransactionReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, prt.ErrInvalidRequest.WithMessage("%v", err))
			return
		}

		tx, err := dapp.RequestTransaction(req.Origin, req.AccountID, req.Data)
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusAccepted, tx, nil)
	}
}

func GetTransaction(dapp *api.Dapp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tx, err := dapp.Transaction(mux.Vars(r)["id"])
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, tx, nil)
	}
}

// begin an external custodian connection
func BeginConnection(kr *keyring.Keyring) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConnectionReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, prt.ErrInvalidRequest.WithMessage("%v", err))
			return
		}

		info, err := kr.BeginConnection(keyring.ConnectionArgs{
			Service:      req.Service,
			URL:          req.URL,
			Token:        req.Token,
			Counterparty: req.Counterparty,
			Accounts:     req.Accounts,
		})
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusAccepted, info, nil)
	}
}

func GetConnection(kr *keyring.Keyring) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := kr.ConnectionInfo(mux.Vars(r)["id"])
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, info, nil)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, prt.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, prt.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, prt.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, prt.ErrWalletLocked), errors.Is(err, prt.ErrSourceLocked):
		return http.StatusLocked
	case errors.Is(err, prt.ErrInternal):
		return http.StatusInternalServerError
	default:
		var pe *prt.Error
		if errors.As(err, &pe) {
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	}
}

func sendResp(w http.ResponseWriter, statusCode int, data interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := RestResp{
		Success: err == nil,
		Data:    data,
	}

	if err != nil {
		pe := prt.AsError(err)
		response.Error = pe.Error()
		response.Code = string(pe.Code)
	}

	json.NewEncoder(w).Encode(response)
}
