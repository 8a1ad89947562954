package service

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/zacharyzhang1208/COMP5567-Project/src/ledger"
	"github.com/zacharyzhang1208/COMP5567-Project/src/node"
)

// QRSize is the side, in pixels, of attendance QR codes.
const QRSize = 256

// maxBodySize bounds the request bodies read by the API.
const maxBodySize = 1 << 20

// Service exposes the node façade over HTTP.
type Service struct {
	bindAddress string
	node        *node.Node
	router      *mux.Router
	server      *http.Server
	logger      *logrus.Entry
}

// CreateBlockRequest is the optional body of POST /blocks/create. An empty
// body asks the node to sign the block with its own key.
type CreateBlockRequest struct {
	ValidatorID     string `json:"validatorId"`
	ValidatorPubKey string `json:"validatorPubKey"`
	Signature       string `json:"signature"`
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		router:      mux.NewRouter(),
		logger:      logger.WithField("prefix", "service"),
	}

	service.registerHandlers()

	service.server = &http.Server{
		Addr:              bindAddress,
		Handler:           service.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.router.HandleFunc("/health", s.makeHandler(s.GetHealth)).Methods("GET")
	s.router.HandleFunc("/chain", s.makeHandler(s.GetChain)).Methods("GET")
	s.router.HandleFunc("/pending", s.makeHandler(s.GetPending)).Methods("GET")
	s.router.HandleFunc("/info", s.makeHandler(s.GetInfo)).Methods("GET")
	s.router.HandleFunc("/stats", s.makeHandler(s.GetStats)).Methods("GET")
	s.router.HandleFunc("/transaction", s.makeHandler(s.PostTransaction)).Methods("POST")
	s.router.HandleFunc("/blocks/create", s.makeHandler(s.PostCreateBlock)).Methods("POST")
	s.router.HandleFunc("/attendance/{hash}/qr", s.makeHandler(s.GetAttendanceQR)).Methods("GET")
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the router, for tests and for embedding in another server.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve calls ListenAndServe. This is a blocking call which returns nil once
// Shutdown has been called.
func (s *Service) Serve() error {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Serving API")
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// GetHealth ...
func (s *Service) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetChain returns every block of the chain, genesis first.
func (s *Service) GetChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.GetChainSnapshot())
}

// GetPending returns the pending pool.
func (s *Service) GetPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.GetPendingTransactions())
}

// GetInfo ...
func (s *Service) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.NodeStatus())
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.GetStats())
}

// PostTransaction submits a transaction. A rejection is a 400 whose body
// carries the reason.
func (s *Service) PostTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.badRequest(w, err)
		return
	}

	hash, err := s.node.SubmitTransaction(body)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	s.logger.WithField("hash", hash).Debug("Transaction submitted")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"hash":    hash,
	})
}

// PostCreateBlock packs the pending pool into a block.
func (s *Service) PostCreateBlock(w http.ResponseWriter, r *http.Request) {
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var req CreateBlockRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.badRequest(w, err)
			return
		}
	}

	var block *ledger.Block
	if req.ValidatorPubKey == "" {
		block, err = s.node.CreateSignedBlock()
	} else {
		block, err = s.node.CreateBlock(req.ValidatorID, req.ValidatorPubKey, req.Signature)
	}
	if err != nil {
		s.badRequest(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"block":   block,
	})
}

// GetAttendanceQR renders the verification code of a PUBLISH_ATTENDANCE
// transaction as a PNG QR code.
func (s *Service) GetAttendanceQR(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]

	tx, ok := s.node.GetTransaction(hash)
	if !ok {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}

	publish, ok := tx.Body.(*ledger.PublishAttendance)
	if !ok {
		writeError(w, http.StatusBadRequest, "transaction is not a "+string(ledger.PublishAttendanceTx))
		return
	}

	png, err := qrcode.Encode(publish.VerificationCode, qrcode.Medium, QRSize)
	if err != nil {
		s.logger.WithError(err).Error("Encoding QR code")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (s *Service) badRequest(w http.ResponseWriter, err error) {
	s.logger.WithError(err).Debug("Bad request")
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   reason,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
