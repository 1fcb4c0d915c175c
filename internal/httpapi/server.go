// Package httpapi exposes the reseller ledger over HTTP for the operations
// dashboard. All balance mutations route through the ledger service; the
// handlers translate payloads and map domain errors to status codes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/remitops/minorista-ledger/pkg/ledger"
	"github.com/remitops/minorista-ledger/pkg/money"
)

// Server hosts the ledger HTTP API.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	service *ledger.Service
	auditor *ledger.Auditor
}

// New wires a Server over the ledger service and auditor.
func New(cfg Config, service *ledger.Service, auditor *ledger.Auditor, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if service == nil || auditor == nil || logger == nil {
		return nil, fmt.Errorf("%w: nil dependency", ledger.ErrInvalidServiceConfig)
	}
	return &Server{cfg: cfg, logger: logger, service: service, auditor: auditor}, nil
}

// Run serves until the context is canceled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("ledger api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the gin engine with all routes registered.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	accounts := api.Group("/accounts/:account_id")
	accounts.GET("", server.handleGetAccount)
	accounts.GET("/entries", server.handleListEntries)
	accounts.GET("/audit", server.handleAudit)
	accounts.PUT("/credit-limit", server.handleAssignCreditLimit)
	accounts.POST("/discharges", server.handleDischarge)
	accounts.POST("/debt-payments", server.handlePayDebt)
	accounts.POST("/adjustments", server.handleAdjustment)

	return router
}

type dischargeRequest struct {
	Amount        string         `json:"amount"`
	ForeignAmount string         `json:"foreign_amount"`
	ExchangeRate  string         `json:"exchange_rate"`
	ProfitRate    string         `json:"profit_rate"`
	Reference     string         `json:"reference"`
	Metadata      map[string]any `json:"metadata"`
}

type paymentRequest struct {
	Amount   string         `json:"amount"`
	Metadata map[string]any `json:"metadata"`
}

type creditLimitRequest struct {
	CreditLimit string `json:"credit_limit"`
}

type adjustmentRequest struct {
	Amount   string         `json:"amount"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata"`
}

func (server *Server) handleDischarge(ctx *gin.Context) {
	accountID, ok := server.accountIDParam(ctx)
	if !ok {
		return
	}
	var request dischargeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := resolveAmount(request.Amount, request.ForeignAmount, request.ExchangeRate)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", err.Error()))
		return
	}
	profitRate := server.cfg.DefaultProfitRate
	if request.ProfitRate != "" {
		if profitRate, err = money.NewRateFromString(request.ProfitRate); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_profit_rate", err.Error()))
			return
		}
	}
	metadata, ok := server.metadataPayload(ctx, request.Metadata)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	result, err := server.service.ApplyDischarge(requestCtx, accountID, amount, profitRate, request.Reference, metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	response := gin.H{
		"account": accountPayloadFrom(result.Account),
		"entry":   entryPayloadFrom(result.Entry),
	}
	if result.ProfitEntry != nil {
		response["profit_entry"] = entryPayloadFrom(*result.ProfitEntry)
	}
	ctx.JSON(http.StatusCreated, response)
}

func (server *Server) handlePayDebt(ctx *gin.Context) {
	accountID, ok := server.accountIDParam(ctx)
	if !ok {
		return
	}
	var request paymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := money.FromString(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", err.Error()))
		return
	}
	metadata, ok := server.metadataPayload(ctx, request.Metadata)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	result, err := server.service.PayDebt(requestCtx, accountID, amount, metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"account":       accountPayloadFrom(result.Account),
		"entry":         entryPayloadFrom(result.Entry),
		"debt_paid":     result.DebtPaid,
		"surplus_added": result.SurplusAdded,
	})
}

func (server *Server) handleAssignCreditLimit(ctx *gin.Context) {
	accountID, ok := server.accountIDParam(ctx)
	if !ok {
		return
	}
	var request creditLimitRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	newLimit, err := money.FromString(request.CreditLimit)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_credit_limit", err.Error()))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	account, err := server.service.AssignCreditLimit(requestCtx, accountID, newLimit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": accountPayloadFrom(account)})
}

func (server *Server) handleAdjustment(ctx *gin.Context) {
	accountID, ok := server.accountIDParam(ctx)
	if !ok {
		return
	}
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := money.FromString(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", err.Error()))
		return
	}
	metadata, ok := server.metadataPayload(ctx, request.Metadata)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	result, err := server.service.RecordAdjustment(requestCtx, accountID, amount, request.Reason, metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"account": accountPayloadFrom(result.Account),
		"entry":   entryPayloadFrom(result.Entry),
	})
}

func (server *Server) handleGetAccount(ctx *gin.Context) {
	accountID, ok := server.accountIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	account, err := server.service.Account(requestCtx, accountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": accountPayloadFrom(account)})
}

func (server *Server) handleListEntries(ctx *gin.Context) {
	accountID, ok := server.accountIDParam(ctx)
	if !ok {
		return
	}
	beforeUnixUTC, err := queryInt64(ctx, "before_unix_utc", time.Now().UTC().Add(time.Second).Unix())
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_query", err.Error()))
		return
	}
	limit, err := queryInt64(ctx, "limit", defaultHistoryLimit)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_query", err.Error()))
		return
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	entries, err := server.service.ListEntries(requestCtx, accountID, beforeUnixUTC, int(limit))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayloadFrom(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (server *Server) handleAudit(ctx *gin.Context) {
	accountID, ok := server.accountIDParam(ctx)
	if !ok {
		return
	}
	fromUnixUTC, err := queryInt64(ctx, "from_unix_utc", 0)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_query", err.Error()))
		return
	}
	toUnixUTC, err := queryInt64(ctx, "to_unix_utc", 0)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_query", err.Error()))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	report, err := server.auditor.AuditAccount(requestCtx, accountID, ledger.AuditOptions{
		FromUnixUTC: fromUnixUTC,
		ToUnixUTC:   toUnixUTC,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"account_id":       report.AccountID.String(),
		"status":           report.Status,
		"entries_replayed": report.EntriesReplayed,
		"calculated": gin.H{
			"available_credit":   report.CalculatedAvailableCredit,
			"balance_in_favor":   report.CalculatedBalanceInFavor,
			"debt":               report.CalculatedDebt,
			"accumulated_profit": report.CalculatedAccumulatedProfit,
		},
		"stored": gin.H{
			"available_credit":   report.StoredAvailableCredit,
			"balance_in_favor":   report.StoredBalanceInFavor,
			"debt":               report.StoredDebt,
			"accumulated_profit": report.StoredAccumulatedProfit,
		},
		"differences": gin.H{
			"available_credit":   report.AvailableCreditDifference,
			"balance_in_favor":   report.BalanceInFavorDifference,
			"accumulated_profit": report.AccumulatedProfitDifference,
		},
		"trace": report.Trace,
	})
}

func (server *Server) accountIDParam(ctx *gin.Context) (ledger.AccountID, bool) {
	accountID, err := ledger.NewAccountID(ctx.Param("account_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_account_id", err.Error()))
		return ledger.AccountID{}, false
	}
	return accountID, true
}

func (server *Server) metadataPayload(ctx *gin.Context, metadata map[string]any) (ledger.MetadataJSON, bool) {
	raw := "{}"
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "metadata must be a JSON object"))
			return ledger.MetadataJSON{}, false
		}
		raw = string(encoded)
	}
	parsed, err := ledger.NewMetadataJSON(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", err.Error()))
		return ledger.MetadataJSON{}, false
	}
	return parsed, true
}

// resolveAmount accepts either a ledger-currency amount or a foreign amount
// with its exchange rate; conversion happens here, never inside the ledger.
func resolveAmount(amount string, foreignAmount string, exchangeRate string) (money.Money, error) {
	if amount != "" {
		return money.FromString(amount)
	}
	if foreignAmount == "" || exchangeRate == "" {
		return money.Money{}, fmt.Errorf("amount, or foreign_amount with exchange_rate, is required")
	}
	foreign, err := decimal.NewFromString(foreignAmount)
	if err != nil {
		return money.Money{}, fmt.Errorf("invalid foreign_amount %q", foreignAmount)
	}
	rate, err := decimal.NewFromString(exchangeRate)
	if err != nil || !rate.IsPositive() {
		return money.Money{}, fmt.Errorf("invalid exchange_rate %q", exchangeRate)
	}
	return money.FromDecimal(foreign.Mul(rate)), nil
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	var insufficiency ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficiency):
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": gin.H{
				"code":        "insufficient_balance",
				"message":     "account cannot absorb the charge",
				"unpaid_debt": insufficiency.UnpaidDebt,
				"total_after": insufficiency.TotalAfter,
			},
		})
	case errors.Is(err, ledger.ErrAccountNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("account_not_found", "unknown account"))
	case errors.Is(err, ledger.ErrAccountExists), errors.Is(err, ledger.ErrConcurrencyConflict):
		ctx.JSON(http.StatusConflict, errorResponse("conflict", "account was modified concurrently, retry"))
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidCreditLimit),
		errors.Is(err, ledger.ErrInvalidReason),
		errors.Is(err, ledger.ErrInvalidAccountID),
		errors.Is(err, ledger.ErrInvalidMetadataJSON),
		errors.Is(err, money.ErrInvalidMoney),
		errors.Is(err, money.ErrInvalidRate):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		server.logger.Error("ledger operation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "operation failed"))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func accountPayloadFrom(account ledger.Account) gin.H {
	return gin.H{
		"account_id":         account.AccountID.String(),
		"credit_limit":       account.CreditLimit,
		"available_credit":   account.AvailableCredit,
		"balance_in_favor":   account.BalanceInFavor,
		"debt":               account.Debt(),
		"total_spendable":    account.TotalSpendable(),
		"accumulated_profit": account.AccumulatedProfit,
		"created_unix_utc":   account.CreatedUnixUTC,
		"updated_unix_utc":   account.UpdatedUnixUTC,
	}
}

func entryPayloadFrom(entry ledger.Entry) gin.H {
	payload := gin.H{
		"entry_id": entry.EntryID,
		"sequence": entry.Sequence,
		"type":     entry.Type.String(),
		"amount":   entry.Amount,
		"snapshot": gin.H{
			"previous_available_credit": entry.Snapshot.PreviousAvailableCredit,
			"available_credit":          entry.Snapshot.AvailableCredit,
			"previous_balance_in_favor": entry.Snapshot.PreviousBalanceInFavor,
			"remaining_balance":         entry.Snapshot.RemainingBalance,
			"balance_in_favor_used":     entry.Snapshot.BalanceInFavorUsed,
			"credit_used":               entry.Snapshot.CreditUsed,
			"profit_earned":             entry.Snapshot.ProfitEarned,
			"credit_limit":              entry.Snapshot.CreditLimit,
			"accumulated_debt":          entry.Snapshot.AccumulatedDebt,
			"accumulated_profit":        entry.Snapshot.AccumulatedProfit,
		},
		"metadata":         json.RawMessage(entry.MetadataJSON.String()),
		"created_unix_utc": entry.CreatedUnixUTC,
	}
	switch detail := entry.Detail.(type) {
	case ledger.DischargeDetail:
		payload["detail"] = gin.H{"reference": detail.Reference, "profit_rate": detail.ProfitRate.String()}
	case ledger.ProfitDetail:
		payload["detail"] = gin.H{"discharge_entry_id": detail.DischargeEntryID}
	case ledger.RechargeDetail:
		payload["detail"] = gin.H{"debt_paid": detail.DebtPaid, "surplus_added": detail.SurplusAdded}
	case ledger.AdjustmentDetail:
		payload["detail"] = gin.H{
			"kind":                  string(detail.Kind),
			"reason":                detail.Reason,
			"previous_credit_limit": detail.PreviousCreditLimit,
			"new_credit_limit":      detail.NewCreditLimit,
		}
	}
	return payload
}

func queryInt64(ctx *gin.Context, name string, fallback int64) (int64, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return value, nil
}
