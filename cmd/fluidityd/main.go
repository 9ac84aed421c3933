package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fluidity/config"
	"fluidity/core/events"
	"fluidity/native/allocation"
	"fluidity/native/ledger"
	"fluidity/native/liquidation"
	"fluidity/native/pricing"
	"fluidity/native/settlement"
	"fluidity/native/stability"
	"fluidity/native/strategy"
	"fluidity/observability"
	"fluidity/observability/logging"
	"fluidity/state"
	"fluidity/storage"
)

const envVar = "FLUIDITY_ENV"

type engines struct {
	ledger     *ledger.Engine
	allocation *allocation.Engine
	guard      *settlement.Guard
	liqd       *liquidation.Engine
	pool       *stability.Engine
	oracle     *pricing.Feed
}

func main() {
	configFile := flag.String("config", "./fluidity.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))
	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var logger *slog.Logger
	if strings.TrimSpace(cfg.LogFile) != "" {
		logger = logging.SetupWithRotation("fluidityd", env, cfg.LogFile)
	} else {
		logger = logging.Setup("fluidityd", env)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "collateral"))
	if err != nil {
		logger.Error("open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	eng, err := wireEngines(cfg, state.NewStore(db))
	if err != nil {
		logger.Error("wire engines", "err", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/v1/assets/{symbol}", eng.handleAsset)
	router.Get("/v1/assets/{symbol}/allocation", eng.handleAllocation)
	router.Get("/v1/assets/{symbol}/risklist", eng.handleRiskList)
	router.Get("/v1/stability/pool", eng.handleStabilityPool)
	router.Post("/v1/oracle/{symbol}", eng.handlePostPrice)

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runKeeper(stopCtx, logger, eng, cfg)

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
			stop()
		}
	}()

	<-stopCtx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	logger.Info("stopped")
}

// wireEngines builds the full engine graph: ledger custody at the bottom,
// allocation and settlement above it, liquidation and the stability pool on
// top, all sharing one store and one metrics-wrapped emitter.
func wireEngines(cfg *config.Config, store *state.Store) (*engines, error) {
	emitter := observability.NewMetricsEmitter(nil)

	oracle := pricing.NewFeed(cfg.OracleMaxAge())

	ledgerEngine := ledger.NewEngine()
	ledgerEngine.SetState(store)
	ledgerEngine.SetEmitter(emitter)

	adapters := make([]strategy.Adapter, 0, len(cfg.RecallPriority))
	for _, id := range cfg.RecallPriority {
		switch id {
		case "amm":
			adapters = append(adapters, strategy.NewAMMAdapter("amm", 30))
		case "vault":
			adapters = append(adapters, strategy.NewVaultAdapter("vault"))
		case "staking":
			adapters = append(adapters, strategy.NewStakingAdapter("staking", 24*time.Hour))
		default:
			return nil, fmt.Errorf("unknown strategy %q in recall priority", id)
		}
	}

	allocEngine := allocation.NewEngine()
	allocEngine.SetState(store)
	allocEngine.SetLedger(ledgerEngine)
	allocEngine.SetOracle(oracle)
	allocEngine.SetAdapters(adapters)
	allocEngine.SetEmitter(emitter)
	for _, asset := range cfg.Assets {
		err := allocEngine.SetConfig(asset.Symbol, allocation.AllocationConfig{
			ReserveBufferBps:      asset.ReserveBufferBps,
			StrategyBps:           asset.StrategyBps,
			RebalanceThresholdBps: asset.RebalanceThresholdBps,
			MaxUtilizationBps:     asset.MaxUtilizationBps,
		})
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", asset.Symbol, err)
		}
		if err := ledgerEngine.ActivateAsset(asset.Symbol); err != nil {
			return nil, fmt.Errorf("activate %s: %w", asset.Symbol, err)
		}
	}

	guard := settlement.NewGuard(ledgerEngine, allocEngine)

	poolEngine := stability.NewEngine()
	poolEngine.SetState(store)
	poolEngine.SetEmitter(emitter)

	liqEngine := liquidation.NewEngine()
	liqEngine.SetState(store)
	liqEngine.SetLedger(ledgerEngine)
	liqEngine.SetSettlementGuard(guard)
	liqEngine.SetAbsorber(poolEngine)
	liqEngine.SetOracle(oracle)
	liqEngine.SetEmitter(emitter)
	liqEngine.SetModuleAddresses(
		common.HexToAddress(cfg.Liquidation.PoolAddress),
		common.HexToAddress(cfg.Liquidation.RedistributionAddress),
	)
	if err := liqEngine.SetParams(cfg.Liquidation.ThresholdBps, cfg.Liquidation.GasCompBps); err != nil {
		return nil, err
	}

	return &engines{
		ledger:     ledgerEngine,
		allocation: allocEngine,
		guard:      guard,
		liqd:       liqEngine,
		pool:       poolEngine,
		oracle:     oracle,
	}, nil
}

// runKeeper periodically checks drift and rebalances each configured asset.
func runKeeper(ctx context.Context, logger *slog.Logger, eng *engines, cfg *config.Config) {
	ticker := time.NewTicker(cfg.RebalanceInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, asset := range cfg.Assets {
				drifted, err := eng.allocation.ShouldRebalance(asset.Symbol)
				if err != nil {
					logger.Warn("rebalance check", "asset", asset.Symbol, "err", err)
					continue
				}
				if !drifted {
					continue
				}
				if err := eng.allocation.Rebalance(asset.Symbol); err != nil {
					logger.Warn("rebalance", "asset", asset.Symbol, "err", err)
					continue
				}
				logger.Info("rebalanced", "asset", asset.Symbol)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (e *engines) handleAsset(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	account, err := e.ledger.AssetAccountOf(symbol)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	physical, err := e.ledger.PhysicalBalance(symbol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":             account.Asset,
		"logicalCollateral": account.LogicalCollateral.String(),
		"logicalDebt":       account.LogicalDebt.String(),
		"pendingRewards":    account.PendingRewards.String(),
		"physicalBalance":   physical.String(),
		"active":            account.Active,
		"paused":            account.Paused,
	})
}

func (e *engines) handleAllocation(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	record, err := e.allocation.RecordOf(symbol)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	deployed := make(map[string]string, len(record.Deployed))
	for id, amount := range record.Deployed {
		deployed[id] = amount.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":           record.Asset,
		"totalCollateral": record.TotalCollateral.String(),
		"reserveBuffer":   record.ReserveBuffer.String(),
		"deployed":        deployed,
		"lastRebalance":   record.LastRebalance,
	})
}

func (e *engines) handleRiskList(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	list, err := e.liqd.RiskList(symbol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	borrowers := make([]string, 0, len(list))
	for _, addr := range list {
		borrowers = append(borrowers, addr.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": events.NormalizeAsset(symbol), "borrowers": borrowers})
}

func (e *engines) handleStabilityPool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"totalDeposits": e.pool.TotalDeposits().String(),
	})
}

func (e *engines) handlePostPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	var body struct {
		Numerator   string `json:"numerator"`
		Denominator string `json:"denominator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	num, ok := new(big.Int).SetString(body.Numerator, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid numerator"))
		return
	}
	den, ok := new(big.Int).SetString(body.Denominator, 10)
	if !ok || den.Sign() == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid denominator"))
		return
	}
	e.oracle.Post(symbol, new(big.Rat).SetFrac(num, den), time.Now())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
