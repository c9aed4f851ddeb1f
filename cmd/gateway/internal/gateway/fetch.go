package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/market-alerts/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/market-alerts/pkg/models"
)

const fetchTimeout = 5 * time.Second

// FetchHandler serves GET /v1/fetch?table=<t>&keys=<k1,k2>, the full-table
// read a change-feed consumer performs before subscribing.
func FetchHandler(store repository.ChangeStore, validTickers map[string]bool, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		payload := protocol.RequestPayload{Table: r.URL.Query().Get("table")}
		for _, k := range strings.Split(r.URL.Query().Get("keys"), ",") {
			if strings.TrimSpace(k) != "" {
				payload.Keys = append(payload.Keys, k)
			}
		}
		normalizeKeys(&payload)
		if payload.Table == "" {
			payload.Table = models.TablePrices
		}
		if !protocol.Tables[payload.Table] {
			writeError(w, http.StatusBadRequest, "unknown table: "+payload.Table)
			return
		}

		keys := payload.Keys[:0]
		for _, k := range payload.Keys {
			if payload.Table == models.TablePrices && !validTickers[k] {
				continue
			}
			keys = append(keys, k)
		}

		ctx, cancel := context.WithTimeout(r.Context(), fetchTimeout)
		defer cancel()

		rows, err := store.Fetch(ctx, payload.Table, keys)
		if err != nil {
			logger.Error("Fetch failed", zap.String("table", payload.Table), zap.Strings("keys", keys), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "fetch failed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rows); err != nil {
			logger.Warn("Failed to write fetch response", zap.Error(err))
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(protocol.WSResponse{Type: protocol.TypeError, Message: msg})
}
