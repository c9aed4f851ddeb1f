package protocol

import (
	"encoding/json"

	"github.com/shubham-shewale/market-alerts/pkg/models"
)

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

const (
	TypeAck    = "ack"
	TypeError  = "error"
	TypeChange = "change"
)

// Tables lists the change-feed tables a client may subscribe to.
var Tables = map[string]bool{
	models.TablePrices:    true,
	models.TableAlerts:    true,
	models.TableWatchlist: true,
}

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

// RequestPayload selects rows of Table by partition key: symbols for prices,
// owner ids for alerts, user ids for watchlists. An empty Table means prices.
type RequestPayload struct {
	Table string   `json:"table,omitempty"`
	Keys  []string `json:"keys"`
}

type WSResponse struct {
	Type    string      `json:"type"`             // "ack", "error", "change"
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ChangeFrame wraps a raw change payload for delivery to clients.
func ChangeFrame(payload string) []byte {
	b, _ := json.Marshal(WSResponse{Type: TypeChange, Data: json.RawMessage(payload)})
	return b
}
