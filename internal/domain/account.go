package domain

// AccountState is the strategy- and status-facing view of the ledger.
// Inventory changes only on confirmed fills, never on sent intents.
// PnL is mark-to-market: cash flow plus inventory valued at the last mid.
type AccountState struct {
	Step       int64   `json:"step"`
	Inventory  int64   `json:"inventory"`
	CashFlow   float64 `json:"cash_flow"`
	PnL        float64 `json:"pnl"`
	LastMid    float64 `json:"last_mid"`
	OrdersSent int64   `json:"orders_sent"`
	OpenOrders int     `json:"open_orders"`
	Fills      int64   `json:"fills"`
	Anomalies  int64   `json:"anomalies"`
}
