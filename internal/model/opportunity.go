package model

// Opportunity is a simulated, profitable route recorded for persistence.
type Opportunity struct {
	ID         string  `json:"id"`
	DetectedAt string  `json:"detected_at"`
	Block      uint64  `json:"block"`
	BuyPool    string  `json:"buy_pool"`
	SellPool   string  `json:"sell_pool"`
	BuyKind    string  `json:"buy_kind"`
	SellKind   string  `json:"sell_kind"`
	BuyPrice   float64 `json:"buy_price"`
	SellPrice  float64 `json:"sell_price"`
	LoanAmount string  `json:"loan_amount"`
	LoanHuman  string  `json:"loan_human"`
	NetProfit  string  `json:"net_profit"`
	GasPrice   string  `json:"gas_price"`
	DryRun     bool    `json:"dry_run"`
}

// Submission records the outcome of one submission attempt.
type Submission struct {
	OpportunityID string   `json:"opportunity_id"`
	TxHash        string   `json:"tx_hash,omitempty"`
	Nonce         uint64   `json:"nonce"`
	Outcome       string   `json:"outcome"`
	Via           string   `json:"via,omitempty"`
	Block         uint64   `json:"block,omitempty"`
	GasUsed       uint64   `json:"gas_used,omitempty"`
	States        []string `json:"states"`
	Error         string   `json:"error,omitempty"`
	SubmittedAt   string   `json:"submitted_at"`
	FinishedAt    string   `json:"finished_at"`
}
