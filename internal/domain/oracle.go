package domain

// Oracle is an authority account that declares prediction outcomes.
type Oracle struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Owner   string `json:"owner,omitempty"`
}

// OutcomeAssignment records the outcome an oracle declared for a prediction.
type OutcomeAssignment struct {
	Oracle     string `json:"oracle"`
	Prediction string `json:"prediction"`
	OutcomeID  int64  `json:"outcomeId"`
	TxHash     string `json:"transactionHash,omitempty"`
}
