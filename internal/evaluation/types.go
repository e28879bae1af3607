package evaluation

// NodeScore is the out-of-sample likelihood of one terminal node.
type NodeScore struct {
	NodeID    int      `json:"node"`
	Groups    int      `json:"groups"`
	Rankings  int      `json:"rankings"`
	NegLogLik float64  `json:"neg_loglik"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Result is an information criterion for a tree on some data.
type Result struct {
	AIC      float64     `json:"aic"`
	LogLik   float64     `json:"loglik"`
	DF       int         `json:"df"`
	Groups   int         `json:"groups"`
	InSample bool        `json:"in_sample"`
	Nodes    []NodeScore `json:"nodes,omitempty"`
}

// AgreementResult compares the predicted ordering with one observed ranking
type AgreementResult struct {
	Group      int     `json:"group"` // one-based
	Node       int     `json:"node"`
	Weight     float64 `json:"weight"`
	KendallTau float64 `json:"kendall_tau"`
	TopOne     bool    `json:"top_one"`
	NDCG       float64 `json:"ndcg"`
	MRR        float64 `json:"mrr"`
}

// AgreementSummary aggregates agreement across rankings, weighted by
// ranking weight.
type AgreementSummary struct {
	RankingCount   int     `json:"ranking_count"`
	MeanKendallTau float64 `json:"mean_kendall_tau"`
	TopOneAccuracy float64 `json:"top_one_accuracy"`
	MeanNDCG       float64 `json:"mean_ndcg"`
	MeanMRR        float64 `json:"mean_mrr"`
}
