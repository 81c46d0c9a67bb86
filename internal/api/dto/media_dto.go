package dto

type MediaRequest struct {
	URL      string `form:"url" binding:"required"`
	Type     string `form:"type"`
	Filename string `form:"filename"`
}

type StrategyFailure struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

type ResolveErrorResponse struct {
	Error    string            `json:"error"`
	Failures []StrategyFailure `json:"failures"`
}
