package pipeline

// Request is one tagging job. Tid is only used to correlate log lines.
type Request struct {
	Tid   string `json:"tid"`
	Text  string `json:"text"`
	Model string `json:"model"`
}
