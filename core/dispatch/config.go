package dispatch

// Config defines dispatch-related settings.
type Config struct {
	// RedirectBaseURL prefixes the redirect_url sent with a winning accept.
	RedirectBaseURL string `json:"redirect_base_url"`
	// ReofferIntervalSeconds re-broadcasts unaccepted ready orders on this
	// period. Zero disables re-offering; unaccepted orders then wait for a
	// rider, a seller manual assignment, or an admin action.
	ReofferIntervalSeconds int `json:"reoffer_interval_seconds"`
}
