package models

type Result struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Byline      string   `json:"byline,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
	Text        string   `json:"text"`
	Links       []string `json:"links,omitempty"`
	HTMLHash    string   `json:"html_hash,omitempty"`
	Status      int      `json:"status"`
	RenderMS    int      `json:"render_ms"`
}
