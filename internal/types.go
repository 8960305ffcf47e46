package internal

// Unit is one logical translatable document section, usually a chapter.
// Units are created during ingestion and immutable afterwards.
type Unit struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Title string `json:"title"`
	Text  string `json:"text"`
}
