// Package arxiv implements the rate-limited, cache-backed client for the
// arXiv ATOM API.
//
// DESIGN: Search is the primitive; category sweeps and id batch fetches
// compose it. Every outgoing request passes the rate-limit gate, every
// response is cached by its full parameter tuple. A malformed document
// aborts the call; a malformed entry is logged and skipped.
package arxiv

// Sort modes accepted by the upstream.
type SortBy string

const (
	SortRelevance       SortBy = "relevance"
	SortLastUpdatedDate SortBy = "lastUpdatedDate"
	SortSubmittedDate   SortBy = "submittedDate"
)

// Sort orders accepted by the upstream.
type SortOrder string

const (
	OrderAscending  SortOrder = "ascending"
	OrderDescending SortOrder = "descending"
)

// feed is the root of an arXiv API response. Entry fields resolve against
// the generic Atom namespace and the arXiv extension namespace, both named
// in the struct tags.
type feed struct {
	XMLName struct{} `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []entry  `xml:"entry"`
}

// entry is one paper record on the wire.
type entry struct {
	ID        string     `xml:"id"`
	Title     string     `xml:"title"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	Authors   []author   `xml:"author"`
	Cats      []category `xml:"category"`
	Links     []link     `xml:"link"`

	// arXiv extension fields; all optional.
	DOI        string `xml:"http://arxiv.org/schemas/atom doi"`
	JournalRef string `xml:"http://arxiv.org/schemas/atom journal_ref"`
	Comment    string `xml:"http://arxiv.org/schemas/atom comment"`
}

type author struct {
	Name string `xml:"name"`
}

type category struct {
	Term string `xml:"term,attr"`
}

type link struct {
	Rel   string `xml:"rel,attr"`
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}
