package memory

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// ADRStatus is the closed enum of architecture-decision-record lifecycle
// states.
type ADRStatus string

const (
	ADRProposed   ADRStatus = "proposed"
	ADRAccepted   ADRStatus = "accepted"
	ADRDeprecated ADRStatus = "deprecated"
	ADRSuperseded ADRStatus = "superseded"
)

// ADR is an ArchitectureDecisionRecord.
type ADR struct {
	ID           string
	Title        string
	Context      string
	Decision     string
	Rationale    string
	Alternatives []string
	Consequences string
	Tags         []string
	Status       ADRStatus
}

// RenderHTML renders the decision and rationale fields (free-form markdown
// authored by the planning collaborator) to HTML for the status snapshot
// surface using goldmark.
func (a ADR) RenderHTML() (decisionHTML, rationaleHTML string, err error) {
	var decBuf, ratBuf bytes.Buffer
	if err := goldmark.Convert([]byte(a.Decision), &decBuf); err != nil {
		return "", "", err
	}
	if err := goldmark.Convert([]byte(a.Rationale), &ratBuf); err != nil {
		return "", "", err
	}
	return decBuf.String(), ratBuf.String(), nil
}
