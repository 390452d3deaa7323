package assistant

import (
	"errors"
	"fmt"
	"strings"
)

// Label is the kind of reply the classifier asks for.
type Label string

const (
	LabelMessage  Label = "message"
	LabelGIF      Label = "gif"
	LabelYouTube  Label = "youtube"
	LabelWebsite  Label = "website"
	LabelResearch Label = "research"
)

// Labels lists every valid label.
var Labels = []Label{LabelMessage, LabelGIF, LabelYouTube, LabelWebsite, LabelResearch}

// ErrInvalidLabel is returned when the classifier answers outside the label set.
var ErrInvalidLabel = errors.New("invalid classification label")

// ParseLabel normalises a model answer such as "GIF." or "'YouTube'".
func ParseLabel(raw string) (Label, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, " \t\r\n.,!'\"`*")
	for _, l := range Labels {
		if s == string(l) {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLabel, raw)
}

// SearchKind returns the human phrase used when asking for a search query.
func (l Label) SearchKind() string {
	switch l {
	case LabelGIF:
		return "GIF"
	case LabelYouTube:
		return "YouTube video"
	case LabelWebsite:
		return "website"
	case LabelResearch:
		return "research topic"
	default:
		return string(l)
	}
}
