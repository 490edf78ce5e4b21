package conversation

import (
	"strings"

	"github.com/m-mizutani/mmpersona/pkg/model"
)

const unknownSpeaker = "unknown"

// FormatPinned renders pinned posts in the order given. It returns an empty
// string when there is nothing pinned so the block can be omitted.
func FormatPinned(posts []*model.Post, users model.UserMap) string {
	if len(posts) == 0 {
		return ""
	}

	lines := make([]string, 0, len(posts))
	for _, p := range posts {
		lines = append(lines, "Speaker: "+users.NameOr(p.UserID, unknownSpeaker)+"\n"+p.Message)
	}
	return "Pinned messages:\n" + strings.Join(lines, "\n")
}
