package model

import (
	"strconv"
	"strings"
)

// Number of recipient names shown before collapsing into "og N andre".
const recipientNamesToDisplay = 3

// ResolveDisplayName produces the human-readable label of a chat for the
// given viewing user. It is a pure function of the explicit name and the
// roster, in stable roster order:
//
//  1. an explicit DisplayName is returned verbatim;
//  2. with more than three other participants, the first names of the
//     first three are joined and the rest is collapsed into
//     "og N andre", where N counts against the full roster;
//  3. with two or three other participants, the first names of the FULL
//     roster are joined, the viewer included. Existing clients rely on
//     this exact labelling, keep it when touching this code;
//  4. with exactly one other participant, their full name is returned;
//  5. a roster without other participants yields an empty string.
func ResolveDisplayName(displayName string, recipients []UserSlim, currentUserID string) string {
	if displayName != "" {
		return displayName
	}

	others := make([]UserSlim, 0, len(recipients))
	for _, r := range recipients {
		if r.ID != currentUserID {
			others = append(others, r)
		}
	}

	switch {
	case len(others) > recipientNamesToDisplay:
		names := make([]string, 0, recipientNamesToDisplay)
		for _, r := range others[:recipientNamesToDisplay] {
			names = append(names, firstName(r.DisplayName))
		}
		remainder := len(recipients) - recipientNamesToDisplay
		return strings.Join(names, ", ") + " og " + strconv.Itoa(remainder) + " andre"
	case len(others) > 1:
		names := make([]string, 0, len(recipients))
		for _, r := range recipients {
			names = append(names, firstName(r.DisplayName))
		}
		return strings.Join(names, ", ")
	case len(others) == 1:
		return others[0].DisplayName
	default:
		return ""
	}
}

func firstName(displayName string) string {
	if i := strings.IndexByte(displayName, ' '); i > 0 {
		return displayName[:i]
	}
	return displayName
}
