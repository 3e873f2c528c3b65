// Package verdict holds the data shapes shared by the classifier, the policy
// and the moderator.
package verdict

import "fmt"

// MediaPlaceholder is logged in place of the text of a media-only message.
const MediaPlaceholder = "[Media message]"

// Verdict is the result of classifying a message or a profile image.
type Verdict struct {
	IsSpam          bool
	IsFake          bool
	Confidence      float64
	Reason          string
	Tags            []string
	SuggestedAction string
}

type Action int

const (
	ActionAllow Action = iota
	ActionDeleteOnly
	ActionDeleteAndWarn
	ActionWarn
	ActionBan
	ActionDeleteAndReport
	ActionClassify
	ActionReport
)

var actionNames = map[Action]string{
	ActionAllow:           "allow",
	ActionDeleteOnly:      "delete_only",
	ActionDeleteAndWarn:   "delete_and_warn",
	ActionWarn:            "warn",
	ActionBan:             "ban",
	ActionDeleteAndReport: "delete_and_report",
	ActionClassify:        "classify",
	ActionReport:          "report",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// LogEntry asks the caller to append the message to the message log.
type LogEntry struct {
	Text   string
	IsSpam bool
}

type Decision struct {
	Action     Action
	Reason     string
	Confidence float64
	Matches    []string
	Log        *LogEntry
}

type JoinDecision struct {
	Restrict            bool
	RequireVerification bool
}
